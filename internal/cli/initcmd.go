package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"commdigest/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config file",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if !wrote {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
		return nil
	}
	fmt.Printf("Initialized %s.\n", configDir)
	fmt.Println("Set DIGEST_CHAT_EMAIL and DIGEST_CHAT_API_KEY for channel sources.")
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# commdigest configuration

sources:
  - id: wiki-patient-care
    type: page
    name: "Patient Care WG"
    url: "https://wiki.example.org/display/PC/Meeting+Minutes"
    # feed: "https://wiki.example.org/createrssfeed.action?pageId=123"
  - id: chat-implementers
    type: channel
    name: "Implementers"
    site: "https://chat.example.org"
    stream: "implementers"
    stream_id: 179

storage:
  path: .commdigest/commdigest.db

engine:
  concurrency: 4
  retry_attempts: 3
  retry_backoff: 2s
  run_budget: 5m
  fingerprint_window: 500
  lookback: 168h

digest:
  timezone: "America/New_York"
  max_items: 50

summarize:
  mode: heuristic
  # llm:
  #   model: gpt-4o-mini
  #   max_tokens_per_item: 150

delivery:
  sender: "digest@example.org"
  recipients:
    - "team@example.org"
  region: us-east-1
  skip_empty: true
`
