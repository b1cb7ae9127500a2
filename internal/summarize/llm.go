package summarize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	httpTimeout     = 30 * time.Second
	systemPrompt    = "Summarize community activity (meeting minutes, discussion threads) for a weekly digest reader. Focus on decisions made, action items, and open questions. Max 3 bullets. Return only bullet points, one per line, starting with -"
)

// LLMSummarizer sends item text to an OpenAI-compatible API for
// summarization. Falls back to the provided summarizer on any error, so a
// broken or unreachable API degrades the digest to heuristic summaries
// rather than failing the run.
type LLMSummarizer struct {
	apiKey    string
	model     string
	maxTokens int
	endpoint  string
	fallback  Summarizer
	client    *http.Client
}

// NewLLM creates an LLM summarizer with a fallback.
func NewLLM(apiKey, model string, maxTokens int, fallback Summarizer) *LLMSummarizer {
	return &LLMSummarizer{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		endpoint:  defaultEndpoint,
		fallback:  fallback,
		client:    &http.Client{Timeout: httpTimeout},
	}
}

// Summarize calls the LLM API and parses the response into bullets. Links
// are extracted heuristically. On any error, falls back.
func (l *LLMSummarizer) Summarize(text string) Summary {
	bullets, err := l.callAPI(text)
	if err != nil || len(bullets) == 0 {
		return l.fallback.Summarize(text)
	}

	return Summary{
		Bullets: bullets,
		Links:   urlRe.FindAllString(text, -1),
	}
}

func (l *LLMSummarizer) callAPI(text string) ([]string, error) {
	reqBody := chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens: l.maxTokens,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	return parseBullets(chatResp.Choices[0].Message.Content), nil
}

// parseBullets extracts lines starting with "-" from LLM output.
func parseBullets(content string) []string {
	var bullets []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			bullets = append(bullets, strings.TrimPrefix(line, "- "))
		} else if strings.HasPrefix(line, "-") {
			bullets = append(bullets, strings.TrimPrefix(line, "-"))
		}
	}
	return bullets
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}
