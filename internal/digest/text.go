package digest

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// TextFormatter renders a digest as plain text, suitable for the email text
// body and the preview command.
type TextFormatter struct {
	// Now anchors relative timestamps. Zero means time.Now at format time.
	Now time.Time
}

// NewText creates a plain text formatter.
func NewText() *TextFormatter {
	return &TextFormatter{}
}

// Format writes the digest as plain text to w.
func (f *TextFormatter) Format(w io.Writer, p Payload) error {
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}

	fmt.Fprintf(w, "Community Digest — %s\n", p.IntervalID)
	fmt.Fprintf(w, "%d new items across %d sources\n\n", len(p.Entries), p.Sources)

	if p.Empty() {
		fmt.Fprintln(w, "No new activity since the last digest.")
	}

	lastSource := ""
	for _, e := range p.Entries {
		if e.Item.SourceID != lastSource {
			if lastSource != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "== %s ==\n", p.DisplayName(e.Item.SourceID))
			lastSource = e.Item.SourceID
		}

		fmt.Fprintf(w, "* %s (%s)\n", e.Item.Title, humanize.RelTime(e.Item.Timestamp, now, "ago", "from now"))
		for _, bullet := range e.Summary {
			fmt.Fprintf(w, "  - %s\n", bullet)
		}
		if len(e.Summary) == 0 && e.Item.Body != "" {
			fmt.Fprintf(w, "  %s\n", e.Item.Body)
		}
		if e.Item.URL != "" {
			fmt.Fprintf(w, "  %s\n", e.Item.URL)
		}
	}

	if len(p.Failures) > 0 {
		fmt.Fprintf(w, "\nSources that could not be checked this run:\n")
		for _, fail := range p.Failures {
			fmt.Fprintf(w, "- %s: %s\n", fail.SourceID, fail.Reason)
		}
	}

	return nil
}
