// Package summarize condenses digest item text into short bullet points.
package summarize

// Summary holds the result of summarizing one item's text.
type Summary struct {
	Bullets []string // 1-3 key points
	Links   []string // extracted URLs
}

// Summarizer produces a summary from item text. Implementations never fail:
// a summarizer that cannot do better falls back to rule-based extraction, so
// summarization problems degrade the digest instead of aborting the run.
type Summarizer interface {
	Summarize(text string) Summary
}
