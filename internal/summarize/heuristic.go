package summarize

import (
	"fmt"
	"regexp"
	"strings"
)

var urlRe = regexp.MustCompile(`https?://\S+`)

const (
	maxBullets       = 3
	maxFirstSentence = 140
)

// Meeting minutes and chat threads tend to bury outcomes mid-text; sentences
// carrying these words are usually the ones worth surfacing.
var outcomeKeywords = []string{"decision", "decided", "action item", "motion", "vote", "approved", "ballot", "resolved"}

// HeuristicSummarizer summarizes text using rule-based extraction.
type HeuristicSummarizer struct{}

// Summarize extracts key points and URLs from text.
func (h *HeuristicSummarizer) Summarize(text string) Summary {
	text = strings.TrimSpace(text)

	links := urlRe.FindAllString(text, -1)

	var bullets []string

	first := firstSentence(text, maxFirstSentence)
	if first == "" {
		first = "(no content)"
	}
	bullets = append(bullets, first)

	if sent := findSentenceContaining(text, outcomeKeywords); sent != "" && sent != first {
		bullets = append(bullets, sent)
	}

	if len(bullets) < maxBullets && len(links) > 2 {
		bullets = append(bullets, fmt.Sprintf("%d links included", len(links)))
	}

	if len(bullets) > maxBullets {
		bullets = bullets[:maxBullets]
	}

	return Summary{Bullets: bullets, Links: links}
}

// firstSentence returns text up to the first sentence boundary, capped at maxLen.
func firstSentence(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	end := len(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 && idx < end {
		end = idx
	}

	for i := 0; i < end-1; i++ {
		if text[i] == '.' && (text[i+1] == ' ' || text[i+1] == '\n') {
			end = i + 1
			break
		}
	}
	if end > maxLen {
		if idx := strings.LastIndexByte(text[:maxLen], ' '); idx > 0 {
			return text[:idx] + "..."
		}
		return text[:maxLen] + "..."
	}

	return strings.TrimSpace(text[:end])
}

// findSentenceContaining returns the first sentence that contains any keyword.
func findSentenceContaining(text string, keywords []string) string {
	for _, sent := range splitSentences(text) {
		sentLower := strings.ToLower(sent)
		for _, kw := range keywords {
			if strings.Contains(sentLower, kw) {
				s := strings.TrimSpace(sent)
				if len(s) > maxFirstSentence {
					s = s[:maxFirstSentence] + "..."
				}
				return s
			}
		}
	}
	return ""
}

// splitSentences splits text into sentences by ". " or newline boundaries.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(text); i++ {
		current.WriteByte(text[i])

		if text[i] == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
			continue
		}

		if text[i] == '.' && i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n') {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
			continue
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}
