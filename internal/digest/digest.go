// Package digest holds the assembled digest payload and its output formats.
package digest

import (
	"fmt"
	"io"

	"commdigest/internal/source"
)

// Entry is one digest line: a new item plus optional summary bullets.
type Entry struct {
	Item    source.Item
	Summary []string
}

// Failure names a source that could not be fetched this run, with the reason.
// Failed sources are always surfaced in the delivered output so that silence
// from a source is never mistaken for "no activity".
type Failure struct {
	SourceID string
	Reason   string
}

// Payload is the assembled digest for one interval. It is immutable after
// assembly; formatters only read it.
type Payload struct {
	IntervalID string
	Entries    []Entry
	Failures   []Failure
	// Sources is the number of configured sources this run covered,
	// successful or not.
	Sources int
	// Names maps source ids to display names for section headings.
	Names map[string]string
}

// DisplayName returns the configured display name for a source, falling back
// to the source id.
func (p Payload) DisplayName(sourceID string) string {
	if name := p.Names[sourceID]; name != "" {
		return name
	}
	return sourceID
}

// Empty reports whether the payload carries no new items.
func (p Payload) Empty() bool {
	return len(p.Entries) == 0
}

// Subject builds the email subject line for a payload.
func Subject(p Payload) string {
	if p.Empty() {
		return fmt.Sprintf("Community Digest — %s (no new activity)", p.IntervalID)
	}
	noun := "updates"
	if len(p.Entries) == 1 {
		noun = "update"
	}
	return fmt.Sprintf("Community Digest — %s (%d %s)", p.IntervalID, len(p.Entries), noun)
}

// Formatter writes a formatted digest to w.
type Formatter interface {
	Format(w io.Writer, p Payload) error
}
