// Package source defines the fetch adapter contract and its implementations
// for the two supported source types: wiki-style pages and chat channels.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Type tags the kind of a configured source. The set is closed; dispatch
// happens on this tag when sources are built from configuration.
type Type string

const (
	TypePage    Type = "page"
	TypeChannel Type = "channel"
)

// Item is one discrete unit of activity: a page revision or a chat thread.
// Items are created fresh on every fetch and are never mutated.
type Item struct {
	SourceID    string
	Fingerprint string // content hash, used for dedup across runs and sources
	Title       string
	Body        string
	URL         string
	Timestamp   time.Time
}

// Result is a successful fetch: the items currently visible at the source
// plus an opaque version marker for cheap "anything changed" checks.
type Result struct {
	Items         []Item
	VersionMarker string
}

// Source fetches current activity from one configured endpoint. Fetch must be
// safe to call repeatedly: reads only, no side effects on the remote system.
type Source interface {
	// ID returns the stable source identifier from configuration.
	ID() string

	// Type returns the source type tag.
	Type() Type

	// Fetch retrieves current items and a version marker.
	Fetch(ctx context.Context) (Result, error)
}

// ErrKind classifies a fetch failure for retry handling.
type ErrKind int

const (
	// KindRetryable covers timeouts, rate limits, and transient server errors.
	KindRetryable ErrKind = iota
	// KindPermanent covers auth failures and malformed responses; retrying
	// within the same run will not help.
	KindPermanent
)

func (k ErrKind) String() string {
	if k == KindRetryable {
		return "retryable"
	}
	return "permanent"
}

// FetchError is a classified fetch failure from one source.
type FetchError struct {
	SourceID string
	Kind     ErrKind
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch failed (%s): %v", e.SourceID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func retryableErr(sourceID string, err error) error {
	return &FetchError{SourceID: sourceID, Kind: KindRetryable, Err: err}
}

func permanentErr(sourceID string, err error) error {
	return &FetchError{SourceID: sourceID, Kind: KindPermanent, Err: err}
}

// Retryable reports whether a fetch failure is worth retrying within the
// current run. Classified errors carry their kind; for anything else,
// timeouts and transient transport failures count as retryable and the rest
// as permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == KindRetryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	s := err.Error()
	if strings.Contains(s, "timeout") || strings.Contains(s, "Timeout") {
		return true
	}
	if strings.Contains(s, "connection refused") || strings.Contains(s, "connection reset") || strings.Contains(s, "no such host") {
		return true
	}
	return false
}

// Fingerprint hashes the given parts into a stable content fingerprint.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
