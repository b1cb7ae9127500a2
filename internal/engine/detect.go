// Package engine implements the digest pipeline: change detection across
// runs, fan-out fetching with per-source failure isolation, deterministic
// digest assembly, and at-most-once delivery per interval.
package engine

import (
	"time"

	"commdigest/internal/source"
	"commdigest/internal/state"
)

// Detection is the result of comparing one fetch against prior state: the
// items not seen before and the updated state to persist if the run commits.
type Detection struct {
	NewItems []source.Item
	State    state.SourceState
}

// Detect computes which fetched items are new for a source. An item is new
// iff its fingerprint is absent from the prior fingerprint window. A nil
// prior means the source's first run: every item is new by definition.
//
// When the fetch's version marker equals the prior marker the comparison is
// skipped entirely; this is an optimization only, and detection stays correct
// when markers are missing or stale.
func Detect(sourceID string, res source.Result, prior *state.SourceState, window int, now time.Time) Detection {
	if prior != nil && res.VersionMarker != "" && res.VersionMarker == prior.VersionMarker {
		return Detection{State: *prior}
	}

	updated := state.SourceState{SourceID: sourceID, UpdatedAt: now}
	if prior != nil {
		updated.Fingerprints = append(updated.Fingerprints, prior.Fingerprints...)
	}
	updated.VersionMarker = res.VersionMarker

	var newItems []source.Item
	seenThisFetch := make(map[string]bool)
	var newFPs []string

	for _, item := range res.Items {
		if seenThisFetch[item.Fingerprint] {
			continue
		}
		seenThisFetch[item.Fingerprint] = true

		if prior.Seen(item.Fingerprint) {
			continue
		}
		newItems = append(newItems, item)
		newFPs = append(newFPs, item.Fingerprint)
	}

	updated.Append(newFPs, window)

	return Detection{NewItems: newItems, State: updated}
}
