package engine

import (
	"errors"
	"sort"

	"commdigest/internal/digest"
	"commdigest/internal/source"
)

// Assemble merges per-source outcomes into one digest payload. Items are
// fingerprint-deduplicated across sources, ordered by (source, timestamp,
// fingerprint) so identical inputs always produce identical output, and
// capped at maxItems. Failed sources are recorded with their reason instead
// of being dropped.
func Assemble(intervalID string, outcomes map[string]Outcome, maxItems int) digest.Payload {
	p := digest.Payload{
		IntervalID: intervalID,
		Sources:    len(outcomes),
	}

	var items []source.Item
	for _, out := range outcomes {
		if out.Err != nil {
			p.Failures = append(p.Failures, digest.Failure{
				SourceID: out.SourceID,
				Reason:   failureReason(out.Err),
			})
			continue
		}
		items = append(items, out.Detection.NewItems...)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].SourceID != items[j].SourceID {
			return items[i].SourceID < items[j].SourceID
		}
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.Before(items[j].Timestamp)
		}
		return items[i].Fingerprint < items[j].Fingerprint
	})

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.Fingerprint] {
			continue
		}
		seen[item.Fingerprint] = true
		p.Entries = append(p.Entries, digest.Entry{Item: item})
		if maxItems > 0 && len(p.Entries) == maxItems {
			break
		}
	}

	sort.Slice(p.Failures, func(i, j int) bool {
		return p.Failures[i].SourceID < p.Failures[j].SourceID
	})

	return p
}

func failureReason(err error) string {
	var fe *source.FetchError
	if errors.As(err, &fe) {
		return "fetch failed (" + fe.Kind.String() + "): " + fe.Err.Error()
	}
	return err.Error()
}
