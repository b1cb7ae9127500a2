package engine

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"commdigest/internal/delivery"
	"commdigest/internal/digest"
	"commdigest/internal/source"
	"commdigest/internal/state"
	"commdigest/internal/summarize"
)

// Store is the persistence surface the runner needs: per-source state reads
// for detection plus the interval record that guards delivery.
type Store interface {
	StateReader
	IntervalStatusFor(ctx context.Context, intervalID string) (state.IntervalStatus, error)
	EnsureInterval(ctx context.Context, intervalID string) error
	CommitRun(ctx context.Context, intervalID string, deliveredAt time.Time, states []state.SourceState) error
}

// Report summarizes one engine invocation.
type Report struct {
	IntervalID       string
	AlreadyDelivered bool
	NewItems         int
	FailedSources    int
	MessageID        string
	Elapsed          time.Duration
}

// Runner drives one digest run for one interval: fetch, detect, assemble,
// summarize, deliver, commit. The interval record makes the whole pipeline
// idempotent per interval: a rerun after successful delivery is a no-op, a
// rerun after any failure replays from scratch.
type Runner struct {
	Store       Store
	Sources     []source.Source
	Coordinator *Coordinator
	Summarizer  summarize.Summarizer // nil disables summarization
	Deliverer   delivery.Deliverer

	Sender     string
	Recipients []string
	MaxItems   int
	Budget     time.Duration // wall-clock budget for the fetch phase, 0 = none
	Location   *time.Location

	// SourceNames maps source ids to display names for digest headings.
	SourceNames map[string]string

	// now is the clock, replaceable in tests.
	Now func() time.Time
}

// Run executes the pipeline for intervalID. An empty intervalID selects the
// current date in the runner's timezone. Nothing is persisted unless
// delivery succeeds; on delivery failure the interval stays pending and the
// next invocation replays the run from scratch.
func (r *Runner) Run(ctx context.Context, intervalID string) (Report, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	start := now()

	if intervalID == "" {
		loc := r.Location
		if loc == nil {
			loc = time.UTC
		}
		intervalID = start.In(loc).Format("2006-01-02")
	}

	report := Report{IntervalID: intervalID}

	status, err := r.Store.IntervalStatusFor(ctx, intervalID)
	if err != nil {
		return report, fmt.Errorf("check interval: %w", err)
	}
	if status == state.StatusDelivered {
		// Already delivered: succeed without re-fetching or re-sending.
		report.AlreadyDelivered = true
		return report, nil
	}

	if err := r.Store.EnsureInterval(ctx, intervalID); err != nil {
		return report, fmt.Errorf("record interval: %w", err)
	}

	fetchCtx := ctx
	if r.Budget > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.Budget)
		defer cancel()
	}

	outcomes, err := r.Coordinator.Run(fetchCtx, r.Sources)
	if err != nil {
		return report, fmt.Errorf("run sources: %w", err)
	}

	payload := Assemble(intervalID, outcomes, r.MaxItems)
	payload.Names = r.SourceNames
	report.NewItems = len(payload.Entries)
	report.FailedSources = len(payload.Failures)

	if r.Summarizer != nil {
		for i := range payload.Entries {
			if payload.Entries[i].Item.Body == "" {
				continue
			}
			payload.Entries[i].Summary = r.Summarizer.Summarize(payload.Entries[i].Item.Body).Bullets
		}
	}

	email, err := r.renderEmail(payload, start)
	if err != nil {
		return report, err
	}

	// Delivery runs on the parent context: the fetch budget must not cut
	// off a send that is already in flight.
	msgID, err := r.Deliverer.Deliver(ctx, email)
	if err != nil {
		return report, fmt.Errorf("deliver digest: %w", err)
	}
	report.MessageID = msgID

	delivered := make(map[string]bool, len(payload.Entries))
	for _, e := range payload.Entries {
		delivered[e.Item.Fingerprint] = true
	}

	states := make([]state.SourceState, 0, len(outcomes))
	for _, out := range outcomes {
		if out.Err != nil {
			// Failed sources keep their prior state untouched so the
			// missed items surface in a later digest.
			continue
		}
		states = append(states, trimUndelivered(out.Detection, delivered))
	}

	if err := r.Store.CommitRun(ctx, intervalID, now().UTC(), states); err != nil {
		return report, fmt.Errorf("commit run: %w", err)
	}

	report.Elapsed = now().Sub(start)
	return report, nil
}

// trimUndelivered drops the fingerprints of detected items that were capped
// out of the digest, so they are redetected and delivered next run instead of
// being silently lost. The version marker is cleared in that case: a marker
// match would otherwise skip the redetection.
func trimUndelivered(det *Detection, delivered map[string]bool) state.SourceState {
	st := det.State

	undelivered := make(map[string]bool)
	for _, item := range det.NewItems {
		if !delivered[item.Fingerprint] {
			undelivered[item.Fingerprint] = true
		}
	}
	if len(undelivered) == 0 {
		return st
	}

	kept := make([]string, 0, len(st.Fingerprints))
	for _, fp := range st.Fingerprints {
		if !undelivered[fp] {
			kept = append(kept, fp)
		}
	}
	st.Fingerprints = kept
	st.VersionMarker = ""
	return st
}

func (r *Runner) renderEmail(payload digest.Payload, now time.Time) (delivery.Email, error) {
	text := &digest.TextFormatter{Now: now}
	html := &digest.HTMLFormatter{Now: now}

	var textBuf, htmlBuf bytes.Buffer
	if err := text.Format(&textBuf, payload); err != nil {
		return delivery.Email{}, fmt.Errorf("render text digest: %w", err)
	}
	if err := html.Format(&htmlBuf, payload); err != nil {
		return delivery.Email{}, fmt.Errorf("render html digest: %w", err)
	}

	return delivery.Email{
		From:      r.Sender,
		To:        r.Recipients,
		Subject:   digest.Subject(payload),
		TextBody:  textBuf.String(),
		HTMLBody:  htmlBuf.String(),
		ItemCount: len(payload.Entries),
	}, nil
}
