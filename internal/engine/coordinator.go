package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"commdigest/internal/source"
	"commdigest/internal/state"
)

const (
	defaultConcurrency = 4
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
)

// Outcome is the per-source result of one run: a successful detection or a
// classified failure. Exactly one of Detection and Err is set.
type Outcome struct {
	SourceID  string
	Detection *Detection
	Err       error
	Attempts  int
}

// StateReader is the subset of the state store the coordinator needs.
type StateReader interface {
	GetSourceState(ctx context.Context, sourceID string) (*state.SourceState, error)
}

// Coordinator fans fetch+detect out across all configured sources with a
// bounded worker pool and joins every outcome before returning. One source's
// failure never aborts the others; the merged result is independent of
// execution order.
type Coordinator struct {
	States      StateReader
	Concurrency int
	MaxAttempts int           // fetch attempts per source, retryable failures only
	Backoff     time.Duration // base backoff, doubled per retry
	Window      int           // fingerprint window size per source

	// sleep is the backoff delay function, replaceable in tests.
	sleep func(time.Duration)

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewCoordinator creates a coordinator reading prior state from states.
func NewCoordinator(states StateReader, concurrency, maxAttempts int, backoff time.Duration, window int) *Coordinator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Coordinator{
		States:      states,
		Concurrency: concurrency,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Window:      window,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// Run processes every source and returns the full outcome set, keyed by
// source id. It returns an error only for faults that must abort the whole
// run, such as corrupted persisted state.
func (c *Coordinator) Run(ctx context.Context, sources []source.Source) (map[string]Outcome, error) {
	if len(sources) == 0 {
		return nil, errors.New("no sources configured")
	}

	jobs := make(chan source.Source, len(sources))
	results := make(chan Outcome, len(sources))

	workers := c.Concurrency
	if len(sources) < workers {
		workers = len(sources)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				results <- c.process(ctx, src)
			}
		}()
	}

	for _, src := range sources {
		jobs <- src
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make(map[string]Outcome, len(sources))
	for out := range results {
		outcomes[out.SourceID] = out
	}

	// Corrupted state is fatal to the run: continuing risks re-sending
	// already-seen content or losing track of what was delivered.
	for _, out := range outcomes {
		if errors.Is(out.Err, state.ErrStateCorrupted) {
			return nil, out.Err
		}
	}

	return outcomes, nil
}

func (c *Coordinator) process(ctx context.Context, src source.Source) Outcome {
	out := Outcome{SourceID: src.ID()}

	prior, err := c.States.GetSourceState(ctx, src.ID())
	if err != nil {
		out.Err = err
		return out
	}

	res, attempts, err := c.fetchWithRetry(ctx, src)
	out.Attempts = attempts
	if err != nil {
		out.Err = err
		return out
	}

	det := Detect(src.ID(), res, prior, c.Window, c.now().UTC())
	out.Detection = &det
	return out
}

// fetchWithRetry retries retryable fetch failures with exponential backoff.
// A run-budget expiry surfaces as the last fetch error, same as a timeout.
func (c *Coordinator) fetchWithRetry(ctx context.Context, src source.Source) (source.Result, int, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		attempts++
		res, err := src.Fetch(ctx)
		if err == nil {
			return res, attempts, nil
		}
		lastErr = err

		if !source.Retryable(err) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < c.MaxAttempts-1 {
			c.sleep(c.Backoff << uint(attempt))
		}
	}

	return source.Result{}, attempts, lastErr
}
