// Package backfill finds chunks without an embedding and drives them
// through the embedding client, persisting each vector as soon as it is
// produced so partial progress survives a mid-run crash.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"docvault/internal/embedding"
	"docvault/internal/models"
	"docvault/internal/store"
)

type State string

const (
	StateIdle            State = "idle"
	StateScanning        State = "scanning"
	StateProcessing      State = "processing"
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
)

// transitions is the full legal transition table. Anything else is a
// programming error.
var transitions = map[State][]State{
	StateIdle:            {StateScanning},
	StateScanning:        {StateProcessing, StateCompleted, StateIdle},
	StateProcessing:      {StateCompleted, StatePartiallyFailed},
	StateCompleted:       {StateIdle},
	StatePartiallyFailed: {StateIdle},
}

const (
	// breakerThreshold aborts the run after this many consecutive attempt
	// failures, instead of hammering a failing endpoint.
	breakerThreshold = 3
	// maxAttempts bounds embedding attempts per chunk within one run.
	maxAttempts = 3
)

// ItemError records one failed embedding attempt.
type ItemError struct {
	ChunkID string
	Err     error
}

// Report is the outcome of one run. Scanned is the snapshot size taken at
// scan time; chunks created after the scan wait for the next run.
type Report struct {
	Scanned   int
	Processed int
	Failed    int
	Remaining int
	Status    State
	Errors    []ItemError
}

type Coordinator struct {
	chunks   store.ChunkStore
	embedder embedding.Client

	concurrency int
	backoff     time.Duration

	mu          sync.Mutex
	state       State
	consecutive int
	tripped     bool
}

type Option func(*Coordinator)

// WithBackoff overrides the base delay between retry attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Coordinator) { c.backoff = d }
}

func New(chunks store.ChunkStore, embedder embedding.Client, concurrency int, opts ...Option) *Coordinator {
	if concurrency <= 0 {
		concurrency = 4
	}
	c := &Coordinator{
		chunks:      chunks,
		embedder:    embedder,
		concurrency: concurrency,
		backoff:     500 * time.Millisecond,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, allowed := range transitions[c.state] {
		if allowed == to {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal backfill transition %s -> %s", c.state, to)
}

// Run performs one backfill pass, optionally scoped to a single document.
// Re-running is idempotent: only chunks still lacking an embedding are
// scanned. Cancellation takes effect between items.
func (c *Coordinator) Run(ctx context.Context, documentID string) (*Report, error) {
	if err := c.transition(StateScanning); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.consecutive = 0
	c.tripped = false
	c.mu.Unlock()

	ids, err := c.chunks.MissingEmbedding(ctx, documentID)
	if err != nil {
		_ = c.transition(StateIdle)
		return nil, fmt.Errorf("scan: %w", err)
	}

	report := &Report{Scanned: len(ids)}
	if len(ids) == 0 {
		report.Status = StateCompleted
		_ = c.transition(StateCompleted)
		_ = c.transition(StateIdle)
		return report, nil
	}

	log.Info().Int("scanned", len(ids)).Str("document_id", documentID).Msg("backfill run started")
	if err := c.transition(StateProcessing); err != nil {
		return nil, err
	}

	var (
		resMu     sync.Mutex
		processed int
		failed    int
		itemErrs  []ItemError
	)

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)

	dispatched := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		c.mu.Lock()
		tripped := c.tripped
		c.mu.Unlock()
		if tripped {
			break
		}

		dispatched++
		id := id
		g.Go(func() error {
			errs, ok := c.processOne(ctx, id)
			resMu.Lock()
			itemErrs = append(itemErrs, errs...)
			if ok {
				processed++
			} else {
				failed++
			}
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Processed = processed
	report.Failed = failed
	report.Remaining = report.Scanned - processed
	report.Errors = itemErrs
	if failed == 0 && dispatched == len(ids) && ctx.Err() == nil {
		report.Status = StateCompleted
		_ = c.transition(StateCompleted)
	} else {
		report.Status = StatePartiallyFailed
		_ = c.transition(StatePartiallyFailed)
	}
	_ = c.transition(StateIdle)

	log.Info().
		Int("processed", report.Processed).
		Int("failed", report.Failed).
		Int("remaining", report.Remaining).
		Str("status", string(report.Status)).
		Msg("backfill run finished")
	return report, nil
}

// processOne embeds a single chunk, retrying retryable failures up to
// maxAttempts, and persists the vector the moment it exists. The returned
// errors list holds one entry per failed attempt.
func (c *Coordinator) processOne(ctx context.Context, chunkID string) ([]ItemError, bool) {
	chunk, err := c.chunks.GetChunk(ctx, chunkID)
	if err != nil {
		c.noteFailure()
		return []ItemError{{ChunkID: chunkID, Err: err}}, false
	}

	var errs []ItemError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		vec, err := c.embedder.Embed(ctx, chunk.Content)
		if err == nil {
			if err := c.chunks.SetEmbedding(ctx, chunkID, vec); err != nil {
				c.noteFailure()
				return append(errs, ItemError{ChunkID: chunkID, Err: err}), false
			}
			c.noteSuccess()
			return errs, true
		}

		errs = append(errs, ItemError{ChunkID: chunkID, Err: err})
		log.Warn().Err(err).Str("chunk_id", chunkID).Int("attempt", attempt).Msg("embedding attempt failed")
		tripped := c.noteFailure()
		if tripped || !models.Retryable(err) || ctx.Err() != nil {
			return errs, false
		}
		if attempt < maxAttempts {
			delay := c.backoff
			if errors.Is(err, models.ErrRateLimited) {
				delay *= time.Duration(attempt + 1)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errs, false
			}
		}
	}
	return errs, false
}

func (c *Coordinator) noteSuccess() {
	c.mu.Lock()
	c.consecutive = 0
	c.mu.Unlock()
}

func (c *Coordinator) noteFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutive++
	if c.consecutive >= breakerThreshold && !c.tripped {
		c.tripped = true
		log.Warn().Int("consecutive", c.consecutive).Msg("backfill circuit breaker tripped")
	}
	return c.tripped
}
