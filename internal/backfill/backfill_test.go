package backfill

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/models"
	"docvault/internal/store/memory"
)

const dims = 4

// fakeEmbedder plays back a script of outcomes per chunk text: each entry
// is the error for one attempt, nil meaning success.
type fakeEmbedder struct {
	mu     sync.Mutex
	script map[string][]error
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if outcomes := f.script[text]; len(outcomes) > 0 {
		err := outcomes[0]
		f.script[text] = outcomes[1:]
		if err != nil {
			return nil, err
		}
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return dims }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seed(t *testing.T, s *memory.Store, docID string, contents ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		ID: docID, UserID: "u1", Name: docID, Category: models.CategoryOther,
		MimeType: "text/plain", UploadedAt: time.Now(),
	}))
	chunks := make([]models.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = models.Chunk{
			ID:         fmt.Sprintf("%s-c%d", docID, i),
			DocumentID: docID,
			Index:      i,
			Content:    c,
			CreatedAt:  time.Now(),
		}
	}
	require.NoError(t, s.CreateChunks(ctx, chunks))
}

func newCoordinator(s *memory.Store, f *fakeEmbedder, concurrency int) *Coordinator {
	return New(s, f, concurrency, WithBackoff(time.Millisecond))
}

func TestRun_AllSucceed(t *testing.T) {
	s, err := memory.New(dims)
	require.NoError(t, err)
	seed(t, s, "d1", "one", "two", "three")

	c := newCoordinator(s, &fakeEmbedder{}, 2)
	report, err := c.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Remaining)
	assert.Equal(t, StateCompleted, report.Status)
	assert.Equal(t, StateIdle, c.State())
}

func TestRun_SecondRunScansNothing(t *testing.T) {
	s, err := memory.New(dims)
	require.NoError(t, err)
	seed(t, s, "d1", "one", "two")

	c := newCoordinator(s, &fakeEmbedder{}, 1)
	_, err = c.Run(context.Background(), "")
	require.NoError(t, err)

	report, err := c.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, StateCompleted, report.Status)
}

func TestRun_PartialFailureAccounting(t *testing.T) {
	s, err := memory.New(dims)
	require.NoError(t, err)
	seed(t, s, "d1", "one", "two", "three")

	f := &fakeEmbedder{script: map[string][]error{
		// Chunk 0 recovers after two retryable failures; chunk 2 never does.
		"one":   {models.ErrEndpointUnavailable, models.ErrEndpointUnavailable, nil},
		"three": {models.ErrRateLimited, models.ErrRateLimited, models.ErrRateLimited},
	}}
	c := newCoordinator(s, f, 1)

	report, err := c.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Remaining)
	assert.Equal(t, StatePartiallyFailed, report.Status)
	assert.NotEmpty(t, report.Errors)

	ctx := context.Background()
	missing, err := s.MissingEmbedding(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1-c2"}, missing)
}

func TestRun_CircuitBreakerStopsRun(t *testing.T) {
	s, err := memory.New(dims)
	require.NoError(t, err)
	seed(t, s, "d1", "a", "b", "c", "d", "e")

	f := &fakeEmbedder{script: map[string][]error{
		"a": {models.ErrEndpointUnavailable, models.ErrEndpointUnavailable, models.ErrEndpointUnavailable},
	}}
	c := newCoordinator(s, f, 1)

	report, err := c.Run(context.Background(), "")
	require.NoError(t, err)

	// Three consecutive failures trip the breaker; the other four chunks
	// are never attempted.
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 5, report.Remaining)
	assert.Equal(t, StatePartiallyFailed, report.Status)
	assert.Equal(t, 3, f.callCount())
}

func TestRun_NonRetryableNotRetried(t *testing.T) {
	s, err := memory.New(dims)
	require.NoError(t, err)
	seed(t, s, "d1", "bad", "good")

	f := &fakeEmbedder{script: map[string][]error{
		"bad": {models.ErrInvalidInput},
	}}
	c := newCoordinator(s, f, 1)

	report, err := c.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	// One attempt for the invalid chunk, one for the good one.
	assert.Equal(t, 2, f.callCount())
}

func TestRun_DimensionMismatchSurfaces(t *testing.T) {
	// Store configured narrower than the model output: every write is a
	// migration-in-progress signal, not a transient failure.
	s, err := memory.New(2)
	require.NoError(t, err)
	seed(t, s, "d1", "one")

	c := newCoordinator(s, &fakeEmbedder{}, 1)
	report, err := c.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.NotEmpty(t, report.Errors)
	assert.ErrorIs(t, report.Errors[0].Err, models.ErrDimensionMismatch)
}

func TestRun_CancelledBeforeDispatch(t *testing.T) {
	s, err := memory.New(dims)
	require.NoError(t, err)
	seed(t, s, "d1", "one", "two")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newCoordinator(s, &fakeEmbedder{}, 1)
	report, err := c.Run(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 2, report.Remaining)
	assert.Equal(t, StatePartiallyFailed, report.Status)
	assert.Equal(t, StateIdle, c.State())
}

func TestRun_ScopedToDocument(t *testing.T) {
	s, err := memory.New(dims)
	require.NoError(t, err)
	seed(t, s, "d1", "one")
	seed(t, s, "d2", "two")

	c := newCoordinator(s, &fakeEmbedder{}, 1)
	report, err := c.Run(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)

	missing, err := s.MissingEmbedding(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2-c0"}, missing)
}
