package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/models"
	"docvault/internal/store"
)

const dims = 4

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(dims)
	require.NoError(t, err)
	return s
}

func seedDocument(t *testing.T, s *Store, docID string, contents ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		ID:         docID,
		UserID:     "u1",
		Name:       docID + ".txt",
		Category:   models.CategoryOther,
		MimeType:   "text/plain",
		UploadedAt: time.Now(),
	}))
	chunks := make([]models.Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = models.Chunk{
			ID:         docID + "-c" + string(rune('0'+i)),
			DocumentID: docID,
			Index:      i,
			Content:    content,
			CreatedAt:  time.Now(),
		}
	}
	require.NoError(t, s.CreateChunks(ctx, chunks))
}

func TestSetEmbedding_DimensionMismatch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1", "alpha")

	err := s.SetEmbedding(ctx, "d1-c0", []float32{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	// A prior valid vector must survive a later bad write.
	require.NoError(t, s.SetEmbedding(ctx, "d1-c0", []float32{1, 0, 0, 0}))
	err = s.SetEmbedding(ctx, "d1-c0", []float32{})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	chunk, err := s.GetChunk(ctx, "d1-c0")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, chunk.Embedding)
}

func TestMissingEmbedding(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1", "alpha", "beta", "gamma")

	ids, err := s.MissingEmbedding(ctx, "")
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	require.NoError(t, s.SetEmbedding(ctx, "d1-c1", []float32{0, 1, 0, 0}))
	ids, err = s.MissingEmbedding(ctx, "d1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1-c0", "d1-c2"}, ids)
}

func TestSearch_ExcludesUnembedded(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1", "alpha", "beta")
	require.NoError(t, s.SetEmbedding(ctx, "d1-c0", []float32{1, 0, 0, 0}))

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, store.SearchOptions{TopK: 10})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d1-c0", matches[0].ChunkID)
}

func TestSearch_MinSimilarityBeforeTopK(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1", "a", "b", "c")
	require.NoError(t, s.SetEmbedding(ctx, "d1-c0", []float32{1, 0, 0, 0}))
	require.NoError(t, s.SetEmbedding(ctx, "d1-c1", []float32{0, 1, 0, 0}))
	require.NoError(t, s.SetEmbedding(ctx, "d1-c2", []float32{0.9, 0.1, 0, 0}))

	// The orthogonal chunk falls below the threshold, so TopK=2 picks the
	// two aligned ones rather than truncating first.
	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, store.SearchOptions{TopK: 2, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "d1-c0", matches[0].ChunkID)
	assert.Equal(t, "d1-c2", matches[1].ChunkID)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Similarity, 0.5)
	}
}

func TestSearch_OrderAndTieBreak(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1", "a", "b", "c")
	// Chunks 1 and 2 get identical vectors: the tie must break on the
	// lower chunk index.
	require.NoError(t, s.SetEmbedding(ctx, "d1-c2", []float32{0, 1, 0, 0}))
	require.NoError(t, s.SetEmbedding(ctx, "d1-c1", []float32{0, 1, 0, 0}))
	require.NoError(t, s.SetEmbedding(ctx, "d1-c0", []float32{1, 0, 0, 0}))

	matches, err := s.Search(ctx, []float32{0, 1, 0, 0}, store.SearchOptions{TopK: 10})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, 1, matches[0].ChunkIndex)
	assert.Equal(t, 2, matches[1].ChunkIndex)
	assert.Equal(t, 0, matches[2].ChunkIndex)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i].Similarity, matches[i-1].Similarity)
	}
}

func TestSearch_EmptyScope(t *testing.T) {
	s := newStore(t)
	matches, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, store.SearchOptions{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestClearEmbeddings_ThenSearchEmpty(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1", "a", "b")
	seedDocument(t, s, "d2", "x")
	require.NoError(t, s.SetEmbedding(ctx, "d1-c0", []float32{1, 0, 0, 0}))
	require.NoError(t, s.SetEmbedding(ctx, "d1-c1", []float32{0, 1, 0, 0}))
	require.NoError(t, s.SetEmbedding(ctx, "d2-c0", []float32{1, 0, 0, 0}))

	require.NoError(t, s.ClearEmbeddings(ctx, "d1"))

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, store.SearchOptions{DocumentID: "d1", TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Text rows still exist, other documents untouched.
	chunks, err := s.ChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
	matches, err = s.Search(ctx, []float32{1, 0, 0, 0}, store.SearchOptions{DocumentID: "d2", TopK: 5})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSearch_ScopedToDocument(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1", "a")
	seedDocument(t, s, "d2", "b")
	require.NoError(t, s.SetEmbedding(ctx, "d1-c0", []float32{1, 0, 0, 0}))
	require.NoError(t, s.SetEmbedding(ctx, "d2-c0", []float32{1, 0, 0, 0}))

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, store.SearchOptions{DocumentID: "d2", TopK: 10})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d2", matches[0].DocumentID)
}

func TestDeleteDocument_Cascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1", "a", "b")
	require.NoError(t, s.SetEmbedding(ctx, "d1-c0", []float32{1, 0, 0, 0}))
	require.NoError(t, s.AppendMessage(ctx, &models.ChatMessage{
		ID: "m1", DocumentID: "d1", UserID: "u1", Role: models.RoleUser, Content: "hi",
	}))

	require.NoError(t, s.DeleteDocument(ctx, "u1", "d1"))

	_, err := s.GetDocument(ctx, "u1", "d1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	chunks, err := s.ChunksByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	msgs, err := s.Messages(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCreateChunks_DuplicateIndexRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1", "a")
	err := s.CreateChunks(ctx, []models.Chunk{{ID: "dup", DocumentID: "d1", Index: 0, Content: "again"}})
	assert.Error(t, err)
}

func TestConsumeUpload_Quota(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.PutSubscription(ctx, &models.Subscription{
		UserID:             "u1",
		Tier:               models.TierFree,
		Status:             models.SubscriptionActive,
		DocumentLimit:      2,
		MonthlyUploadLimit: 10,
		UploadsResetAt:     now.AddDate(0, 1, 0),
	}))

	require.NoError(t, s.ConsumeUpload(ctx, "u1", now))
	require.NoError(t, s.ConsumeUpload(ctx, "u1", now))
	err := s.ConsumeUpload(ctx, "u1", now)
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)

	require.NoError(t, s.ReleaseDocument(ctx, "u1"))
	assert.NoError(t, s.ConsumeUpload(ctx, "u1", now))
}

func TestConsumeUpload_MonthlyReset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, s.PutSubscription(ctx, &models.Subscription{
		UserID:             "u1",
		Tier:               models.TierStarter,
		Status:             models.SubscriptionActive,
		DocumentLimit:      100,
		MonthlyUploadLimit: 1,
		UploadsResetAt:     start.AddDate(0, 1, 0),
	}))

	require.NoError(t, s.ConsumeUpload(ctx, "u1", start))
	assert.ErrorIs(t, s.ConsumeUpload(ctx, "u1", start), models.ErrQuotaExceeded)

	// Past the reset date the monthly counter rolls over.
	assert.NoError(t, s.ConsumeUpload(ctx, "u1", start.AddDate(0, 1, 1)))
}

func TestPutSubscription_RePutMovesResetDate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, s.PutSubscription(ctx, &models.Subscription{
		UserID:             "u1",
		Tier:               models.TierFree,
		Status:             models.SubscriptionActive,
		DocumentLimit:      10,
		MonthlyUploadLimit: 10,
		UploadsResetAt:     start.AddDate(0, 1, 0),
	}))

	// A tier change re-puts the row: limits and the reset date must both
	// take effect.
	moved := start.AddDate(0, 2, 0)
	require.NoError(t, s.PutSubscription(ctx, &models.Subscription{
		UserID:             "u1",
		Tier:               models.TierPro,
		Status:             models.SubscriptionActive,
		DocumentLimit:      100,
		MonthlyUploadLimit: 100,
		UploadsResetAt:     moved,
	}))

	sub, err := s.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, sub.Tier)
	assert.Equal(t, 100, sub.DocumentLimit)
	assert.True(t, sub.UploadsResetAt.Equal(moved))
}
