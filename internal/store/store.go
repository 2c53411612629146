package store

import (
	"context"
	"time"

	"docvault/internal/models"
)

// SearchOptions scope a similarity query. DocumentID empty means the whole
// store. MinSimilarity filters candidates before TopK truncation.
type SearchOptions struct {
	DocumentID    string
	TopK          int
	MinSimilarity float64
}

// Match is one similarity result, ordered by similarity descending with
// ties broken by chunk index ascending.
type Match struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, userID, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]models.Document, error)
	MarkProcessed(ctx context.Context, id string, processed bool) error
	SetTags(ctx context.Context, id string, tags []string) error
	// DeleteDocument cascades to the document's chunks and chat history.
	DeleteDocument(ctx context.Context, userID, id string) error
}

// ChunkStore persists chunk text and embeddings. A chunk with a nil
// embedding is a valid, queryable row; it is simply invisible to Search.
type ChunkStore interface {
	CreateChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	// ChunksByDocument returns chunks in original-document order.
	ChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
	// MissingEmbedding lists ids of chunks without a vector, optionally
	// scoped to one document.
	MissingEmbedding(ctx context.Context, documentID string) ([]string, error)
	// SetEmbedding rejects vectors whose length differs from the store's
	// configured dimensionality with models.ErrDimensionMismatch, leaving
	// any existing vector unchanged.
	SetEmbedding(ctx context.Context, chunkID string, vec []float32) error
	// ClearEmbeddings wipes vectors in scope, all or nothing, serialized
	// against concurrent SetEmbedding in the same scope.
	ClearEmbeddings(ctx context.Context, documentID string) error
	Search(ctx context.Context, queryVec []float32, opts SearchOptions) ([]Match, error)
	Dimensions() int
}

type ChatStore interface {
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	Messages(ctx context.Context, userID, documentID string) ([]models.ChatMessage, error)
}

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	PutSubscription(ctx context.Context, sub *models.Subscription) error
	// ConsumeUpload enforces the document-count and monthly-upload limits,
	// rolling the monthly counter over when past its reset date. Over
	// limit returns models.ErrQuotaExceeded.
	ConsumeUpload(ctx context.Context, userID string, now time.Time) error
	// ReleaseDocument gives back one document slot after a delete.
	ReleaseDocument(ctx context.Context, userID string) error
}
