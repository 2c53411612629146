// Package ingest drives a single upload through the pipeline: quota gate,
// blob storage, text extraction, chunking, chunk persistence. Embedding is
// decoupled; the backfill coordinator picks new chunks up later.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docvault/internal/blob"
	"docvault/internal/chunker"
	"docvault/internal/extract"
	"docvault/internal/models"
	"docvault/internal/store"
)

// FileStore is the slice of blob storage ingestion needs.
type FileStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Remove(ctx context.Context, key string) error
}

type Service struct {
	docs    store.DocumentStore
	chunks  store.ChunkStore
	subs    store.SubscriptionStore
	files   FileStore
	chunker *chunker.Chunker
}

func NewService(docs store.DocumentStore, chunks store.ChunkStore, subs store.SubscriptionStore, files FileStore, ch *chunker.Chunker) *Service {
	return &Service{docs: docs, chunks: chunks, subs: subs, files: files, chunker: ch}
}

type Request struct {
	UserID    string
	Name      string
	Category  models.Category
	MimeType  string
	Data      []byte
	ExpiresAt *time.Time
}

// Result reports an accepted upload. ExtractionErr is set when the file was
// stored but its text could not be extracted; the document then stays
// unprocessed and the upload itself still succeeds.
type Result struct {
	Document      *models.Document
	ChunkCount    int
	ExtractionErr error
}

func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if err := s.subs.ConsumeUpload(ctx, req.UserID, time.Now()); err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Name:       req.Name,
		Category:   req.Category,
		MimeType:   req.MimeType,
		FileKey:    "",
		ExpiresAt:  req.ExpiresAt,
		UploadedAt: time.Now().UTC(),
	}
	if doc.Category == "" {
		doc.Category = models.CategoryOther
	}
	doc.FileKey = blob.Key(req.UserID, doc.ID)

	if err := s.files.Put(ctx, doc.FileKey, req.Data, req.MimeType); err != nil {
		_ = s.subs.ReleaseDocument(ctx, req.UserID)
		return nil, fmt.Errorf("store file: %w", err)
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		_ = s.files.Remove(ctx, doc.FileKey)
		_ = s.subs.ReleaseDocument(ctx, req.UserID)
		return nil, fmt.Errorf("create document: %w", err)
	}

	text, err := extract.Extract(req.Data, req.MimeType)
	if err != nil {
		// Document stays unprocessed; its status is user visible and a
		// re-upload or re-process can try again.
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("extraction failed")
		return &Result{Document: doc, ExtractionErr: err}, nil
	}

	segments := s.chunker.Chunk(text)
	if len(segments) > 0 {
		rows := make([]models.Chunk, len(segments))
		now := time.Now().UTC()
		for i, seg := range segments {
			rows[i] = models.Chunk{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				Index:      seg.Index,
				Content:    seg.Content,
				CreatedAt:  now,
			}
		}
		if err := s.chunks.CreateChunks(ctx, rows); err != nil {
			return nil, fmt.Errorf("store chunks: %w", err)
		}
	}

	// Zero segments is fine: the document is processed but empty.
	if err := s.docs.MarkProcessed(ctx, doc.ID, true); err != nil {
		return nil, err
	}
	doc.Processed = true

	log.Info().
		Str("document_id", doc.ID).
		Str("mime_type", req.MimeType).
		Int("chunks", len(segments)).
		Msg("document ingested")
	return &Result{Document: doc, ChunkCount: len(segments)}, nil
}

// Delete removes a document, its chunks and chat history, its stored file,
// and gives the user their document slot back.
func (s *Service) Delete(ctx context.Context, userID, documentID string) error {
	doc, err := s.docs.GetDocument(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if err := s.docs.DeleteDocument(ctx, userID, documentID); err != nil {
		return err
	}
	if err := s.files.Remove(ctx, doc.FileKey); err != nil {
		log.Warn().Err(err).Str("key", doc.FileKey).Msg("orphaned blob after delete")
	}
	return s.subs.ReleaseDocument(ctx, userID)
}
