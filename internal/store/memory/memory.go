// Package memory is an in-process implementation of the store interfaces
// for local mode and tests. Chunk text lives in maps; the vector side is a
// chromem-go collection so similarity behaves like the Postgres deployment.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"docvault/internal/models"
	"docvault/internal/store"
)

type Store struct {
	mu   sync.RWMutex
	dims int

	docs   map[string]*models.Document
	chunks map[string]*models.Chunk
	byDoc  map[string][]string // chunk ids in index order
	msgs   []models.ChatMessage
	subs   map[string]*models.Subscription

	coll *chromem.Collection
}

func New(dims int) (*Store, error) {
	coll, err := chromem.NewDB().CreateCollection("chunks", nil, nil)
	if err != nil {
		return nil, err
	}
	return &Store{
		dims:   dims,
		docs:   make(map[string]*models.Document),
		chunks: make(map[string]*models.Chunk),
		byDoc:  make(map[string][]string),
		subs:   make(map[string]*models.Subscription),
		coll:   coll,
	}, nil
}

func (s *Store) Dimensions() int { return s.dims }

// --- documents ---

func (s *Store) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *Store) GetDocument(_ context.Context, userID, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok || doc.UserID != userID {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	cp := *doc
	return &cp, nil
}

func (s *Store) ListDocuments(_ context.Context, userID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []models.Document
	for _, d := range s.docs {
		if d.UserID == userID {
			docs = append(docs, *d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
	return docs, nil
}

func (s *Store) MarkProcessed(_ context.Context, id string, processed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	doc.Processed = processed
	return nil
}

func (s *Store) SetTags(_ context.Context, id string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	doc.Tags = append([]string(nil), tags...)
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.UserID != userID {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	var embedded []string
	for _, cid := range s.byDoc[id] {
		if c := s.chunks[cid]; c != nil && c.Embedding != nil {
			embedded = append(embedded, cid)
		}
		delete(s.chunks, cid)
	}
	delete(s.byDoc, id)
	delete(s.docs, id)

	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if m.DocumentID != id {
			kept = append(kept, m)
		}
	}
	s.msgs = kept

	if len(embedded) > 0 {
		return s.coll.Delete(ctx, nil, nil, embedded...)
	}
	return nil
}

// --- chunks ---

func (s *Store) CreateChunks(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range chunks {
		c := chunks[i]
		for _, existing := range s.byDoc[c.DocumentID] {
			if s.chunks[existing].Index == c.Index {
				return fmt.Errorf("duplicate chunk index %d for document %s", c.Index, c.DocumentID)
			}
		}
		cp := c
		s.chunks[c.ID] = &cp
		s.byDoc[c.DocumentID] = append(s.byDoc[c.DocumentID], c.ID)
	}
	for docID := range s.byDoc {
		ids := s.byDoc[docID]
		sort.Slice(ids, func(i, j int) bool { return s.chunks[ids[i]].Index < s.chunks[ids[j]].Index })
	}
	return nil
}

func (s *Store) GetChunk(_ context.Context, id string) (*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	if !ok {
		return nil, fmt.Errorf("%w: chunk %s", models.ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ChunksByDocument(_ context.Context, documentID string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chunk, 0, len(s.byDoc[documentID]))
	for _, id := range s.byDoc[documentID] {
		out = append(out, *s.chunks[id])
	}
	return out, nil
}

func (s *Store) MissingEmbedding(_ context.Context, documentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docIDs := make([]string, 0, len(s.byDoc))
	if documentID != "" {
		docIDs = append(docIDs, documentID)
	} else {
		for id := range s.byDoc {
			docIDs = append(docIDs, id)
		}
		sort.Strings(docIDs)
	}

	var ids []string
	for _, docID := range docIDs {
		for _, cid := range s.byDoc[docID] {
			if s.chunks[cid].Embedding == nil {
				ids = append(ids, cid)
			}
		}
	}
	return ids, nil
}

func (s *Store) SetEmbedding(ctx context.Context, chunkID string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunk, ok := s.chunks[chunkID]
	if !ok {
		return fmt.Errorf("%w: chunk %s", models.ErrNotFound, chunkID)
	}
	if len(vec) != s.dims {
		return fmt.Errorf("%w: got %d, store configured for %d",
			models.ErrDimensionMismatch, len(vec), s.dims)
	}

	if chunk.Embedding != nil {
		if err := s.coll.Delete(ctx, nil, nil, chunkID); err != nil {
			return err
		}
	}
	err := s.coll.AddDocuments(ctx, []chromem.Document{{
		ID:      chunkID,
		Content: chunk.Content,
		Metadata: map[string]string{
			"document_id": chunk.DocumentID,
			"chunk_index": strconv.Itoa(chunk.Index),
		},
		Embedding: append([]float32(nil), vec...),
	}}, 1)
	if err != nil {
		return err
	}
	chunk.Embedding = append([]float32(nil), vec...)
	return nil
}

func (s *Store) ClearEmbeddings(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared []string
	for id, c := range s.chunks {
		if documentID != "" && c.DocumentID != documentID {
			continue
		}
		if c.Embedding != nil {
			cleared = append(cleared, id)
		}
	}
	if len(cleared) == 0 {
		return nil
	}
	if err := s.coll.Delete(ctx, nil, nil, cleared...); err != nil {
		return err
	}
	for _, id := range cleared {
		s.chunks[id].Embedding = nil
	}
	return nil
}

func (s *Store) Search(ctx context.Context, queryVec []float32, opts store.SearchOptions) ([]store.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(queryVec) != s.dims {
		return nil, fmt.Errorf("%w: query vector %d, store configured for %d",
			models.ErrDimensionMismatch, len(queryVec), s.dims)
	}

	// Candidate count in scope; chromem rejects NResults beyond it.
	candidates := 0
	for _, c := range s.chunks {
		if c.Embedding == nil {
			continue
		}
		if opts.DocumentID != "" && c.DocumentID != opts.DocumentID {
			continue
		}
		candidates++
	}
	if candidates == 0 {
		return nil, nil
	}

	var where map[string]string
	if opts.DocumentID != "" {
		where = map[string]string{"document_id": opts.DocumentID}
	}
	results, err := s.coll.QueryEmbedding(ctx, queryVec, candidates, where, nil)
	if err != nil {
		return nil, err
	}

	matches := make([]store.Match, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < opts.MinSimilarity {
			continue
		}
		chunk := s.chunks[r.ID]
		matches = append(matches, store.Match{
			ChunkID:    r.ID,
			DocumentID: chunk.DocumentID,
			ChunkIndex: chunk.Index,
			Content:    chunk.Content,
			Similarity: sim,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})
	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// --- chat ---

func (s *Store) AppendMessage(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, *msg)
	return nil
}

func (s *Store) Messages(_ context.Context, userID, documentID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatMessage
	for _, m := range s.msgs {
		if m.UserID == userID && m.DocumentID == documentID {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- subscriptions ---

func (s *Store) GetSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, fmt.Errorf("%w: subscription for %s", models.ErrNotFound, userID)
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) PutSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.UserID] = &cp
	return nil
}

func (s *Store) ConsumeUpload(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return fmt.Errorf("%w: subscription for %s", models.ErrNotFound, userID)
	}
	if now.After(sub.UploadsResetAt) {
		sub.UploadsThisMonth = 0
		for now.After(sub.UploadsResetAt) {
			sub.UploadsResetAt = sub.UploadsResetAt.AddDate(0, 1, 0)
		}
	}
	if sub.DocumentsUsed >= sub.DocumentLimit || sub.UploadsThisMonth >= sub.MonthlyUploadLimit {
		return fmt.Errorf("%w: tier %s", models.ErrQuotaExceeded, sub.Tier)
	}
	sub.DocumentsUsed++
	sub.UploadsThisMonth++
	return nil
}

func (s *Store) ReleaseDocument(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[userID]; ok && sub.DocumentsUsed > 0 {
		sub.DocumentsUsed--
	}
	return nil
}
