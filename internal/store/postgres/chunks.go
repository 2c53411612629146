package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/uptrace/bun"

	"docvault/internal/models"
	"docvault/internal/store"
)

func (s *Store) CreateChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	_, err := s.db.NewInsert().Model(&chunks).Exec(ctx)
	return err
}

func (s *Store) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	chunk := new(models.Chunk)
	err := s.db.NewSelect().Model(chunk).Where("c.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chunk %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.NewSelect().
		Model(&chunks).
		Where("c.document_id = ?", documentID).
		Order("chunk_index ASC").
		Scan(ctx)
	return chunks, err
}

func (s *Store) MissingEmbedding(ctx context.Context, documentID string) ([]string, error) {
	q := s.db.NewSelect().
		Model((*models.Chunk)(nil)).
		Column("id").
		Where("embedding IS NULL").
		Order("document_id ASC", "chunk_index ASC")
	if documentID != "" {
		q = q.Where("document_id = ?", documentID)
	}
	var ids []string
	if err := q.Scan(ctx, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) SetEmbedding(ctx context.Context, chunkID string, vec []float32) error {
	if len(vec) != s.dims {
		return fmt.Errorf("%w: got %d, store configured for %d",
			models.ErrDimensionMismatch, len(vec), s.dims)
	}
	res, err := s.db.NewUpdate().
		Model((*models.Chunk)(nil)).
		Set("embedding = ?::vector", vectorLiteral(vec)).
		Where("id = ?", chunkID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: chunk %s", models.ErrNotFound, chunkID)
	}
	return nil
}

func (s *Store) ClearEmbeddings(ctx context.Context, documentID string) error {
	// Single transaction so a clear never interleaves with in-flight
	// SetEmbedding writes in the same scope.
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*models.Chunk)(nil)).
			Set("embedding = NULL").
			Where("1 = 1")
		if documentID != "" {
			q = q.Where("document_id = ?", documentID)
		}
		_, err := q.Exec(ctx)
		return err
	})
}

func (s *Store) Search(ctx context.Context, queryVec []float32, opts store.SearchOptions) ([]store.Match, error) {
	if len(queryVec) != s.dims {
		return nil, fmt.Errorf("%w: query vector %d, store configured for %d",
			models.ErrDimensionMismatch, len(queryVec), s.dims)
	}

	type matchRow struct {
		ID         string  `bun:"id"`
		DocumentID string  `bun:"document_id"`
		ChunkIndex int     `bun:"chunk_index"`
		Content    string  `bun:"content"`
		Similarity float64 `bun:"similarity"`
	}

	lit := vectorLiteral(queryVec)
	q := s.db.NewSelect().
		Model((*models.Chunk)(nil)).
		Column("id", "document_id", "chunk_index", "content").
		ColumnExpr("1 - (embedding <=> ?::vector) AS similarity", lit).
		Where("embedding IS NOT NULL").
		Where("1 - (embedding <=> ?::vector) >= ?", lit, opts.MinSimilarity).
		OrderExpr("similarity DESC, chunk_index ASC").
		Limit(opts.TopK)
	if opts.DocumentID != "" {
		q = q.Where("document_id = ?", opts.DocumentID)
	}

	var rows []matchRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, err
	}

	matches := make([]store.Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, store.Match{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return matches, nil
}

// vectorLiteral renders a pgvector input literal, e.g. [0.1,0.2].
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
