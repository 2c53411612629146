package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"docvault/internal/models"
)

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.db.NewInsert().Model(doc).Exec(ctx)
	return err
}

func (s *Store) GetDocument(ctx context.Context, userID, id string) (*models.Document, error) {
	doc := new(models.Document)
	err := s.db.NewSelect().Model(doc).
		Where("d.id = ?", id).
		Where("d.user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	var docs []models.Document
	err := s.db.NewSelect().Model(&docs).
		Where("d.user_id = ?", userID).
		Order("uploaded_at DESC").
		Scan(ctx)
	return docs, err
}

func (s *Store) MarkProcessed(ctx context.Context, id string, processed bool) error {
	res, err := s.db.NewUpdate().Model((*models.Document)(nil)).
		Set("processed = ?", processed).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	return nil
}

func (s *Store) SetTags(ctx context.Context, id string, tags []string) error {
	res, err := s.db.NewUpdate().Model((*models.Document)(nil)).
		Set("tags = ?", pgdialect.Array(tags)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	return nil
}

// DeleteDocument removes the document, its chunks (FK cascade) and its chat
// history in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, userID, id string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*models.ChatMessage)(nil)).
			Where("document_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().Model((*models.Document)(nil)).
			Where("id = ?", id).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
		}
		return nil
	})
}
