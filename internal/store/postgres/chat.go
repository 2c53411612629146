package postgres

import (
	"context"

	"docvault/internal/models"
)

func (s *Store) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	_, err := s.db.NewInsert().Model(msg).Exec(ctx)
	return err
}

func (s *Store) Messages(ctx context.Context, userID, documentID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.db.NewSelect().Model(&msgs).
		Where("m.user_id = ?", userID).
		Where("m.document_id = ?", documentID).
		Order("created_at ASC").
		Scan(ctx)
	return msgs, err
}
