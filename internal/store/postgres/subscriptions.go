package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"docvault/internal/models"
)

func (s *Store) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub := new(models.Subscription)
	err := s.db.NewSelect().Model(sub).Where("s.user_id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: subscription for %s", models.ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Store) PutSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := s.db.NewInsert().Model(sub).
		On("CONFLICT (user_id) DO UPDATE").
		Set("tier = EXCLUDED.tier").
		Set("status = EXCLUDED.status").
		Set("document_limit = EXCLUDED.document_limit").
		Set("monthly_upload_limit = EXCLUDED.monthly_upload_limit").
		Set("uploads_reset_at = EXCLUDED.uploads_reset_at").
		Exec(ctx)
	return err
}

// ConsumeUpload takes a row lock so concurrent uploads by one user cannot
// both pass the limit check.
func (s *Store) ConsumeUpload(ctx context.Context, userID string, now time.Time) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sub := new(models.Subscription)
		err := tx.NewSelect().Model(sub).
			Where("s.user_id = ?", userID).
			For("UPDATE").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: subscription for %s", models.ErrNotFound, userID)
		}
		if err != nil {
			return err
		}

		if now.After(sub.UploadsResetAt) {
			sub.UploadsThisMonth = 0
			sub.UploadsResetAt = sub.UploadsResetAt.AddDate(0, 1, 0)
			for now.After(sub.UploadsResetAt) {
				sub.UploadsResetAt = sub.UploadsResetAt.AddDate(0, 1, 0)
			}
		}

		if sub.DocumentsUsed >= sub.DocumentLimit || sub.UploadsThisMonth >= sub.MonthlyUploadLimit {
			return fmt.Errorf("%w: tier %s", models.ErrQuotaExceeded, sub.Tier)
		}

		sub.DocumentsUsed++
		sub.UploadsThisMonth++
		_, err = tx.NewUpdate().Model(sub).
			Column("documents_used", "uploads_this_month", "uploads_reset_at").
			WherePK().
			Exec(ctx)
		return err
	})
}

func (s *Store) ReleaseDocument(ctx context.Context, userID string) error {
	_, err := s.db.NewUpdate().Model((*models.Subscription)(nil)).
		Set("documents_used = GREATEST(documents_used - 1, 0)").
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}
