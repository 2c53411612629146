package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"docvault/internal/config"
	"docvault/internal/models"
)

// Store is the managed-Postgres implementation of the store interfaces,
// with pgvector providing the similarity primitive. The configured
// dimensionality is checked on every embedding write.
type Store struct {
	db   *bun.DB
	dims int
}

func Connect(cfg *config.DatabaseConfig, dims int) (*Store, error) {
	dsn := cfg.URL + "?sslmode=disable"
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.Password)))

	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &Store{db: db, dims: dims}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Dimensions() int { return s.dims }

// Init creates the schema. The embedding column is typed to the configured
// dimensionality; switching models requires Migrate, not a silent re-init.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}

	for _, model := range []interface{}{
		(*models.Document)(nil),
		(*models.ChatMessage)(nil),
		(*models.Subscription)(nil),
	} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
		id text PRIMARY KEY,
		document_id text NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
		chunk_index integer NOT NULL,
		content text NOT NULL,
		embedding vector(%d),
		created_at timestamptz NOT NULL,
		UNIQUE (document_id, chunk_index)
	)`, s.dims)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	return nil
}

// Migrate re-types the embedding column for a new model's width. All
// stored vectors are dropped: vectors from different models are
// incomparable, so there is no mixed-dimension search to preserve.
func (s *Store) Migrate(ctx context.Context, dims int) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE chunks SET embedding = NULL"); err != nil {
			return err
		}
		ddl := fmt.Sprintf("ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(%d) USING NULL", dims)
		_, err := tx.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		return err
	}
	s.dims = dims
	return nil
}
