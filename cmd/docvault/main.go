package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docvault/internal/backfill"
	"docvault/internal/blob"
	"docvault/internal/chunker"
	"docvault/internal/config"
	"docvault/internal/embedding"
	"docvault/internal/ingest"
	"docvault/internal/models"
	"docvault/internal/rag"
	"docvault/internal/server"
	"docvault/internal/store/postgres"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	var (
		serve     = flag.Bool("serve", false, "Run the HTTP API server")
		initDB    = flag.Bool("init", false, "Create the database schema and exit")
		filePath  = flag.String("file", "", "Path to a document file to ingest")
		mimeType  = flag.String("mime", "", "MIME type of the file (default: from extension)")
		query     = flag.String("query", "", "Question to ask about a document")
		docID     = flag.String("doc", "", "Document id scope for query/backfill/clear")
		userID    = flag.String("user", "local", "User id for CLI operations")
		runBF     = flag.Bool("backfill", false, "Run one embedding backfill pass")
		clearEmb  = flag.Bool("clear-embeddings", false, "Clear stored embeddings in scope")
		migrateTo = flag.Int("migrate-dims", 0, "Re-type the vector column for a new model width")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	ctx := context.Background()
	st, err := postgres.Connect(&cfg.Database, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	defer st.Close()

	switch {
	case *initDB:
		if err := st.Init(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
		}
		log.Info().Int("dimensions", cfg.Embedding.Dimensions).Msg("schema ready")

	case *migrateTo > 0:
		if err := st.Migrate(ctx, *migrateTo); err != nil {
			log.Fatal().Err(err).Msg("Error migrating vector column")
		}
		log.Info().Int("dimensions", *migrateTo).Msg("vector column migrated, re-run backfill to re-embed")

	case *clearEmb:
		if err := st.ClearEmbeddings(ctx, *docID); err != nil {
			log.Fatal().Err(err).Msg("Error clearing embeddings")
		}
		log.Info().Str("document_id", *docID).Msg("embeddings cleared")

	case *runBF:
		embedder := mustEmbedder(cfg)
		coord := backfill.New(st, embedder, cfg.Backfill.Concurrency)
		report, err := coord.Run(ctx, *docID)
		if err != nil {
			log.Fatal().Err(err).Msg("Error running backfill")
		}
		log.Info().
			Int("scanned", report.Scanned).
			Int("processed", report.Processed).
			Int("failed", report.Failed).
			Int("remaining", report.Remaining).
			Str("status", string(report.Status)).
			Msg("backfill finished")

	case *filePath != "":
		ingestFile(ctx, cfg, st, *filePath, *mimeType, *userID)

	case *query != "":
		askQuestion(ctx, cfg, st, *userID, *docID, *query)

	case *serve:
		runServer(ctx, cfg, st)

	default:
		flag.Usage()
	}
}

func mustEmbedder(cfg *config.Config) embedding.Client {
	embedder, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	return embedder
}

func mustFiles(ctx context.Context, cfg *config.Config) *blob.Store {
	files, err := blob.NewStore(ctx, &cfg.Blob)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to blob storage")
	}
	return files
}

// ensureSubscription gives CLI users a standing pro-tier subscription so
// local ingestion is never quota blocked.
func ensureSubscription(ctx context.Context, st *postgres.Store, userID string) {
	if _, err := st.GetSubscription(ctx, userID); err == nil {
		return
	} else if !errors.Is(err, models.ErrNotFound) {
		log.Fatal().Err(err).Msg("Error loading subscription")
	}
	err := st.PutSubscription(ctx, &models.Subscription{
		UserID:             userID,
		Tier:               models.TierPro,
		Status:             models.SubscriptionActive,
		DocumentLimit:      10000,
		MonthlyUploadLimit: 10000,
		UploadsResetAt:     time.Now().AddDate(0, 1, 0),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating subscription")
	}
}

func ingestFile(ctx context.Context, cfg *config.Config, st *postgres.Store, path, mimeType, userID string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading file")
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}

	ensureSubscription(ctx, st, userID)
	files := mustFiles(ctx, cfg)
	svc := ingest.NewService(st, st, st, files, chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap))

	res, err := svc.Ingest(ctx, ingest.Request{
		UserID:   userID,
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting document")
	}
	if res.ExtractionErr != nil {
		log.Warn().Err(res.ExtractionErr).Msg("stored but not processed")
	}
	log.Info().Str("document_id", res.Document.ID).Int("chunks", res.ChunkCount).Msg("ingested")

	embedder := mustEmbedder(cfg)
	report, err := backfill.New(st, embedder, cfg.Backfill.Concurrency).Run(ctx, res.Document.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error embedding chunks")
	}
	log.Info().Int("processed", report.Processed).Int("remaining", report.Remaining).Msg("embedded")
}

func askQuestion(ctx context.Context, cfg *config.Config, st *postgres.Store, userID, docID, query string) {
	if docID == "" {
		log.Fatal().Msg("Please provide a document id with -doc")
	}
	embedder := mustEmbedder(cfg)
	llm, err := rag.NewLLM(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing LLM")
	}

	r := rag.NewRAG(st, st, st, embedder, llm, cfg.RAG)
	answer, err := r.Chat(ctx, userID, docID, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	fmt.Printf("%s\n\n", answer.Content)
	for _, c := range answer.Citations {
		fmt.Printf("  [chunk %d, similarity %.3f]\n", c.ChunkIndex, c.Similarity)
	}
}

func runServer(ctx context.Context, cfg *config.Config, st *postgres.Store) {
	if err := st.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}

	embedder := mustEmbedder(cfg)
	llm, err := rag.NewLLM(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing LLM")
	}
	files := mustFiles(ctx, cfg)

	svc := ingest.NewService(st, st, st, files, chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap))
	r := rag.NewRAG(st, st, st, embedder, llm, cfg.RAG)
	coord := backfill.New(st, embedder, cfg.Backfill.Concurrency)

	srv := server.New(svc, st, st, files, r, coord)
	log.Info().Str("addr", cfg.Server.Addr).Msg("serving")
	if err := srv.Router().Run(cfg.Server.Addr); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
