package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docvault/internal/config"
	"docvault/internal/models"
)

// Client turns chunk text into fixed-width vectors. Implementations must be
// deterministic for a fixed model and expose their configured width so
// callers can validate compatibility with stored vectors before comparing.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// LangChainClient embeds through an ollama or openai-compatible endpoint.
type LangChainClient struct {
	embedder *embeddings.EmbedderImpl
	cfg      config.EmbeddingConfig
}

func NewClient(cfg config.EmbeddingConfig) (*LangChainClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	var (
		embedder *embeddings.EmbedderImpl
		err      error
	)
	switch cfg.Provider {
	case "openai":
		llm, e := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
		if e != nil {
			return nil, e
		}
		embedder, err = embeddings.NewEmbedder(llm)
	default:
		llm, e := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if e != nil {
			return nil, e
		}
		embedder, err = embeddings.NewEmbedder(llm)
	}
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Int("dimensions", cfg.Dimensions).
		Msg("embedding client ready")

	return &LangChainClient{embedder: embedder, cfg: cfg}, nil
}

func (c *LangChainClient) Dimensions() int { return c.cfg.Dimensions }

func (c *LangChainClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", models.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout.Std())
	defer cancel()

	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, classify(err)
	}
	if len(vec) != c.cfg.Dimensions {
		return nil, fmt.Errorf("%w: model returned %d, configured %d",
			models.ErrDimensionMismatch, len(vec), c.cfg.Dimensions)
	}
	return vec, nil
}

func (c *LangChainClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty text in batch", models.ErrInvalidInput)
		}
	}

	var out [][]float32
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))

		batchCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout.Std())
		vecs, err := c.embedder.EmbedDocuments(batchCtx, texts[start:end])
		cancel()
		if err != nil {
			return nil, classify(err)
		}
		for _, v := range vecs {
			if len(v) != c.cfg.Dimensions {
				return nil, fmt.Errorf("%w: model returned %d, configured %d",
					models.ErrDimensionMismatch, len(v), c.cfg.Dimensions)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// classify maps transport errors onto the retryability taxonomy. The
// endpoint client libraries surface status codes only in error text, so
// matching is string based.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", models.ErrRateLimited, err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid"):
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", models.ErrEndpointUnavailable, err)
	}
}
