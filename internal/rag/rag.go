// Package rag answers questions about a user's documents: embed the query,
// pull the most similar chunks, and let the LLM answer from that context,
// citing the chunks that grounded it.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"docvault/internal/config"
	"docvault/internal/embedding"
	"docvault/internal/models"
	"docvault/internal/store"
)

const systemPrompt = "You are a helpful assistant answering questions about the user's personal documents. Use only the provided context. If the context does not contain the answer, say so."

const tagPrompt = `Suggest at most five short lowercase tags for the following document excerpt. Answer with a comma-separated list and nothing else.

%s`

// NewLLM builds the chat model client from config, pointing at any
// openai-compatible endpoint.
func NewLLM(cfg *config.LLMConfig) (llms.Model, error) {
	return openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
}

type RAG struct {
	docs     store.DocumentStore
	chunks   store.ChunkStore
	chat     store.ChatStore
	embedder embedding.Client
	llm      llms.Model
	cfg      config.RAGConfig
}

func NewRAG(docs store.DocumentStore, chunks store.ChunkStore, chat store.ChatStore, embedder embedding.Client, llm llms.Model, cfg config.RAGConfig) *RAG {
	return &RAG{docs: docs, chunks: chunks, chat: chat, embedder: embedder, llm: llm, cfg: cfg}
}

type Answer struct {
	Content   string
	Citations []models.Citation
}

// Chat answers a query scoped to one document and records both turns of
// the conversation. Chunks without an embedding never surface; if nothing
// in scope clears the similarity threshold the answer is grounded on an
// empty context.
func (r *RAG) Chat(ctx context.Context, userID, documentID, query string) (*Answer, error) {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := r.chunks.Search(ctx, queryVec, store.SearchOptions{
		DocumentID:    documentID,
		TopK:          r.cfg.TopK,
		MinSimilarity: r.cfg.MinSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var sb strings.Builder
	citations := make([]models.Citation, 0, len(matches))
	for _, m := range matches {
		sb.WriteString(m.Content)
		sb.WriteString("\n\n")
		citations = append(citations, models.Citation{
			DocumentID: m.DocumentID,
			ChunkIndex: m.ChunkIndex,
			Similarity: m.Similarity,
		})
	}

	msgs := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman,
			fmt.Sprintf("Context:\n%s\nQuery: %s", sb.String(), query)),
	}
	resp, err := r.llm.GenerateContent(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("generate: empty response")
	}
	content := resp.Choices[0].Content

	now := time.Now().UTC()
	if err := r.chat.AppendMessage(ctx, &models.ChatMessage{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		Role:       models.RoleUser,
		Content:    query,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}
	if err := r.chat.AppendMessage(ctx, &models.ChatMessage{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		Role:       models.RoleAssistant,
		Content:    content,
		Citations:  citations,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	log.Debug().Str("document_id", documentID).Int("citations", len(citations)).Msg("chat answered")
	return &Answer{Content: content, Citations: citations}, nil
}

// GenerateTags asks the LLM for tags based on the document's opening
// chunks and stores them on the document.
func (r *RAG) GenerateTags(ctx context.Context, userID, documentID string) ([]string, error) {
	if _, err := r.docs.GetDocument(ctx, userID, documentID); err != nil {
		return nil, err
	}
	chunks, err := r.chunks.ChunksByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for i, c := range chunks {
		if i == 3 {
			break
		}
		sb.WriteString(c.Content)
		sb.WriteString("\n")
	}

	resp, err := r.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, fmt.Sprintf(tagPrompt, sb.String())),
	})
	if err != nil {
		return nil, fmt.Errorf("generate tags: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	var tags []string
	for _, t := range strings.Split(resp.Choices[0].Content, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	if err := r.docs.SetTags(ctx, documentID, tags); err != nil {
		return nil, err
	}
	return tags, nil
}
