// Package server exposes the pipeline over HTTP. Authentication happens at
// the edge; handlers trust the user id header the gateway injects.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"docvault/internal/backfill"
	"docvault/internal/ingest"
	"docvault/internal/models"
	"docvault/internal/rag"
	"docvault/internal/store"
)

const userHeader = "X-User-ID"

// FileReader is the slice of blob storage the download handler needs.
type FileReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type Server struct {
	ingest      *ingest.Service
	docs        store.DocumentStore
	chat        store.ChatStore
	files       FileReader
	rag         *rag.RAG
	coordinator *backfill.Coordinator
}

func New(ing *ingest.Service, docs store.DocumentStore, chat store.ChatStore, files FileReader, r *rag.RAG, coord *backfill.Coordinator) *Server {
	return &Server{ingest: ing, docs: docs, chat: chat, files: files, rag: r, coordinator: coord}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", requireUser())
	{
		authed.POST("/documents", s.uploadDocument)
		authed.GET("/documents", s.listDocuments)
		authed.GET("/documents/:id", s.getDocument)
		authed.GET("/documents/:id/file", s.downloadDocument)
		authed.DELETE("/documents/:id", s.deleteDocument)
		authed.POST("/documents/:id/chat", s.postChat)
		authed.GET("/documents/:id/chat", s.listChat)
		authed.POST("/documents/:id/tags", s.generateTags)
		authed.POST("/backfill", s.runBackfill)
	}
	return router
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + userHeader})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func userID(c *gin.Context) string { return c.GetString("userID") }

func (s *Server) uploadDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mimeType := c.PostForm("mime_type")
	if mimeType == "" {
		mimeType = fileHeader.Header.Get("Content-Type")
	}
	name := c.PostForm("name")
	if name == "" {
		name = fileHeader.Filename
	}

	req := ingest.Request{
		UserID:   userID(c),
		Name:     name,
		Category: models.Category(c.PostForm("category")),
		MimeType: mimeType,
		Data:     data,
	}
	if exp := c.PostForm("expires_at"); exp != "" {
		t, err := time.Parse(time.RFC3339, exp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC3339"})
			return
		}
		req.ExpiresAt = &t
	}

	res, err := s.ingest.Ingest(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	body := gin.H{"document": res.Document, "chunks": res.ChunkCount}
	if res.ExtractionErr != nil {
		body["warning"] = res.ExtractionErr.Error()
	}
	c.JSON(http.StatusCreated, body)
}

func (s *Server) listDocuments(c *gin.Context) {
	docs, err := s.docs.ListDocuments(c.Request.Context(), userID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	now := time.Now()
	out := make([]gin.H, 0, len(docs))
	for i := range docs {
		out = append(out, gin.H{"document": docs[i], "lifecycle": docs[i].Lifecycle(now)})
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

func (s *Server) getDocument(c *gin.Context) {
	doc, err := s.docs.GetDocument(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc, "lifecycle": doc.Lifecycle(time.Now())})
}

func (s *Server) downloadDocument(c *gin.Context) {
	doc, err := s.docs.GetDocument(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	data, err := s.files.Get(c.Request.Context(), doc.FileKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.Name+`"`)
	c.Data(http.StatusOK, doc.MimeType, data)
}

func (s *Server) deleteDocument(c *gin.Context) {
	if err := s.ingest.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) postChat(c *gin.Context) {
	var body struct {
		Query string `json:"query" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := s.rag.Chat(c.Request.Context(), userID(c), c.Param("id"), body.Query)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer.Content, "citations": answer.Citations})
}

func (s *Server) listChat(c *gin.Context) {
	msgs, err := s.chat.Messages(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) generateTags(c *gin.Context) {
	tags, err := s.rag.GenerateTags(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

func (s *Server) runBackfill(c *gin.Context) {
	var body struct {
		DocumentID string `json:"document_id"`
	}
	_ = c.ShouldBindJSON(&body)

	report, err := s.coordinator.Run(c.Request.Context(), body.DocumentID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    report.Status,
		"scanned":   report.Scanned,
		"processed": report.Processed,
		"failed":    report.Failed,
		"remaining": report.Remaining,
	})
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrUnsupportedType), errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrEndpointUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
