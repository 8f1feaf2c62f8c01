package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/usecases"
)

// handleUpload ingests a multipart "file" field.
func (s *Server) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		respondBadRequest(c, "multipart field \"file\" is required")
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		RespondError(c, entities.Errorf(entities.KindInvalidInput, "upload",
			"%s is %d bytes, limit is %d", header.Filename, header.Size, s.cfg.MaxUploadBytes))
		return
	}

	f, err := header.Open()
	if err != nil {
		RespondError(c, fmt.Errorf("opening upload: %w", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		RespondError(c, fmt.Errorf("reading upload: %w", err))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}

	file, err := s.ingest.Ingest(c.Request.Context(), entities.Upload{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		respondEnvelope(c, err, ErrorEnvelope{File: file})
		return
	}
	c.JSON(http.StatusCreated, file)
}

func (s *Server) handleListFiles(c *gin.Context) {
	files, err := s.ingest.Files(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	if files == nil {
		files = []entities.File{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) handleGetFile(c *gin.Context) {
	file, err := s.ingest.File(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	if err := s.ingest.Delete(c.Request.Context(), c.Param("id")); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleChunks(c *gin.Context) {
	chunks, err := s.ingest.Chunks(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	if chunks == nil {
		chunks = []entities.Chunk{}
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

func (s *Server) handleAsk(c *gin.Context) {
	var req usecases.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	answer, err := s.query.Ask(c.Request.Context(), req)
	if err != nil {
		env := ErrorEnvelope{}
		if answer != nil {
			env.Sources = answer.Sources
		}
		respondEnvelope(c, err, env)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// handleAskStream answers q as server-sent events: sources, token..., done.
// Errors before the first event are returned as a normal error response that
// carries any sources already retrieved.
func (s *Server) handleAskStream(c *gin.Context) {
	req := usecases.AskRequest{
		Question: c.Query("q"),
		FileIDs:  c.QueryArray("file_id"),
	}
	if k := c.Query("k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil {
			respondBadRequest(c, "k must be an integer")
			return
		}
		req.K = n
	}

	started := false
	sources, err := s.query.AskStream(c.Request.Context(), req, func(ev usecases.StreamEvent) error {
		if !started {
			// SSEvent sets the content type
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Status(http.StatusOK)
			started = true
		}
		c.SSEvent(ev.Type, ev)
		c.Writer.Flush()
		return c.Request.Context().Err()
	})
	if err != nil && !started {
		respondEnvelope(c, err, ErrorEnvelope{Sources: sources})
		return
	}
	if err != nil {
		_ = c.Error(err)
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			respondBadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	turns, err := s.query.History(c.Request.Context(), limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	if turns == nil {
		turns = []entities.ConversationTurn{}
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}

func (s *Server) handleListModels(c *gin.Context) {
	if s.models == nil {
		c.JSON(http.StatusNotImplemented, ErrorEnvelope{Error: APIError{Message: "model management is not available for the configured backend", Code: "not_supported"}})
		return
	}
	models, err := s.models.ListModels(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

type pullRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handlePullModel(c *gin.Context) {
	if s.models == nil {
		c.JSON(http.StatusNotImplemented, ErrorEnvelope{Error: APIError{Message: "model management is not available for the configured backend", Code: "not_supported"}})
		return
	}
	var req pullRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		respondBadRequest(c, "field \"name\" is required")
		return
	}
	if err := s.models.PullModel(c.Request.Context(), req.Name); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "model": req.Name})
}

// handleHealth reports liveness and readiness. The store is required; the
// language model and PDF service only degrade the status.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	status := "ok"
	code := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = "unavailable"
		code = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if s.models != nil {
		if err := s.models.Ping(ctx); err != nil {
			checks["llm"] = err.Error()
			if status == "ok" {
				status = "degraded"
			}
		} else {
			checks["llm"] = "ok"
		}
	}

	if s.pdf != nil {
		if configured, healthy := s.pdf.PDFServiceHealthy(ctx); configured {
			if healthy {
				checks["pdf_service"] = "ok"
			} else {
				checks["pdf_service"] = "unreachable"
				if status == "ok" {
					status = "degraded"
				}
			}
		}
	}

	c.JSON(code, gin.H{"status": status, "checks": checks})
}
