// Package api exposes the question answering pipeline over HTTP.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Yates-Labs/medrag/internal/agent"
	"github.com/Yates-Labs/medrag/internal/ingest"
	"github.com/Yates-Labs/medrag/internal/logging"
	"github.com/Yates-Labs/medrag/internal/metrics"
	"github.com/Yates-Labs/medrag/internal/narrative"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
)

// Pipeline is the subset of the RAG pipeline the handlers drive.
type Pipeline interface {
	Handle(ctx context.Context, sessionID string, req orchestrator.Request) (string, metrics.AnswerMetrics, error)
	History(sessionID string) []narrative.Turn
	Turns(sessionID string) []metrics.TurnRecord
	SummarizeSession(ctx context.Context, sessionID string) metrics.SessionSummary
	EndSession(ctx context.Context, sessionID string) (metrics.SessionSummary, error)
	IngestPatientUploads(ctx context.Context, sessionID string, files []ingest.File) (int, error)
	IngestHelpbookUpload(ctx context.Context, f ingest.File) (int, error)
	RotatePatientIndex(ctx context.Context) error
	Stats(ctx context.Context) map[string]any
}

// Agent routes a chat message to the session's tools.
type Agent interface {
	Run(ctx context.Context, sessionID, message string) (agent.Result, error)
}

// Handler serves session endpoints.
type Handler struct {
	pipeline Pipeline
	agent    Agent
	logger   *slog.Logger
}

// NewHandler creates a handler for pipeline.
func NewHandler(pipeline Pipeline) *Handler {
	return &Handler{
		pipeline: pipeline,
		logger:   logging.Default(),
	}
}

// WithAgent enables the chat endpoint.
func (h *Handler) WithAgent(a Agent) *Handler {
	h.agent = a
	return h
}

// ChatRequest is a free-form message for the routing agent.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the agent's answer and the tools it used.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	agent.Result
}

// AnswerResponse is returned by the ask, summarize and interpret endpoints.
type AnswerResponse struct {
	SessionID string                `json:"session_id"`
	Answer    string                `json:"answer"`
	Metrics   metrics.AnswerMetrics `json:"metrics"`
}

// CreateSession issues a new session id.
// POST /api/v1/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	success(c, gin.H{"session_id": uuid.NewString()})
}

// Ask answers a free-form question.
// POST /api/v1/sessions/:id/ask
func (h *Handler) Ask(c *gin.Context) {
	var req orchestrator.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	h.answer(c, req)
}

// Summarize summarizes the session's uploaded report.
// POST /api/v1/sessions/:id/summarize
func (h *Handler) Summarize(c *gin.Context) {
	h.answer(c, orchestrator.SummarizeRequest{})
}

// Interpret explains one lab test from the session's report.
// POST /api/v1/sessions/:id/interpret
func (h *Handler) Interpret(c *gin.Context) {
	var req orchestrator.InterpretLabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	h.answer(c, req)
}

// Chat lets the model pick the tools for a message.
// POST /api/v1/sessions/:id/chat
func (h *Handler) Chat(c *gin.Context) {
	if h.agent == nil {
		fail(c, http.StatusNotImplemented, "chat agent is not enabled", nil)
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sessionID := c.Param("id")
	res, err := h.agent.Run(c.Request.Context(), sessionID, req.Message)
	if err != nil {
		fail(c, statusFor(err), "request rejected", err)
		return
	}
	success(c, ChatResponse{SessionID: sessionID, Result: res})
}

func (h *Handler) answer(c *gin.Context, req orchestrator.Request) {
	sessionID := c.Param("id")
	text, m, err := h.pipeline.Handle(c.Request.Context(), sessionID, req)
	if err != nil {
		fail(c, statusFor(err), "request rejected", err)
		return
	}
	success(c, AnswerResponse{SessionID: sessionID, Answer: text, Metrics: m})
}

// UploadDocuments indexes multipart "files" as the session's patient report.
// POST /api/v1/sessions/:id/documents
func (h *Handler) UploadDocuments(c *gin.Context) {
	sessionID := c.Param("id")

	form, err := c.MultipartForm()
	if err != nil {
		fail(c, http.StatusBadRequest, "expected multipart form", err)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		fail(c, http.StatusBadRequest, "no files uploaded", nil)
		return
	}

	files, err := readUploads(headers)
	if err != nil {
		fail(c, http.StatusBadRequest, "failed to read upload", err)
		return
	}

	n, err := h.pipeline.IngestPatientUploads(c.Request.Context(), sessionID, files)
	if err != nil {
		h.logger.Warn("[API] patient upload failed", "session", sessionID, "error", err)
		fail(c, statusFor(err), "ingestion failed", err)
		return
	}
	success(c, gin.H{"session_id": sessionID, "files": len(files), "chunks": n})
}

// UploadHelpbook indexes a multipart "file" PDF into the shared helpbook.
// POST /api/v1/helpbook
func (h *Handler) UploadHelpbook(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "no file uploaded", err)
		return
	}
	files, err := readUploads([]*multipart.FileHeader{header})
	if err != nil {
		fail(c, http.StatusBadRequest, "failed to read upload", err)
		return
	}

	n, err := h.pipeline.IngestHelpbookUpload(c.Request.Context(), files[0])
	if err != nil {
		fail(c, statusFor(err), "ingestion failed", err)
		return
	}
	success(c, gin.H{"file": header.Filename, "chunks": n})
}

func readUploads(headers []*multipart.FileHeader) ([]ingest.File, error) {
	files := make([]ingest.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, ingest.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

// History lists the session's completed turns.
// GET /api/v1/sessions/:id/history
func (h *Handler) History(c *gin.Context) {
	sessionID := c.Param("id")
	success(c, gin.H{"session_id": sessionID, "turns": h.pipeline.History(sessionID)})
}

// Metrics summarizes the session's turn log.
// GET /api/v1/sessions/:id/metrics
func (h *Handler) Metrics(c *gin.Context) {
	sessionID := c.Param("id")
	success(c, gin.H{
		"session_id": sessionID,
		"summary":    h.pipeline.SummarizeSession(c.Request.Context(), sessionID),
	})
}

// ExportTurns returns the session's turn log, ?format=json (default).
// GET /api/v1/sessions/:id/turns
func (h *Handler) ExportTurns(c *gin.Context) {
	format := c.DefaultQuery("format", string(metrics.FormatJSON))

	var buf bytes.Buffer
	if err := metrics.ExportTurns(h.pipeline.Turns(c.Param("id")), format, &buf); err != nil {
		fail(c, http.StatusBadRequest, "export failed", err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
}

// EndSession writes the session summary and clears the session.
// DELETE /api/v1/sessions/:id
func (h *Handler) EndSession(c *gin.Context) {
	sessionID := c.Param("id")
	summary, err := h.pipeline.EndSession(c.Request.Context(), sessionID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to end session", err)
		return
	}
	success(c, gin.H{"session_id": sessionID, "summary": summary})
}

// RotatePatientIndex drops every session's patient documents.
// POST /api/v1/patient-index/rotate
func (h *Handler) RotatePatientIndex(c *gin.Context) {
	if err := h.pipeline.RotatePatientIndex(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, "failed to rotate patient index", err)
		return
	}
	success(c, gin.H{"rotated": true})
}

// Health reports liveness and index statistics.
// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "stats": h.pipeline.Stats(c.Request.Context())})
}
