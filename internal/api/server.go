package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server is the HTTP front end.
type Server struct {
	handler *Handler
	router  *gin.Engine
	addr    string
	server  *http.Server
	logger  *slog.Logger
}

// NewRouter registers every route on a fresh engine.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))

	api := router.Group("/api/v1")
	{
		api.POST("/sessions", h.CreateSession)
		api.POST("/helpbook", h.UploadHelpbook)
		api.POST("/patient-index/rotate", h.RotatePatientIndex)

		sessions := api.Group("/sessions/:id")
		{
			sessions.POST("/ask", h.Ask)
			sessions.POST("/summarize", h.Summarize)
			sessions.POST("/interpret", h.Interpret)
			sessions.POST("/chat", h.Chat)
			sessions.POST("/documents", h.UploadDocuments)
			sessions.GET("/history", h.History)
			sessions.GET("/metrics", h.Metrics)
			sessions.GET("/turns", h.ExportTurns)
			sessions.DELETE("", h.EndSession)
		}
	}

	router.GET("/healthz", h.Health)
	return router
}

// NewServer creates a server for pipeline listening on addr.
func NewServer(pipeline Pipeline, addr string) *Server {
	h := NewHandler(pipeline)
	return &Server{
		handler: h,
		router:  NewRouter(h),
		addr:    addr,
		logger:  h.logger,
	}
}

// WithAgent enables POST /api/v1/sessions/:id/chat.
func (s *Server) WithAgent(a Agent) *Server {
	s.handler.WithAgent(a)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("[API] HTTP server starting", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("[API] request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
