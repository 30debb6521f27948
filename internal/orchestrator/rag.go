package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/medrag/internal/ingest"
	"github.com/Yates-Labs/medrag/internal/metrics"
	"github.com/Yates-Labs/medrag/internal/narrative"
	"github.com/Yates-Labs/medrag/internal/rag"
)

var (
	ErrConfiguration  = errors.New("invalid pipeline configuration")
	ErrInvalidRequest = errors.New("invalid request")
)

// RAGConfig holds configuration for the question answering pipeline.
type RAGConfig struct {
	// HelpbookIndex names the shared reference index
	HelpbookIndex string

	// PatientIndex names the per-session patient report index
	PatientIndex string

	// Store selects and addresses the vector backend
	Store StoreConfig

	// EmbedProvider is "openai", "gemini" or "mock"
	EmbedProvider string

	// EmbedAPIKey overrides the provider's environment key
	EmbedAPIKey string

	// EmbedderModel is the model to use for embeddings (e.g., "text-embedding-3-small")
	EmbedderModel string

	// EmbedderDimension is the vector dimension for embeddings
	EmbedderDimension int

	// LLMConfig holds the LLM configuration for answer generation
	LLMConfig narrative.LLMConfig

	// MetricsCSV is where EndSession appends the session summary ("" disables)
	MetricsCSV string

	// Judge enables LLM grading of faithfulness and helpfulness in summaries
	Judge bool

	// FaithfulnessThreshold is the hallucination cut-off for summaries
	FaithfulnessThreshold float64
}

// DefaultRAGConfig returns sensible defaults for the pipeline.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		HelpbookIndex:         "medical-helpbook",
		PatientIndex:          "patient-reports",
		Store:                 StoreConfig{Backend: StoreMilvus},
		EmbedProvider:         EmbedOpenAI,
		EmbedderModel:         "text-embedding-3-small",
		EmbedderDimension:     1536,
		LLMConfig:             narrative.DefaultLLMConfig(),
		MetricsCSV:            "session_metrics.csv",
		Judge:                 true,
		FaithfulnessThreshold: metrics.DefaultFaithfulnessThreshold,
	}
}

// Deps are the collaborators a pipeline can be assembled from directly.
type Deps struct {
	Helpbook rag.ChunkIndex
	Patient  rag.ChunkIndex
	LLM      narrative.LLM

	// Judge is optional; nil leaves summaries unscored
	Judge metrics.Judge
}

// RAGPipeline answers questions about a session's patient documents,
// grounded in the helpbook, and keeps per-session history and metrics.
type RAGPipeline struct {
	config    RAGConfig
	helpbook  rag.ChunkIndex
	patient   rag.ChunkIndex
	retriever *rag.Retriever
	generator *narrative.Generator
	ingester  *ingest.Ingester
	sessions  *SessionStore
	recorder  *metrics.Recorder
	sinks     []metrics.Sink
	judge     metrics.Judge
	logger    *slog.Logger
}

// NewRAGPipeline creates a pipeline with embedder, vector stores and LLM
// built from config. Missing credentials and unknown providers or backends
// are reported as ErrConfiguration.
func NewRAGPipeline(ctx context.Context, config RAGConfig) (*RAGPipeline, error) {
	if config.HelpbookIndex == "" || config.PatientIndex == "" {
		return nil, fmt.Errorf("%w: index names are required", ErrConfiguration)
	}

	// Initialize embedder
	embedder, err := newEmbedder(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create embedder: %w", ErrConfiguration, err)
	}

	// Initialize one vector store per logical index
	helpbookStore, err := newVectorStore(ctx, config.Store, config.HelpbookIndex, config.EmbedderDimension)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open helpbook store: %w", ErrConfiguration, err)
	}
	patientStore, err := newVectorStore(ctx, config.Store, config.PatientIndex, config.EmbedderDimension)
	if err != nil {
		helpbookStore.Close()
		return nil, fmt.Errorf("%w: failed to open patient store: %w", ErrConfiguration, err)
	}

	helpbook, err := rag.NewIndex(config.HelpbookIndex, embedder, helpbookStore)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	patient, err := rag.NewIndex(config.PatientIndex, embedder, patientStore)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	// Initialize LLM
	llm, err := narrative.NewLLM(ctx, config.LLMConfig)
	if err != nil {
		helpbook.Close()
		patient.Close()
		return nil, fmt.Errorf("%w: failed to create LLM: %w", ErrConfiguration, err)
	}

	deps := Deps{Helpbook: helpbook, Patient: patient, LLM: llm}
	if config.Judge {
		deps.Judge = metrics.NewLLMJudge(llm).WithTimeout(config.LLMConfig.Timeout)
	}
	return NewRAGPipelineWithDeps(config, deps)
}

// NewRAGPipelineWithDeps assembles a pipeline from existing collaborators.
func NewRAGPipelineWithDeps(config RAGConfig, deps Deps) (*RAGPipeline, error) {
	retriever, err := rag.NewRetriever(deps.Helpbook, deps.Patient)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("%w: LLM is required", ErrConfiguration)
	}
	if config.FaithfulnessThreshold <= 0 {
		config.FaithfulnessThreshold = metrics.DefaultFaithfulnessThreshold
	}

	return &RAGPipeline{
		config:    config,
		helpbook:  deps.Helpbook,
		patient:   deps.Patient,
		retriever: retriever,
		generator: narrative.NewGenerator(deps.LLM, config.LLMConfig),
		ingester:  ingest.NewIngester(deps.Helpbook, deps.Patient),
		sessions:  NewSessionStore(),
		recorder:  metrics.NewRecorder(),
		judge:     deps.Judge,
		logger:    slog.Default(),
	}, nil
}

// WithLogger sets the pipeline and ingestion logger.
func (p *RAGPipeline) WithLogger(logger *slog.Logger) *RAGPipeline {
	if logger != nil {
		p.logger = logger
		p.ingester.WithLogger(logger)
	}
	return p
}

// WithSink adds a sink that receives every turn record.
func (p *RAGPipeline) WithSink(sink metrics.Sink) *RAGPipeline {
	if sink != nil {
		p.sinks = append(p.sinks, sink)
	}
	return p
}

// Config returns the pipeline configuration.
func (p *RAGPipeline) Config() RAGConfig {
	return p.config
}

// Close releases resources held by the indexes.
func (p *RAGPipeline) Close() error {
	var errs []error
	for _, idx := range []rag.ChunkIndex{p.helpbook, p.patient} {
		if c, ok := idx.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Answer runs one turn: retrieve both sources concurrently, merge, generate
// with the session history, then record history and metrics. Failures never
// escape; a failed generation yields an apology and is not added to history.
func (p *RAGPipeline) Answer(ctx context.Context, question, sessionID string) (string, metrics.AnswerMetrics) {
	unlock := p.sessions.Lock(sessionID)
	defer unlock()

	p.logger.Debug("[RAG Pipeline] answering", "session", sessionID, "question_chars", len(question))
	start := time.Now()

	// Stage 1: Retrieval
	var (
		helpbookRes, patientRes rag.RetrievalResult
		helpbookErr, patientErr error
		g                       errgroup.Group
	)
	g.Go(func() error {
		helpbookRes, helpbookErr = p.retriever.Retrieve(ctx, question, rag.HelpbookScope())
		return nil
	})
	if sessionID != "" {
		g.Go(func() error {
			patientRes, patientErr = p.retriever.Retrieve(ctx, question, rag.PatientScope(sessionID))
			return nil
		})
	}
	_ = g.Wait()
	retrievalDone := time.Now()

	var retrievalErrs []string
	if helpbookErr != nil {
		p.logger.Warn("[RAG Pipeline] helpbook retrieval failed", "session", sessionID, "error", helpbookErr)
		retrievalErrs = append(retrievalErrs, helpbookErr.Error())
	}
	if patientErr != nil {
		p.logger.Warn("[RAG Pipeline] patient retrieval failed", "session", sessionID, "error", patientErr)
		retrievalErrs = append(retrievalErrs, patientErr.Error())
	}
	if patientRes.FallbackUsed {
		p.logger.Info("[RAG Pipeline] patient fallback used", "session", sessionID, "fallback_session", patientRes.FallbackSessionID)
	}
	p.logger.Debug("[RAG Pipeline] retrieved",
		"helpbook", len(helpbookRes.Chunks), "patient", len(patientRes.Chunks))

	// Stage 2: Context merge
	merged := narrative.MergeContext(helpbookRes.Chunks, patientRes.Chunks)

	// Stage 3: Generation
	req := narrative.GenerationRequest{
		System:   narrative.SystemContract,
		History:  p.sessions.History(sessionID),
		Question: question,
		Context:  merged,
	}

	var (
		text     string
		genErr   error
		llmMs    *float64
		genStart = time.Now()
	)
	answer, err := p.generator.Generate(ctx, req)
	if err != nil {
		genErr = err
		text = narrative.Apology(err)
		p.logger.Error("[RAG Pipeline] generation failed", "session", sessionID, "error", err)
	} else {
		text = answer.Text
		ms := metrics.Milliseconds(time.Since(genStart))
		llmMs = &ms
		p.sessions.Append(sessionID, question, text)
	}
	end := time.Now()

	m := metrics.AnswerMetrics{
		SessionID:             sessionID,
		LatencyMsTotal:        metrics.Milliseconds(end.Sub(start)),
		LatencyMsRetrieval:    metrics.Milliseconds(retrievalDone.Sub(start)),
		LatencyMsLLM:          llmMs,
		RetrievedDocsPatient:  len(patientRes.Chunks),
		RetrievedDocsHelpbook: len(helpbookRes.Chunks),
		UsedPatientInAnswer:   narrative.CitesPatient(text),
		UsedHelpbookInAnswer:  narrative.CitesHelpbook(text),
		FallbackUsed:          patientRes.FallbackUsed,
		FallbackSessionID:     patientRes.FallbackSessionID,
		ContextChars:          utf8.RuneCountInString(merged),
		AnswerChars:           utf8.RuneCountInString(text),
		ContextTokens:         metrics.CountTokens(merged),
		RetrievalError:        strings.Join(retrievalErrs, "; "),
		Timestamp:             end,
	}
	if genErr != nil {
		m.GenerationError = genErr.Error()
	}

	p.publish(ctx, metrics.TurnRecord{
		SessionID: sessionID,
		Question:  question,
		Answer:    text,
		Context:   merged,
		Metrics:   m,
		Timestamp: end,
	})

	p.logger.Info("[RAG Pipeline] turn complete",
		"session", sessionID,
		"latency_ms", m.LatencyMsTotal,
		"patient_docs", m.RetrievedDocsPatient,
		"helpbook_docs", m.RetrievedDocsHelpbook,
		"fallback", m.FallbackUsed)

	return text, m
}

func (p *RAGPipeline) publish(ctx context.Context, rec metrics.TurnRecord) {
	_ = p.recorder.Record(ctx, rec)
	for _, sink := range p.sinks {
		if err := sink.Record(ctx, rec); err != nil {
			p.logger.Warn("[RAG Pipeline] metrics sink failed", "session", rec.SessionID, "error", err)
		}
	}
}

// Handle dispatches a tool request for a session. Only invalid requests
// return an error; turn failures surface in the answer text and metrics.
func (p *RAGPipeline) Handle(ctx context.Context, sessionID string, req Request) (string, metrics.AnswerMetrics, error) {
	if req == nil {
		return "", metrics.AnswerMetrics{}, fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}
	if sessionID == "" {
		return "", metrics.AnswerMetrics{}, fmt.Errorf("%w: session id cannot be empty", ErrInvalidRequest)
	}
	query, err := req.Query()
	if err != nil {
		return "", metrics.AnswerMetrics{}, err
	}
	text, m := p.Answer(ctx, query, sessionID)
	return text, m, nil
}

// History returns the session's completed turns, oldest first.
func (p *RAGPipeline) History(sessionID string) []narrative.Turn {
	return p.sessions.History(sessionID)
}

// Turns returns the session's recorded turn log.
func (p *RAGPipeline) Turns(sessionID string) []metrics.TurnRecord {
	return p.recorder.Turns(sessionID)
}

// Clear forgets a session's conversation and turn log and deletes its
// patient chunks.
func (p *RAGPipeline) Clear(ctx context.Context, sessionID string) error {
	unlock := p.sessions.Lock(sessionID)
	defer unlock()

	p.sessions.Clear(sessionID)
	p.recorder.Reset(sessionID)
	if err := p.patient.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete patient documents for session %s: %w", sessionID, err)
	}
	p.logger.Info("[RAG Pipeline] session cleared", "session", sessionID)
	return nil
}

// RotatePatientIndex drops and recreates the patient index and forgets every
// session's conversation and turn log.
func (p *RAGPipeline) RotatePatientIndex(ctx context.Context) error {
	if err := p.patient.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset patient index: %w", err)
	}
	p.sessions.ClearAll()
	p.recorder.ResetAll()
	p.logger.Info("[RAG Pipeline] patient index rotated", "index", p.config.PatientIndex)
	return nil
}

// IngestPatientFiles indexes files from disk for a session. A successful
// ingestion resets the session's conversation so the next turn starts fresh.
func (p *RAGPipeline) IngestPatientFiles(ctx context.Context, sessionID string, paths []string) (int, error) {
	n, err := p.ingester.IngestPatientFiles(ctx, sessionID, paths)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.resetConversation(sessionID)
	}
	return n, nil
}

// IngestPatientUploads is IngestPatientFiles for in-memory uploads.
func (p *RAGPipeline) IngestPatientUploads(ctx context.Context, sessionID string, files []ingest.File) (int, error) {
	n, err := p.ingester.IngestPatientUploads(ctx, sessionID, files)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.resetConversation(sessionID)
	}
	return n, nil
}

// resetConversation forgets the session's history once any in-flight turn
// has finished, so no turn built on the old documents lands after the reset.
func (p *RAGPipeline) resetConversation(sessionID string) {
	unlock := p.sessions.Lock(sessionID)
	defer unlock()
	p.sessions.Clear(sessionID)
}

// IngestHelpbook indexes a helpbook PDF from disk.
func (p *RAGPipeline) IngestHelpbook(ctx context.Context, path string) (int, error) {
	return p.ingester.IngestHelpbook(ctx, path)
}

// IngestHelpbookUpload indexes an uploaded helpbook PDF.
func (p *RAGPipeline) IngestHelpbookUpload(ctx context.Context, f ingest.File) (int, error) {
	return p.ingester.IngestHelpbookUpload(ctx, f)
}

// Watcher returns a drop-folder watcher that ingests patient files for a
// session. Each indexed file resets the session's conversation before
// onIngest (which may be nil) is called.
func (p *RAGPipeline) Watcher(sessionID string, onIngest func(path string, chunks int)) (*ingest.Watcher, error) {
	w, err := ingest.NewWatcher(p.ingester, sessionID)
	if err != nil {
		return nil, err
	}
	w.OnIngest = func(path string, chunks int) {
		if chunks > 0 {
			p.resetConversation(sessionID)
		}
		if onIngest != nil {
			onIngest(path, chunks)
		}
	}
	return w, nil
}

// SummarizeSession rolls the session's turn log up into a summary.
func (p *RAGPipeline) SummarizeSession(ctx context.Context, sessionID string) metrics.SessionSummary {
	return metrics.Summarize(ctx, p.recorder.Turns(sessionID), p.judge, p.config.FaithfulnessThreshold)
}

// EndSession summarizes the session, appends the summary to the metrics CSV
// when one is configured, then clears the session.
func (p *RAGPipeline) EndSession(ctx context.Context, sessionID string) (metrics.SessionSummary, error) {
	summary := p.SummarizeSession(ctx, sessionID)

	if p.config.MetricsCSV != "" {
		extra := map[string]any{
			"patient_index": p.config.PatientIndex,
			"general_index": p.config.HelpbookIndex,
		}
		if err := metrics.AppendSessionSummary(p.config.MetricsCSV, sessionID, summary, extra); err != nil {
			return summary, fmt.Errorf("failed to append session summary: %w", err)
		}
		p.logger.Info("[RAG Pipeline] session summary written", "session", sessionID, "csv", p.config.MetricsCSV)
	}

	if err := p.Clear(ctx, sessionID); err != nil {
		return summary, err
	}
	return summary, nil
}

// Stats reports per-index statistics where the index exposes them.
func (p *RAGPipeline) Stats(ctx context.Context) map[string]any {
	type statter interface {
		Stats(ctx context.Context) (map[string]interface{}, error)
	}

	out := map[string]any{"sessions": len(p.sessions.Sessions())}
	for name, idx := range map[string]rag.ChunkIndex{"helpbook": p.helpbook, "patient": p.patient} {
		s, ok := idx.(statter)
		if !ok {
			continue
		}
		stats, err := s.Stats(ctx)
		if err != nil {
			out[name] = map[string]any{"error": err.Error()}
			continue
		}
		out[name] = stats
	}
	return out
}
