// Package metrics records per-turn answer telemetry and rolls a session's
// turns up into a summary row suitable for offline evaluation.
package metrics

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// AnswerMetrics describes one answered turn.
type AnswerMetrics struct {
	SessionID string `json:"session_id"`

	LatencyMsTotal     float64 `json:"latency_ms_total"`
	LatencyMsRetrieval float64 `json:"latency_ms_retrieval"`
	// LatencyMsLLM is nil when generation failed
	LatencyMsLLM *float64 `json:"latency_ms_llm"`

	RetrievedDocsPatient  int `json:"retrieved_docs_patient"`
	RetrievedDocsHelpbook int `json:"retrieved_docs_helpbook"`

	UsedPatientInAnswer  bool `json:"used_patient_in_answer"`
	UsedHelpbookInAnswer bool `json:"used_helpbook_in_answer"`

	FallbackUsed      bool   `json:"fallback_used"`
	FallbackSessionID string `json:"fallback_session_id,omitempty"`

	ContextChars  int `json:"context_chars"`
	AnswerChars   int `json:"answer_chars"`
	ContextTokens int `json:"context_tokens"`

	RetrievalError  string `json:"retrieval_error,omitempty"`
	GenerationError string `json:"generation_error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Milliseconds converts a duration to milliseconds rounded to 0.1 ms.
func Milliseconds(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*10) / 10
}

// TurnRecord is one completed turn as seen by a Sink.
type TurnRecord struct {
	SessionID string        `json:"session_id"`
	Question  string        `json:"question"`
	Answer    string        `json:"answer"`
	Context   string        `json:"context"`
	Metrics   AnswerMetrics `json:"metrics"`
	Timestamp time.Time     `json:"timestamp"`
}

// Sink receives turn records as they are produced.
type Sink interface {
	Record(ctx context.Context, rec TurnRecord) error
}

// Recorder is an in-memory Sink keeping each session's turn log.
type Recorder struct {
	mu    sync.RWMutex
	turns map[string][]TurnRecord
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{turns: make(map[string][]TurnRecord)}
}

// Record appends rec to its session's log.
func (r *Recorder) Record(_ context.Context, rec TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[rec.SessionID] = append(r.turns[rec.SessionID], rec)
	return nil
}

// Turns returns a copy of a session's turn log in arrival order.
func (r *Recorder) Turns(sessionID string) []TurnRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TurnRecord, len(r.turns[sessionID]))
	copy(out, r.turns[sessionID])
	return out
}

// Reset drops a session's turn log.
func (r *Recorder) Reset(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.turns, sessionID)
}

// ResetAll drops every session's turn log.
func (r *Recorder) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = make(map[string][]TurnRecord)
}

// Sessions lists the sessions with at least one recorded turn, sorted.
func (r *Recorder) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.turns))
	for id := range r.turns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
