package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// mockIndex implements ChunkIndex for testing
type mockIndex struct {
	mmrFunc        func(ctx context.Context, query string, k, fetchK int, w float64, opts *SearchOptions) ([]Chunk, error)
	similarityFunc func(ctx context.Context, query string, k int, opts *SearchOptions) ([]Chunk, error)

	lastQuery string
	lastOpts  *SearchOptions
}

func (m *mockIndex) Add(ctx context.Context, chunks []Chunk) (int, error) {
	return len(chunks), nil
}

func (m *mockIndex) MaxMarginalRelevanceSearch(ctx context.Context, query string, k, fetchK int, w float64, opts *SearchOptions) ([]Chunk, error) {
	m.lastQuery = query
	m.lastOpts = opts
	if m.mmrFunc != nil {
		return m.mmrFunc(ctx, query, k, fetchK, w, opts)
	}
	return []Chunk{}, nil
}

func (m *mockIndex) SimilaritySearch(ctx context.Context, query string, k int, opts *SearchOptions) ([]Chunk, error) {
	if m.similarityFunc != nil {
		return m.similarityFunc(ctx, query, k, opts)
	}
	return []Chunk{}, nil
}

func (m *mockIndex) DeleteSession(ctx context.Context, sessionID string) error { return nil }
func (m *mockIndex) Reset(ctx context.Context) error                         { return nil }

func TestNewRetriever(t *testing.T) {
	t.Run("Valid parameters", func(t *testing.T) {
		r, err := NewRetriever(&mockIndex{}, &mockIndex{})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if r == nil {
			t.Fatal("Expected non-nil retriever")
		}
	})

	t.Run("Nil helpbook", func(t *testing.T) {
		if _, err := NewRetriever(nil, &mockIndex{}); err == nil {
			t.Fatal("Expected error for nil helpbook index")
		}
	})

	t.Run("Nil patient", func(t *testing.T) {
		if _, err := NewRetriever(&mockIndex{}, nil); err == nil {
			t.Fatal("Expected error for nil patient index")
		}
	})
}

func TestScopeDefaults(t *testing.T) {
	h := HelpbookScope()
	if h.Index != KindHelpbook || h.K != 6 || h.FetchK != 100 || h.DiversityWeight != 0.2 || h.SessionFilter != "" {
		t.Errorf("Unexpected helpbook scope: %+v", h)
	}

	p := PatientScope("S1")
	if p.Index != KindPatient || p.K != 10 || p.FetchK != 50 || p.DiversityWeight != 0.35 || p.SessionFilter != "S1" {
		t.Errorf("Unexpected patient scope: %+v", p)
	}
}

func TestRetriever_Helpbook(t *testing.T) {
	ctx := context.Background()
	helpbook := &mockIndex{
		mmrFunc: func(ctx context.Context, query string, k, fetchK int, w float64, opts *SearchOptions) ([]Chunk, error) {
			if k != 6 || fetchK != 100 || w != 0.2 {
				return nil, fmt.Errorf("unexpected params k=%d fetchK=%d w=%f", k, fetchK, w)
			}
			return []Chunk{{ID: "h-0", Content: "Normal hemoglobin range is 12-15 g/dL", Kind: KindHelpbook}}, nil
		},
	}
	r, _ := NewRetriever(helpbook, &mockIndex{})

	result, err := r.RetrieveHelpbook(ctx, "What is my hemoglobin?")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(result.Chunks))
	}
	if helpbook.lastQuery != "What is my hemoglobin?" {
		t.Errorf("Helpbook query should be the raw question, got %q", helpbook.lastQuery)
	}
	if helpbook.lastOpts != nil {
		t.Errorf("Helpbook search should be unscoped, got %+v", helpbook.lastOpts)
	}
	if result.FallbackUsed {
		t.Error("Helpbook retrieval never uses fallback")
	}
}

func TestRetriever_PatientFiltered(t *testing.T) {
	ctx := context.Background()
	patient := &mockIndex{
		mmrFunc: func(ctx context.Context, query string, k, fetchK int, w float64, opts *SearchOptions) ([]Chunk, error) {
			return []Chunk{{ID: "p-0", Content: "Hemoglobin 11.1 g/dL", SessionID: opts.SessionID}}, nil
		},
		similarityFunc: func(ctx context.Context, query string, k int, opts *SearchOptions) ([]Chunk, error) {
			return nil, errors.New("fallback should not run")
		},
	}
	r, _ := NewRetriever(&mockIndex{}, patient)

	result, err := r.RetrievePatient(ctx, "What is my hemoglobin?", "S1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.FallbackUsed {
		t.Error("Expected no fallback when filtered search has results")
	}
	if !strings.HasSuffix(patient.lastQuery, PatientQuerySuffix) {
		t.Errorf("Expected patient query suffix, got %q", patient.lastQuery)
	}
	if patient.lastOpts == nil || patient.lastOpts.SessionID != "S1" {
		t.Errorf("Expected session filter S1, got %+v", patient.lastOpts)
	}
}

func TestRetriever_PatientFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("Narrows to top hit session", func(t *testing.T) {
		patient := &mockIndex{
			similarityFunc: func(ctx context.Context, query string, k int, opts *SearchOptions) ([]Chunk, error) {
				if k != 8 || opts != nil {
					return nil, fmt.Errorf("unexpected fallback params k=%d opts=%v", k, opts)
				}
				return []Chunk{
					{ID: "b-0", SessionID: "S2"},
					{ID: "c-0", SessionID: "S9"},
					{ID: "b-1", SessionID: "S2"},
				}, nil
			},
		}
		r, _ := NewRetriever(&mockIndex{}, patient)

		result, err := r.RetrievePatient(ctx, "ferritin", "S-missing")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !result.FallbackUsed {
			t.Fatal("Expected fallback to be used")
		}
		if result.FallbackSessionID != "S2" {
			t.Errorf("Expected discovered session S2, got %q", result.FallbackSessionID)
		}
		if len(result.Chunks) != 2 {
			t.Fatalf("Expected 2 chunks, got %d", len(result.Chunks))
		}
		for _, c := range result.Chunks {
			if c.SessionID != "S2" {
				t.Errorf("Expected only S2 chunks, got %s", c.SessionID)
			}
		}
	})

	t.Run("Caps fallback docs", func(t *testing.T) {
		patient := &mockIndex{
			similarityFunc: func(ctx context.Context, query string, k int, opts *SearchOptions) ([]Chunk, error) {
				chunks := make([]Chunk, 12)
				for i := range chunks {
					chunks[i] = Chunk{ID: fmt.Sprintf("x-%d", i), SessionID: "S2"}
				}
				return chunks, nil
			},
		}
		r, _ := NewRetriever(&mockIndex{}, patient)

		result, _ := r.RetrievePatient(ctx, "ferritin", "S1")
		if len(result.Chunks) != 10 {
			t.Errorf("Expected fallback capped at 10, got %d", len(result.Chunks))
		}
	})

	t.Run("Empty index", func(t *testing.T) {
		r, _ := NewRetriever(&mockIndex{}, &mockIndex{})

		result, err := r.RetrievePatient(ctx, "ferritin", "S1")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if result.FallbackUsed {
			t.Error("Expected fallback flag false when nothing is found")
		}
		if len(result.Chunks) != 0 {
			t.Errorf("Expected no chunks, got %d", len(result.Chunks))
		}
	})

	t.Run("No session filter skips fallback", func(t *testing.T) {
		called := false
		patient := &mockIndex{
			similarityFunc: func(ctx context.Context, query string, k int, opts *SearchOptions) ([]Chunk, error) {
				called = true
				return nil, nil
			},
		}
		r, _ := NewRetriever(&mockIndex{}, patient)

		scope := PatientScope("")
		if _, err := r.Retrieve(ctx, "ferritin", scope); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if called {
			t.Error("Fallback must only run for session-filtered scopes")
		}
	})
}

func TestRetriever_Errors(t *testing.T) {
	ctx := context.Background()
	failing := &mockIndex{
		mmrFunc: func(ctx context.Context, query string, k, fetchK int, w float64, opts *SearchOptions) ([]Chunk, error) {
			return nil, errors.New("connection refused")
		},
	}
	r, _ := NewRetriever(failing, failing)

	t.Run("Store failure is retrieval unavailable", func(t *testing.T) {
		_, err := r.RetrieveHelpbook(ctx, "anything")
		if !errors.Is(err, ErrRetrievalUnavailable) {
			t.Errorf("Expected ErrRetrievalUnavailable, got: %v", err)
		}
		_, err = r.RetrievePatient(ctx, "anything", "S1")
		if !errors.Is(err, ErrRetrievalUnavailable) {
			t.Errorf("Expected ErrRetrievalUnavailable, got: %v", err)
		}
	})

	t.Run("Empty query", func(t *testing.T) {
		if _, err := r.RetrieveHelpbook(ctx, ""); err == nil {
			t.Error("Expected error for empty query")
		}
	})

	t.Run("Non-positive k", func(t *testing.T) {
		scope := HelpbookScope()
		scope.K = 0
		if _, err := r.Retrieve(ctx, "anything", scope); err == nil {
			t.Error("Expected error for k=0")
		}
	})
}

// TestRetriever_InMemoryFallback exercises the full index stack: a session
// with no documents falls back to exactly one other session's chunks.
func TestRetriever_InMemoryFallback(t *testing.T) {
	ctx := context.Background()
	embedder := NewMockEmbedder(64)

	helpbook, _ := NewIndex("medical-helpbook", embedder, NewInMemoryStore("medical-helpbook"))
	patient, _ := NewIndex("patient-reports", embedder, NewInMemoryStore("patient-reports"))

	_, err := patient.Add(ctx, []Chunk{
		{ID: "aaaa0001-0", Content: "Ferritin 8 ng/mL low iron stores", SessionID: "S2", Kind: KindPatient},
		{ID: "aaaa0001-1", Content: "Hemoglobin 10.9 g/dL", SessionID: "S2", Kind: KindPatient},
		{ID: "bbbb0002-0", Content: "Vitamin D 22 ng/mL insufficient", SessionID: "S9", Kind: KindPatient},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	r, _ := NewRetriever(helpbook, patient)
	result, err := r.RetrievePatient(ctx, "ferritin", "S-empty")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.FallbackUsed {
		t.Fatal("Expected fallback to be used")
	}
	if result.FallbackSessionID != "S2" && result.FallbackSessionID != "S9" {
		t.Fatalf("Unexpected fallback session %q", result.FallbackSessionID)
	}
	for _, c := range result.Chunks {
		if c.SessionID != result.FallbackSessionID {
			t.Errorf("Chunk %s from session %s, expected %s", c.ID, c.SessionID, result.FallbackSessionID)
		}
	}

	// The helpbook is empty: unscoped retrieval returns nothing, without error
	hb, err := r.RetrieveHelpbook(ctx, "ferritin")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(hb.Chunks) != 0 {
		t.Errorf("Expected empty helpbook result, got %d", len(hb.Chunks))
	}
}
