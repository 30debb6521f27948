package rag

import (
	"context"
	"fmt"
)

// PatientQuerySuffix steers patient retrieval toward concrete values.
const PatientQuerySuffix = " include exact units, reference ranges, and any symptoms/advisory sections"

// Fallback search limits used when the session filter matches nothing.
const (
	fallbackSearchK = 8
	fallbackMaxDocs = 10
)

// Retriever provides scoped retrieval over the helpbook and patient indexes.
type Retriever struct {
	helpbook ChunkIndex
	patient  ChunkIndex
}

// NewRetriever creates a new Retriever instance.
func NewRetriever(helpbook, patient ChunkIndex) (*Retriever, error) {
	if helpbook == nil {
		return nil, fmt.Errorf("helpbook index cannot be nil")
	}
	if patient == nil {
		return nil, fmt.Errorf("patient index cannot be nil")
	}

	return &Retriever{
		helpbook: helpbook,
		patient:  patient,
	}, nil
}

// Retrieve runs one scoped retrieval for the question.
//
// Helpbook scopes use the question as-is. Patient scopes append
// PatientQuerySuffix and, when a session filter is set but matches nothing,
// fall back to an unfiltered search narrowed to the top hit's session.
func (r *Retriever) Retrieve(ctx context.Context, question string, scope Scope) (RetrievalResult, error) {
	if question == "" {
		return RetrievalResult{}, fmt.Errorf("query cannot be empty")
	}
	if scope.K <= 0 {
		return RetrievalResult{}, fmt.Errorf("k must be positive, got %d", scope.K)
	}

	switch scope.Index {
	case KindHelpbook:
		chunks, err := r.helpbook.MaxMarginalRelevanceSearch(ctx, question, scope.K, scope.FetchK, scope.DiversityWeight, filterFor(scope))
		if err != nil {
			return RetrievalResult{}, fmt.Errorf("%w: helpbook: %v", ErrRetrievalUnavailable, err)
		}
		return RetrievalResult{Chunks: chunks}, nil
	case KindPatient:
		return r.retrievePatient(ctx, question+PatientQuerySuffix, scope)
	default:
		return RetrievalResult{}, fmt.Errorf("unknown index %q", scope.Index)
	}
}

func (r *Retriever) retrievePatient(ctx context.Context, query string, scope Scope) (RetrievalResult, error) {
	chunks, err := r.patient.MaxMarginalRelevanceSearch(ctx, query, scope.K, scope.FetchK, scope.DiversityWeight, filterFor(scope))
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("%w: patient: %v", ErrRetrievalUnavailable, err)
	}
	if len(chunks) > 0 || scope.SessionFilter == "" {
		return RetrievalResult{Chunks: chunks}, nil
	}

	// Nothing for this session: search broadly and keep only the session
	// the most similar chunk belongs to.
	broad, err := r.patient.SimilaritySearch(ctx, query, fallbackSearchK, nil)
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("%w: patient fallback: %v", ErrRetrievalUnavailable, err)
	}
	if len(broad) == 0 {
		return RetrievalResult{Chunks: []Chunk{}}, nil
	}

	discovered := broad[0].SessionID
	narrowed := make([]Chunk, 0, len(broad))
	for _, c := range broad {
		if c.SessionID != discovered {
			continue
		}
		narrowed = append(narrowed, c)
		if len(narrowed) == fallbackMaxDocs {
			break
		}
	}

	return RetrievalResult{
		Chunks:            narrowed,
		FallbackUsed:      true,
		FallbackSessionID: discovered,
	}, nil
}

// RetrieveHelpbook retrieves from the reference corpus with default settings.
func (r *Retriever) RetrieveHelpbook(ctx context.Context, question string) (RetrievalResult, error) {
	return r.Retrieve(ctx, question, HelpbookScope())
}

// RetrievePatient retrieves the session's patient chunks with default settings.
func (r *Retriever) RetrievePatient(ctx context.Context, question, sessionID string) (RetrievalResult, error) {
	return r.Retrieve(ctx, question, PatientScope(sessionID))
}

func filterFor(scope Scope) *SearchOptions {
	if scope.SessionFilter == "" {
		return nil
	}
	return &SearchOptions{SessionID: scope.SessionFilter}
}
