package narrative

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockLLM is a deterministic LLM implementation for testing.
// It returns predictable responses based on request content.
type MockLLM struct {
	// Response is the fixed text returned by Generate.
	// If empty, a default response is generated from the request.
	Response string

	// Error, if set, is returned by Generate instead of a response.
	Error error

	// Delay, if set, is waited out before responding (honoring ctx).
	Delay time.Duration

	// Steps are returned by Step in order; once used up Step answers with
	// Response and no calls.
	Steps []ToolStep

	mu          sync.Mutex
	lastRequest GenerationRequest
	calls       int
	toolReqs    []ToolRequest
}

// NewMockLLM creates a mock LLM with the given fixed response.
func NewMockLLM(response string) *MockLLM {
	return &MockLLM{Response: response}
}

// NewMockLLMWithError creates a mock LLM that always returns an error.
func NewMockLLMWithError(err error) *MockLLM {
	return &MockLLM{Error: err}
}

// LastRequest returns the most recent request passed to Generate.
func (m *MockLLM) LastRequest() GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// Calls returns how many times Generate was invoked.
func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate returns the configured response or generates a deterministic one.
func (m *MockLLM) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	m.mu.Lock()
	m.lastRequest = req
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.Error != nil {
		return "", m.Error
	}

	if m.Response != "" {
		return m.Response, nil
	}

	return generateMockResponse(req), nil
}

// generateMockResponse echoes the first line of each source block with its tag.
func generateMockResponse(req GenerationRequest) string {
	var patient, helpbook string
	for _, line := range strings.Split(req.Context, "\n") {
		switch {
		case patient == "" && strings.HasPrefix(line, patientTag):
			patient = strings.TrimSpace(strings.TrimPrefix(line, patientTag))
		case helpbook == "" && strings.HasPrefix(line, helpbookTag):
			helpbook = strings.TrimSpace(strings.TrimPrefix(line, helpbookTag))
		}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("In brief: answer to %q after %d prior turns.", req.Question, len(req.History)))
	if patient == "" {
		b.WriteString(" Not found in patient docs.")
	} else {
		b.WriteString(fmt.Sprintf(" %s [patient].", patient))
	}
	if helpbook != "" {
		b.WriteString(fmt.Sprintf(" %s [helpbook].", helpbook))
	}
	if patient == "" && helpbook == "" {
		b.WriteString(" " + NotAvailable)
	}
	return b.String()
}

// ToolRequests returns every request passed to Step.
func (m *MockLLM) ToolRequests() []ToolRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolRequest(nil), m.toolReqs...)
}

// Step replays the scripted Steps.
func (m *MockLLM) Step(ctx context.Context, req ToolRequest) (ToolStep, error) {
	m.mu.Lock()
	m.toolReqs = append(m.toolReqs, req)
	n := len(m.toolReqs)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ToolStep{}, err
	}
	if m.Error != nil {
		return ToolStep{}, m.Error
	}
	if n <= len(m.Steps) {
		return m.Steps[n-1], nil
	}
	return ToolStep{Text: m.Response}, nil
}
