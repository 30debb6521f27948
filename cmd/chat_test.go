package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Yates-Labs/medrag/internal/agent"
	"github.com/Yates-Labs/medrag/internal/metrics"
	"github.com/Yates-Labs/medrag/internal/narrative"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
)

type mockChatPipeline struct {
	handleFunc func(ctx context.Context, sessionID string, req orchestrator.Request) (string, metrics.AnswerMetrics, error)
	history    []narrative.Turn
	requests   []orchestrator.Request
	cleared    int
	ended      int
	endErr     error
}

func (m *mockChatPipeline) Handle(ctx context.Context, sessionID string, req orchestrator.Request) (string, metrics.AnswerMetrics, error) {
	m.requests = append(m.requests, req)
	if m.handleFunc != nil {
		return m.handleFunc(ctx, sessionID, req)
	}
	q, err := req.Query()
	if err != nil {
		return "", metrics.AnswerMetrics{}, err
	}
	m.history = append(m.history, narrative.Turn{Question: q, Answer: "ok"})
	return "answer for " + sessionID, metrics.AnswerMetrics{SessionID: sessionID}, nil
}

func (m *mockChatPipeline) History(sessionID string) []narrative.Turn {
	return m.history
}

func (m *mockChatPipeline) Clear(ctx context.Context, sessionID string) error {
	m.cleared++
	m.history = nil
	return nil
}

func (m *mockChatPipeline) EndSession(ctx context.Context, sessionID string) (metrics.SessionSummary, error) {
	m.ended++
	return metrics.SessionSummary{Timestamp: "2026-01-01 00:00:00"}, m.endErr
}

func TestChatLoop_Commands(t *testing.T) {
	p := &mockChatPipeline{}
	in := strings.NewReader(strings.Join([]string{
		"Is my hemoglobin normal?",
		"",
		"/summary",
		"/interpret TSH",
		"/history",
		"/reset",
		"/bogus",
		"/quit",
		"never asked",
	}, "\n"))
	var out bytes.Buffer

	if err := chatLoop(context.Background(), p, nil, "s1", in, &out); err != nil {
		t.Fatalf("chatLoop returned error: %v", err)
	}

	if len(p.requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(p.requests))
	}
	if _, ok := p.requests[0].(orchestrator.AskRequest); !ok {
		t.Errorf("first request should be an ask, got %T", p.requests[0])
	}
	if _, ok := p.requests[1].(orchestrator.SummarizeRequest); !ok {
		t.Errorf("second request should be a summary, got %T", p.requests[1])
	}
	if r, ok := p.requests[2].(orchestrator.InterpretLabRequest); !ok || r.TestName != "TSH" {
		t.Errorf("third request should interpret TSH, got %#v", p.requests[2])
	}
	if p.cleared != 1 {
		t.Errorf("expected one reset, got %d", p.cleared)
	}
	if p.ended != 1 {
		t.Errorf("expected session to end once, got %d", p.ended)
	}

	text := out.String()
	for _, want := range []string{"answer for s1", "Is my hemoglobin normal?", "Session reset", "Unknown command", "Session summary", "avg_latency_ms_total"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(text, "Patient-first grounding") {
		t.Error("history should show the question without the grounding directive")
	}
}

func TestChatLoop_EOFEndsSession(t *testing.T) {
	p := &mockChatPipeline{}
	var out bytes.Buffer

	if err := chatLoop(context.Background(), p, nil, "s1", strings.NewReader("hello"), &out); err != nil {
		t.Fatalf("chatLoop returned error: %v", err)
	}
	if p.ended != 1 {
		t.Errorf("EOF should end the session")
	}
}

func TestChatLoop_Errors(t *testing.T) {
	t.Run("Invalid request keeps looping", func(t *testing.T) {
		p := &mockChatPipeline{}
		var out bytes.Buffer

		err := chatLoop(context.Background(), p, nil, "s1", strings.NewReader("/interpret\nnext question\n/quit"), &out)
		if err != nil {
			t.Fatalf("chatLoop returned error: %v", err)
		}
		if !strings.Contains(out.String(), "test name cannot be empty") {
			t.Errorf("expected validation error in output, got %q", out.String())
		}
		if len(p.requests) != 2 {
			t.Errorf("expected loop to continue after error, got %d requests", len(p.requests))
		}
	})

	t.Run("End session failure", func(t *testing.T) {
		p := &mockChatPipeline{endErr: errors.New("disk full")}
		var out bytes.Buffer

		err := chatLoop(context.Background(), p, nil, "s1", strings.NewReader("/quit"), &out)
		if err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Errorf("expected end session error, got %v", err)
		}
	})
}

func TestLastLine(t *testing.T) {
	if got := lastLine(narrative.PatientFirst("What is my LDL?")); got != "What is my LDL?" {
		t.Errorf("lastLine() = %q", got)
	}
	if got := lastLine("plain"); got != "plain" {
		t.Errorf("lastLine() = %q", got)
	}
}

type mockChatAgent struct {
	runFunc  func(ctx context.Context, sessionID, message string) (agent.Result, error)
	messages []string
}

func (m *mockChatAgent) Run(ctx context.Context, sessionID, message string) (agent.Result, error) {
	m.messages = append(m.messages, message)
	if m.runFunc != nil {
		return m.runFunc(ctx, sessionID, message)
	}
	return agent.Result{
		Answer:  "routed answer",
		Tools:   []agent.Invocation{{Name: agent.ToolInterpret}, {Name: agent.ToolWebQuick, Error: "timeout"}},
		Metrics: &metrics.AnswerMetrics{SessionID: sessionID},
	}, nil
}

func TestChatLoop_AgentRoutesPlainLines(t *testing.T) {
	p := &mockChatPipeline{}
	a := &mockChatAgent{}
	var out bytes.Buffer

	in := strings.NewReader("Is my TSH ok?\n/summary\n/quit")
	if err := chatLoop(context.Background(), p, a, "s1", in, &out); err != nil {
		t.Fatalf("chatLoop returned error: %v", err)
	}

	if len(a.messages) != 1 || a.messages[0] != "Is my TSH ok?" {
		t.Errorf("expected the plain line to be routed, got %v", a.messages)
	}
	if len(p.requests) != 1 {
		t.Fatalf("expected only /summary to reach the pipeline, got %d requests", len(p.requests))
	}
	if _, ok := p.requests[0].(orchestrator.SummarizeRequest); !ok {
		t.Errorf("expected summary request, got %T", p.requests[0])
	}

	text := out.String()
	for _, want := range []string{"routed answer", "interpret_lab → web_search_quick (failed)"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestChatLoop_AgentError(t *testing.T) {
	p := &mockChatPipeline{}
	a := &mockChatAgent{runFunc: func(ctx context.Context, sessionID, message string) (agent.Result, error) {
		return agent.Result{}, errors.New("message cannot be empty")
	}}
	var out bytes.Buffer

	if err := chatLoop(context.Background(), p, a, "s1", strings.NewReader("hello\n/quit"), &out); err != nil {
		t.Fatalf("chatLoop returned error: %v", err)
	}
	if !strings.Contains(out.String(), "message cannot be empty") {
		t.Errorf("expected agent error in output, got %q", out.String())
	}
	if p.ended != 1 {
		t.Error("session should still end")
	}
}

func TestRenderTools(t *testing.T) {
	got := renderTools(agent.Result{Tools: []agent.Invocation{{Name: agent.ToolAsk}}, Fallback: true})
	if !strings.Contains(got, "rag_qa") || !strings.Contains(got, "fell back") {
		t.Errorf("renderTools() = %q", got)
	}
	if got := renderTools(agent.Result{}); !strings.Contains(got, "none") {
		t.Errorf("renderTools() = %q", got)
	}
}
