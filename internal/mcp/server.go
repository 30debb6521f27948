// Package mcp serves the pipeline's tools to an agent over the Model Context
// Protocol. Every tool call is answered against one bound session.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Yates-Labs/medrag/internal/logging"
	"github.com/Yates-Labs/medrag/internal/metrics"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
)

const (
	ToolAsk       = "rag_qa"
	ToolSummarize = "summarise_patient_report"
	ToolInterpret = "interpret_lab"
)

// Handler answers a tool request for a session.
type Handler interface {
	Handle(ctx context.Context, sessionID string, req orchestrator.Request) (string, metrics.AnswerMetrics, error)
}

type askParams struct {
	Question string `json:"question" jsonschema:"The patient's question about their uploaded report"`
}

type summarizeParams struct{}

type interpretParams struct {
	TestName string `json:"test_name" jsonschema:"Name of the lab test to interpret, e.g. hemoglobin or TSH"`
}

// Server exposes rag_qa, summarise_patient_report and interpret_lab for one
// session.
type Server struct {
	handler   Handler
	sessionID string
	server    *mcpsdk.Server
	logger    *slog.Logger
}

// NewServer registers the tools for sessionID.
func NewServer(handler Handler, sessionID, version string) *Server {
	s := &Server{
		handler:   handler,
		sessionID: sessionID,
		logger:    logging.Default(),
		server: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "medrag",
			Version: version,
		}, nil),
	}

	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolAsk,
		Description: "Answer a question about the current patient's uploaded documents, grounded in the medical helpbook.",
	}, s.ask)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolSummarize,
		Description: "Summarise the current patient's uploaded lab or clinical report with values, ranges and flags.",
	}, s.summarize)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolInterpret,
		Description: "Interpret one lab test from the current patient's report and say whether it is low, normal or high.",
	}, s.interpret)

	return s
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("[MCP] serving tools over stdio", "session", s.sessionID)
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves over an arbitrary transport, mainly for tests.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

func (s *Server) ask(ctx context.Context, _ *mcpsdk.CallToolRequest, params askParams) (*mcpsdk.CallToolResult, any, error) {
	return s.call(ctx, ToolAsk, orchestrator.AskRequest{Question: params.Question})
}

func (s *Server) summarize(ctx context.Context, _ *mcpsdk.CallToolRequest, _ summarizeParams) (*mcpsdk.CallToolResult, any, error) {
	return s.call(ctx, ToolSummarize, orchestrator.SummarizeRequest{})
}

func (s *Server) interpret(ctx context.Context, _ *mcpsdk.CallToolRequest, params interpretParams) (*mcpsdk.CallToolResult, any, error) {
	return s.call(ctx, ToolInterpret, orchestrator.InterpretLabRequest{TestName: params.TestName})
}

// call reports invalid requests as tool errors so the agent can correct
// its arguments.
func (s *Server) call(ctx context.Context, tool string, req orchestrator.Request) (*mcpsdk.CallToolResult, any, error) {
	text, m, err := s.handler.Handle(ctx, s.sessionID, req)
	if errors.Is(err, orchestrator.ErrInvalidRequest) {
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	s.logger.Debug("[MCP] tool answered", "tool", tool, "session", s.sessionID,
		"latency_ms", m.LatencyMsTotal, "patient_docs", m.RetrievedDocsPatient)

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}, nil, nil
}
