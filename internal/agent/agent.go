// Package agent lets the model route a chat message to the session's
// records tools (rag_qa, summarise_patient_report, interpret_lab) and, when
// enabled, to web search. Records tools are lowered onto the pipeline's
// closed request set; the model's final reply is the turn's answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Yates-Labs/medrag/internal/metrics"
	"github.com/Yates-Labs/medrag/internal/narrative"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
)

var ErrUnknownTool = errors.New("unknown tool")

const (
	ToolAsk        = "rag_qa"
	ToolSummarize  = "summarise_patient_report"
	ToolInterpret  = "interpret_lab"
	ToolWebQuick   = "web_search_quick"
	ToolWebResults = "web_search_results"
)

const systemPrompt = "Patient and helpbook documents are already indexed for this session. " +
	"Always try a records tool first: rag_qa, summarise_patient_report or interpret_lab. " +
	"Use web_search_quick or web_search_results only when the needed information is not in the patient documents or helpbook, or must be up to date. " +
	"Never ask the user to upload documents. " +
	"When a records tool answers, pass its answer on and keep its [patient] and [helpbook] tags; mark anything taken from the web with [web]."

// Pipeline is what the agent needs from the question answering pipeline.
type Pipeline interface {
	Handle(ctx context.Context, sessionID string, req orchestrator.Request) (string, metrics.AnswerMetrics, error)
	History(sessionID string) []narrative.Turn
}

// Searcher looks things up on the web.
type Searcher interface {
	// Quick returns the single most relevant snippet
	Quick(ctx context.Context, query string) (string, error)

	// Results returns up to n results with titles and links
	Results(ctx context.Context, query string, n int) (string, error)
}

// Config controls the routing loop.
type Config struct {
	// MaxSteps caps model rounds per message
	MaxSteps int

	// SearchResults is n for web_search_results
	SearchResults int

	// StepTimeout bounds one model round (0 = no explicit bound)
	StepTimeout time.Duration
}

// DefaultConfig returns the routing defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:      5,
		SearchResults: 5,
		StepTimeout:   60 * time.Second,
	}
}

// Invocation records one tool call made while answering.
type Invocation struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Output string         `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Result is the outcome of one routed message.
type Result struct {
	Answer string       `json:"answer"`
	Tools  []Invocation `json:"tools"`

	// Metrics come from the last records tool that ran; nil if none did
	Metrics *metrics.AnswerMetrics `json:"metrics,omitempty"`

	// Fallback is set when routing failed and the message went straight
	// to rag_qa
	Fallback bool `json:"fallback"`
}

// Agent routes chat messages for any session of one pipeline.
type Agent struct {
	pipeline Pipeline
	caller   narrative.ToolCaller
	search   Searcher
	config   Config
	logger   *slog.Logger
}

// New creates an agent without web search.
func New(pipeline Pipeline, caller narrative.ToolCaller, config Config) (*Agent, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("agent: pipeline is required")
	}
	if caller == nil {
		return nil, fmt.Errorf("agent: tool-calling model is required")
	}
	def := DefaultConfig()
	if config.MaxSteps <= 0 {
		config.MaxSteps = def.MaxSteps
	}
	if config.SearchResults <= 0 {
		config.SearchResults = def.SearchResults
	}
	return &Agent{
		pipeline: pipeline,
		caller:   caller,
		config:   config,
		logger:   slog.Default(),
	}, nil
}

// WithSearch enables the web search tools.
func (a *Agent) WithSearch(s Searcher) *Agent {
	a.search = s
	return a
}

// WithLogger sets the logger.
func (a *Agent) WithLogger(logger *slog.Logger) *Agent {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Tools lists the tools offered to the model.
func (a *Agent) Tools() []narrative.ToolSpec {
	tools := []narrative.ToolSpec{
		{
			Name:        ToolAsk,
			Description: "Default. Use first for any question about this patient. Grounds the answer in the patient's documents and falls back to the medical helpbook.",
			Params:      []narrative.ToolParam{{Name: "question", Description: "The question to answer", Required: true}},
		},
		{
			Name:        ToolSummarize,
			Description: "Summarise the patient's report with values, reference ranges, flagged items, a short interpretation and next steps.",
		},
		{
			Name:        ToolInterpret,
			Description: "Explain one lab test. Cites the patient's value and range when present and says whether it is low, normal or high.",
			Params:      []narrative.ToolParam{{Name: "test_name", Description: "Name of the lab test, e.g. TSH", Required: true}},
		},
	}
	if a.search != nil {
		tools = append(tools,
			narrative.ToolSpec{
				Name:        ToolWebQuick,
				Description: "Quick web lookup for up-to-date facts. Use only when the answer is not in the patient documents or helpbook.",
				Params:      []narrative.ToolParam{{Name: "query", Description: "Search query", Required: true}},
			},
			narrative.ToolSpec{
				Name:        ToolWebResults,
				Description: fmt.Sprintf("Web search returning the top %d results with titles and links, for cross-checking.", a.config.SearchResults),
				Params:      []narrative.ToolParam{{Name: "query", Description: "Search query", Required: true}},
			},
		)
	}
	return tools
}

// Run answers message for a session, letting the model pick tools. If the
// model fails or never produces an answer the message is answered by
// rag_qa directly.
func (a *Agent) Run(ctx context.Context, sessionID, message string) (Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{}, fmt.Errorf("%w: message cannot be empty", orchestrator.ErrInvalidRequest)
	}
	if sessionID == "" {
		return Result{}, fmt.Errorf("%w: session id cannot be empty", orchestrator.ErrInvalidRequest)
	}

	req := narrative.ToolRequest{
		System:   systemPrompt,
		History:  a.pipeline.History(sessionID),
		Question: message,
		Tools:    a.Tools(),
	}

	var (
		res     Result
		lastOut string
	)
	for i := 0; i < a.config.MaxSteps; i++ {
		step, err := a.step(ctx, req)
		if err != nil {
			a.logger.Warn("[Agent] routing failed, answering with rag_qa", "session", sessionID, "error", err)
			return a.fallback(ctx, sessionID, message, res)
		}
		if len(step.Calls) == 0 {
			res.Answer = strings.TrimSpace(step.Text)
			break
		}

		round := narrative.ToolRound{Text: step.Text}
		for _, call := range step.Calls {
			out, m, err := a.execute(ctx, sessionID, message, call)
			inv := Invocation{Name: call.Name, Args: call.Args, Output: out}
			if err != nil {
				inv.Error = err.Error()
				out = "Error: " + err.Error()
				a.logger.Warn("[Agent] tool failed", "session", sessionID, "tool", call.Name, "error", err)
			} else {
				lastOut = out
			}
			if m != nil {
				res.Metrics = m
			}
			res.Tools = append(res.Tools, inv)
			round.Results = append(round.Results, narrative.ToolResult{Call: call, Output: out})
		}
		req.Rounds = append(req.Rounds, round)
	}

	if res.Answer == "" {
		if lastOut == "" {
			return a.fallback(ctx, sessionID, message, res)
		}
		res.Answer = lastOut
	}

	a.logger.Info("[Agent] message routed", "session", sessionID, "tools", len(res.Tools))
	return res, nil
}

func (a *Agent) step(ctx context.Context, req narrative.ToolRequest) (narrative.ToolStep, error) {
	if a.config.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.StepTimeout)
		defer cancel()
	}
	return a.caller.Step(ctx, req)
}

// execute runs one tool call. Records tools return the turn's metrics.
func (a *Agent) execute(ctx context.Context, sessionID, message string, call narrative.ToolCall) (string, *metrics.AnswerMetrics, error) {
	switch call.Name {
	case ToolAsk:
		q := call.Arg("question")
		if strings.TrimSpace(q) == "" {
			q = message
		}
		return a.records(ctx, sessionID, orchestrator.AskRequest{Question: q})
	case ToolSummarize:
		return a.records(ctx, sessionID, orchestrator.SummarizeRequest{})
	case ToolInterpret:
		return a.records(ctx, sessionID, orchestrator.InterpretLabRequest{TestName: call.Arg("test_name")})
	case ToolWebQuick, ToolWebResults:
		if a.search == nil {
			return "", nil, fmt.Errorf("%w: %s (web search is disabled)", ErrUnknownTool, call.Name)
		}
		query := strings.TrimSpace(call.Arg("query"))
		if query == "" {
			return "", nil, errors.New("query cannot be empty")
		}
		var (
			out string
			err error
		)
		if call.Name == ToolWebQuick {
			out, err = a.search.Quick(ctx, query)
		} else {
			out, err = a.search.Results(ctx, query, a.config.SearchResults)
		}
		return out, nil, err
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
}

func (a *Agent) records(ctx context.Context, sessionID string, req orchestrator.Request) (string, *metrics.AnswerMetrics, error) {
	answer, m, err := a.pipeline.Handle(ctx, sessionID, req)
	if err != nil {
		return "", nil, err
	}
	return answer, &m, nil
}

func (a *Agent) fallback(ctx context.Context, sessionID, message string, res Result) (Result, error) {
	answer, m, err := a.pipeline.Handle(ctx, sessionID, orchestrator.AskRequest{Question: message})
	if err != nil {
		return res, err
	}
	res.Answer = answer
	res.Metrics = &m
	res.Fallback = true
	res.Tools = append(res.Tools, Invocation{Name: ToolAsk, Args: map[string]any{"question": message}, Output: answer})
	return res, nil
}
