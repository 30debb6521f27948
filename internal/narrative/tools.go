package narrative

import (
	"context"
	"fmt"
)

// ToolParam is one string argument of a tool.
type ToolParam struct {
	Name        string
	Description string
	Required    bool
}

// ToolSpec describes a function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
}

// ToolCall is one function call requested by the model.
type ToolCall struct {
	// ID correlates the call with its result (empty for providers without ids)
	ID   string
	Name string
	Args map[string]any
}

// Arg returns a string argument, or "" when absent or not a string.
func (c ToolCall) Arg(name string) string {
	v, _ := c.Args[name].(string)
	return v
}

// ToolResult is the output sent back for one call.
type ToolResult struct {
	Call   ToolCall
	Output string
}

// ToolRound is one completed model step and the results of its calls.
type ToolRound struct {
	Text    string
	Results []ToolResult
}

// ToolRequest is the state of a tool-calling conversation.
type ToolRequest struct {
	System   string
	History  []Turn
	Question string
	Tools    []ToolSpec

	// Rounds are the earlier steps of this conversation, oldest first
	Rounds []ToolRound
}

// ToolStep is the model's reply to a ToolRequest. No calls means Text is the
// final answer.
type ToolStep struct {
	Text  string
	Calls []ToolCall
}

// ToolCaller is a model that can choose tools.
type ToolCaller interface {
	Step(ctx context.Context, req ToolRequest) (ToolStep, error)
}

// NewToolCaller builds the tool-calling model named by config.Provider.
func NewToolCaller(ctx context.Context, config LLMConfig) (ToolCaller, error) {
	llm, err := NewLLM(ctx, config)
	if err != nil {
		return nil, err
	}
	caller, ok := llm.(ToolCaller)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q does not support tool calls", ErrInvalidConfig, config.Provider)
	}
	return caller, nil
}

func validateToolRequest(req ToolRequest) error {
	if req.Question == "" {
		return fmt.Errorf("%w: question cannot be empty", ErrInvalidConfig)
	}
	if len(req.Tools) == 0 {
		return fmt.Errorf("%w: no tools offered", ErrInvalidConfig)
	}
	return nil
}
