package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAILLM implements the LLM interface using OpenAI's API.
type OpenAILLM struct {
	client openai.Client
	config LLMConfig
}

// NewOpenAILLM creates an OpenAI-backed LLM implementation.
// Returns an error if the API key is missing or invalid.
func NewOpenAILLM(config LLMConfig) (*OpenAILLM, error) {
	// Use config API key or fall back to environment variable
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key (set OPENAI_API_KEY or provide in config)", ErrInvalidConfig)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrInvalidConfig)
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &OpenAILLM{
		client: client,
		config: config,
	}, nil
}

// messages lays out system contract, prior turns and the new question.
func (o *OpenAILLM) messages(req GenerationRequest) []openai.ChatCompletionMessageParamUnion {
	return append(conversation(req.System, req.History), openai.UserMessage(req.UserMessage()))
}

func conversation(system string, history []Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2+2*len(history))
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, turn := range history {
		msgs = append(msgs,
			openai.UserMessage(turn.Question),
			openai.AssistantMessage(turn.Answer),
		)
	}
	return msgs
}

// Generate sends the conversation to OpenAI and returns the generated text.
func (o *OpenAILLM) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	if req.Question == "" {
		return "", fmt.Errorf("%w: question cannot be empty", ErrInvalidConfig)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.config.Model),
		Messages: o.messages(req),
	}

	if o.config.Temperature > 0 {
		params.Temperature = openai.Float(float64(o.config.Temperature))
	}
	if o.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.config.MaxTokens))
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLLMFailed, err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no response generated", ErrLLMFailed)
	}

	return completion.Choices[0].Message.Content, nil
}

// Step runs one tool-calling round: the model either answers or asks for
// one or more tool calls.
func (o *OpenAILLM) Step(ctx context.Context, req ToolRequest) (ToolStep, error) {
	if err := validateToolRequest(req); err != nil {
		return ToolStep{}, err
	}

	msgs, err := toolMessages(req)
	if err != nil {
		return ToolStep{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.config.Model),
		Messages: msgs,
		Tools:    openAITools(req.Tools),
	}
	if o.config.Temperature > 0 {
		params.Temperature = openai.Float(float64(o.config.Temperature))
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ToolStep{}, fmt.Errorf("%w: %w", ErrLLMFailed, err)
	}
	if len(completion.Choices) == 0 {
		return ToolStep{}, fmt.Errorf("%w: no response generated", ErrLLMFailed)
	}

	msg := completion.Choices[0].Message
	step := ToolStep{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return ToolStep{}, fmt.Errorf("%w: bad arguments for %s: %w", ErrLLMFailed, tc.Function.Name, err)
			}
		}
		step.Calls = append(step.Calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return step, nil
}

// toolMessages replays the conversation and every earlier round as
// assistant tool calls followed by their tool results.
func toolMessages(req ToolRequest) ([]openai.ChatCompletionMessageParamUnion, error) {
	msgs := append(conversation(req.System, req.History), openai.UserMessage(req.Question))
	for _, round := range req.Rounds {
		assistant := openai.ChatCompletionAssistantMessageParam{}
		if round.Text != "" {
			assistant.Content.OfString = openai.String(round.Text)
		}
		for _, r := range round.Results {
			args, err := json.Marshal(r.Call.Args)
			if err != nil {
				return nil, fmt.Errorf("%w: encode arguments for %s: %w", ErrInvalidConfig, r.Call.Name, err)
			}
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: r.Call.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      r.Call.Name,
					Arguments: string(args),
				},
			})
		}
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		for _, r := range round.Results {
			msgs = append(msgs, openai.ToolMessage(r.Output, r.Call.ID))
		}
	}
	return msgs, nil
}

func openAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		props := map[string]any{}
		required := []string{}
		for _, p := range spec.Params {
			props[p.Name] = map[string]any{"type": "string", "description": p.Description}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}
	return tools
}
