package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/Yates-Labs/medrag/internal/rag"
	"google.golang.org/genai"
)

// GeminiLLM implements the LLM interface using the genai SDK.
type GeminiLLM struct {
	client *genai.Client
	config LLMConfig
}

// NewGeminiLLM creates a Gemini-backed LLM. Project selects Vertex AI,
// otherwise APIKey (or GOOGLE_API_KEY / GEMINI_API_KEY) is used.
func NewGeminiLLM(ctx context.Context, config LLMConfig) (*GeminiLLM, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrInvalidConfig)
	}

	client, err := rag.NewGeminiClient(ctx, rag.GeminiConfig{
		APIKey:   config.APIKey,
		Project:  config.Project,
		Location: config.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &GeminiLLM{client: client, config: config}, nil
}

// contents lays out prior turns and the new question as user/model messages.
func (g *GeminiLLM) contents(req GenerationRequest) []*genai.Content {
	return append(geminiHistory(req.History), genai.NewContentFromText(req.UserMessage(), genai.RoleUser))
}

func geminiHistory(history []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, 1+2*len(history))
	for _, turn := range history {
		contents = append(contents,
			genai.NewContentFromText(turn.Question, genai.RoleUser),
			genai.NewContentFromText(turn.Answer, genai.RoleModel),
		)
	}
	return contents
}

// Generate sends the conversation to Gemini and returns the generated text.
func (g *GeminiLLM) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	if req.Question == "" {
		return "", fmt.Errorf("%w: question cannot be empty", ErrInvalidConfig)
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.config.Temperature),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, "")
	}
	if g.config.MaxTokens > 0 {
		config.MaxOutputTokens = int32(g.config.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, g.contents(req), config)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLLMFailed, err)
	}

	var b strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			b.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: no response generated", ErrLLMFailed)
	}
	return text, nil
}

// Step runs one function-calling round against Gemini.
func (g *GeminiLLM) Step(ctx context.Context, req ToolRequest) (ToolStep, error) {
	if err := validateToolRequest(req); err != nil {
		return ToolStep{}, err
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.config.Temperature),
		Tools:       []*genai.Tool{geminiTool(req.Tools)},
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, "")
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, geminiToolContents(req), config)
	if err != nil {
		return ToolStep{}, fmt.Errorf("%w: %w", ErrLLMFailed, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ToolStep{}, fmt.Errorf("%w: no response generated", ErrLLMFailed)
	}

	var step ToolStep
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
		if fc := part.FunctionCall; fc != nil {
			step.Calls = append(step.Calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	step.Text = strings.TrimSpace(text.String())
	return step, nil
}

// geminiToolContents replays earlier rounds as model function calls followed
// by one user content carrying all function responses.
func geminiToolContents(req ToolRequest) []*genai.Content {
	contents := append(geminiHistory(req.History), genai.NewContentFromText(req.Question, genai.RoleUser))
	for _, round := range req.Rounds {
		model := &genai.Content{Role: genai.RoleModel}
		if round.Text != "" {
			model.Parts = append(model.Parts, &genai.Part{Text: round.Text})
		}
		responses := &genai.Content{Role: genai.RoleUser}
		for _, r := range round.Results {
			model.Parts = append(model.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   r.Call.ID,
				Name: r.Call.Name,
				Args: r.Call.Args,
			}})
			responses.Parts = append(responses.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       r.Call.ID,
				Name:     r.Call.Name,
				Response: map[string]any{"result": r.Output},
			}})
		}
		contents = append(contents, model)
		if len(responses.Parts) > 0 {
			contents = append(contents, responses)
		}
	}
	return contents
}

func geminiTool(specs []ToolSpec) *genai.Tool {
	tool := &genai.Tool{}
	for _, spec := range specs {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{},
		}
		for _, p := range spec.Params {
			schema.Properties[p.Name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schema,
		})
	}
	return tool
}
