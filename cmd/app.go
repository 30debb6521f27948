package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/Yates-Labs/medrag/internal/agent"
	"github.com/Yates-Labs/medrag/internal/config"
	"github.com/Yates-Labs/medrag/internal/logging"
	"github.com/Yates-Labs/medrag/internal/metrics"
	"github.com/Yates-Labs/medrag/internal/narrative"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
)

// Styling
var (
	headerColor   = lipgloss.Color("#F780FF") // Bright pink
	questionColor = lipgloss.Color("#8BE9FD") // Cyan
	answerColor   = lipgloss.Color("#E9E9F4") // Light purple/white
	contextColor  = lipgloss.Color("#6272A4") // Muted purple
	errorColor    = lipgloss.Color("#FF5555") // Red
	successColor  = lipgloss.Color("#50FA7B") // Green

	headerStyle   = lipgloss.NewStyle().Foreground(headerColor).Bold(true)
	questionStyle = lipgloss.NewStyle().Foreground(questionColor).Italic(true)
	answerStyle   = lipgloss.NewStyle().Foreground(answerColor)
	contextStyle  = lipgloss.NewStyle().Foreground(contextColor).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	successStyle  = lipgloss.NewStyle().Foreground(successColor)
)

// loadConfig reads the config file and environment, installs the logger and
// validates the result.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.SetDefault(logging.New(cfg.Log.Level, os.Stderr))

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openPipeline builds the pipeline from the loaded configuration.
func openPipeline(ctx context.Context) (*orchestrator.RAGPipeline, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}

	pipeline, err := orchestrator.NewRAGPipeline(ctx, cfg.ToRAGConfig())
	if err != nil {
		return nil, cfg, fmt.Errorf("%s Failed to create RAG pipeline: %w", errorStyle.Render("Error:"), err)
	}
	pipeline.WithLogger(logging.Default())
	return pipeline, cfg, nil
}

// openAgent builds the tool-routing agent over pipeline. Web search is
// offered when agent.web_search is on.
func openAgent(ctx context.Context, cfg config.Config, pipeline *orchestrator.RAGPipeline) (*agent.Agent, error) {
	caller, err := narrative.NewToolCaller(ctx, cfg.ToRAGConfig().LLMConfig)
	if err != nil {
		return nil, fmt.Errorf("%s Failed to create chat agent: %w", errorStyle.Render("Error:"), err)
	}
	a, err := agent.New(pipeline, caller, cfg.ToAgentConfig())
	if err != nil {
		return nil, fmt.Errorf("%s Failed to create chat agent: %w", errorStyle.Render("Error:"), err)
	}
	a.WithLogger(logging.Default())
	if cfg.Agent.WebSearch {
		a.WithSearch(agent.NewDuckDuckGo())
	}
	return a, nil
}

// resolveSession returns --session, generating an id when it is unset.
func resolveSession() string {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return sessionID
}

func renderMetrics(m metrics.AnswerMetrics) string {
	llm := "n/a"
	if m.LatencyMsLLM != nil {
		llm = fmt.Sprintf("%.1fms", *m.LatencyMsLLM)
	}
	line := fmt.Sprintf("total %.1fms · retrieval %.1fms · llm %s · patient docs %d · helpbook docs %d · context %d tokens",
		m.LatencyMsTotal, m.LatencyMsRetrieval, llm, m.RetrievedDocsPatient, m.RetrievedDocsHelpbook, m.ContextTokens)
	if m.FallbackUsed {
		line += " · fallback " + m.FallbackSessionID
	}
	return contextStyle.Render(line)
}

func renderTools(res agent.Result) string {
	if len(res.Tools) == 0 {
		return contextStyle.Render("tools: none")
	}
	names := make([]string, 0, len(res.Tools))
	for _, inv := range res.Tools {
		name := inv.Name
		if inv.Error != "" {
			name += " (failed)"
		}
		names = append(names, name)
	}
	line := "tools: " + strings.Join(names, " → ")
	if res.Fallback {
		line += " · routing fell back to rag_qa"
	}
	return contextStyle.Render(line)
}

func renderSummary(s metrics.SessionSummary) string {
	out := headerStyle.Render("Session summary:") + "\n"
	for _, f := range s.Fields() {
		out += contextStyle.Render(fmt.Sprintf("  %-30s %s", f.Name, f.Value)) + "\n"
	}
	return out
}
