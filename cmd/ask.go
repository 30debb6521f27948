package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/medrag/internal/agent"
	"github.com/Yates-Labs/medrag/internal/metrics"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
)

var (
	askFiles []string
	verbose  bool
	useAgent bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question about the session's patient documents",
	Long: `Ask a natural language question about a patient's uploaded report.

This command:
1. Optionally indexes the files given with --file for the session
2. Retrieves patient context for the session and general helpbook context
3. Generates an answer that cites [patient] and [helpbook] sources

With --agent the model picks the tool instead: rag_qa, summarise_patient_report,
interpret_lab or, when enabled, web search.

Required environment variables:
  OPENAI_API_KEY     - OpenAI API key (or GEMINI_API_KEY with MEDRAG_LLM_PROVIDER=gemini)
  MILVUS_ADDRESS     - Milvus server address (default: localhost:19530)

Examples:
  medrag ask "Is my hemoglobin normal?" --session 3f2c...
  medrag ask "What does my TSH mean?" --file cbc.pdf --verbose
  medrag ask "Summarise my report" --agent --session 3f2c...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringSliceVar(&askFiles, "file", nil, "Patient file to index before asking (repeatable)")
	askCmd.Flags().BoolVar(&verbose, "verbose", false, "Show retrieval and latency metrics")
	askCmd.Flags().BoolVar(&useAgent, "agent", false, "Let the model choose the tool")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	ctx := context.Background()

	pipeline, cfg, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	sid := resolveSession()
	out := cmd.OutOrStdout()

	if len(askFiles) > 0 {
		if verbose {
			fmt.Fprintln(out, contextStyle.Render("→ Indexing patient files..."))
		}
		n, err := pipeline.IngestPatientFiles(ctx, sid, askFiles)
		if err != nil {
			return fmt.Errorf("%s Failed to index patient files: %w", errorStyle.Render("Error:"), err)
		}
		if verbose {
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Indexed %d chunks for session %s", n, sid)))
		}
	}

	// Print question
	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("Question:"))
	fmt.Fprintln(out, questionStyle.Render(question))
	fmt.Fprintln(out)

	var (
		answer string
		m      *metrics.AnswerMetrics
		res    agent.Result
	)
	if useAgent {
		a, err := openAgent(ctx, cfg, pipeline)
		if err != nil {
			return err
		}
		res, err = a.Run(ctx, sid, question)
		if err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		answer, m = res.Answer, res.Metrics
	} else {
		text, am, err := pipeline.Handle(ctx, sid, orchestrator.AskRequest{Question: question})
		if err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		answer, m = text, &am
	}

	fmt.Fprintln(out, headerStyle.Render("Answer:"))
	fmt.Fprintln(out)
	fmt.Fprintln(out, answerStyle.Render(strings.TrimSpace(answer)))
	fmt.Fprintln(out)

	if verbose {
		if useAgent {
			fmt.Fprintln(out, renderTools(res))
		}
		if m != nil {
			fmt.Fprintln(out, renderMetrics(*m))
		}
		fmt.Fprintln(out, contextStyle.Render("session "+sid))
	}
	return nil
}
