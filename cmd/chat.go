package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/medrag/internal/agent"
	"github.com/Yates-Labs/medrag/internal/metrics"
	"github.com/Yates-Labs/medrag/internal/narrative"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
)

var chatFiles []string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question answering for one session",
	Long: `Start an interactive session. Plain lines are asked as questions; lines
starting with a slash are commands:

  /summary            summarise the uploaded report
  /interpret <test>   interpret one lab test
  /history            show this session's turns
  /reset              forget the conversation and the session's documents
  /quit               end the session (writes the metrics summary)

With --agent, plain lines are routed by the model: it picks rag_qa,
summarise_patient_report or interpret_lab and, when the records and helpbook
lack the answer, web search.

Examples:
  medrag chat --file cbc.pdf --file thyroid.txt
  medrag chat --agent --session 3f2c...
  medrag chat --session 3f2c...`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringSliceVar(&chatFiles, "file", nil, "Patient file to index before chatting (repeatable)")
	chatCmd.Flags().BoolVar(&useAgent, "agent", false, "Let the model choose the tool for each question")
}

// chatPipeline is what the REPL needs from the pipeline.
type chatPipeline interface {
	Handle(ctx context.Context, sessionID string, req orchestrator.Request) (string, metrics.AnswerMetrics, error)
	History(sessionID string) []narrative.Turn
	Clear(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) (metrics.SessionSummary, error)
}

// chatAgent routes plain lines when agent mode is on.
type chatAgent interface {
	Run(ctx context.Context, sessionID, message string) (agent.Result, error)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pipeline, cfg, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	var router chatAgent
	if useAgent {
		a, err := openAgent(ctx, cfg, pipeline)
		if err != nil {
			return err
		}
		router = a
	}

	sid := resolveSession()
	out := cmd.OutOrStdout()

	if len(chatFiles) > 0 {
		n, err := pipeline.IngestPatientFiles(ctx, sid, chatFiles)
		if err != nil {
			return fmt.Errorf("%s Failed to index patient files: %w", errorStyle.Render("Error:"), err)
		}
		fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Indexed %d chunks", n)))
	}

	fmt.Fprintln(out, headerStyle.Render("medrag chat")+contextStyle.Render(" session "+sid+" · /quit to exit"))
	return chatLoop(ctx, pipeline, router, sid, cmd.InOrStdin(), out)
}

// chatLoop reads lines from in until /quit or EOF, then ends the session.
// With a non-nil router, plain lines go through it.
func chatLoop(ctx context.Context, p chatPipeline, router chatAgent, sid string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, questionStyle.Render("you › "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		req, quit, handled := parseChatLine(ctx, p, sid, line, out)
		if quit {
			break
		}
		if handled {
			continue
		}

		if ask, ok := req.(orchestrator.AskRequest); ok && router != nil {
			res, err := router.Run(ctx, sid, ask.Question)
			if err != nil {
				fmt.Fprintln(out, errorStyle.Render("Error: ")+err.Error())
				continue
			}
			fmt.Fprintln(out, answerStyle.Render(strings.TrimSpace(res.Answer)))
			fmt.Fprintln(out, renderTools(res))
			if res.Metrics != nil {
				fmt.Fprintln(out, renderMetrics(*res.Metrics))
			}
			continue
		}

		answer, m, err := p.Handle(ctx, sid, req)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("Error: ")+err.Error())
			continue
		}
		fmt.Fprintln(out, answerStyle.Render(strings.TrimSpace(answer)))
		fmt.Fprintln(out, renderMetrics(m))
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	summary, err := p.EndSession(ctx, sid)
	if err != nil {
		return fmt.Errorf("%s Failed to end session: %w", errorStyle.Render("Error:"), err)
	}
	fmt.Fprint(out, "\n"+renderSummary(summary))
	return nil
}

// parseChatLine turns a line into a request, or runs a local command and
// reports it as handled.
func parseChatLine(ctx context.Context, p chatPipeline, sid, line string, out io.Writer) (req orchestrator.Request, quit, handled bool) {
	if !strings.HasPrefix(line, "/") {
		return orchestrator.AskRequest{Question: line}, false, false
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(command) {
	case "/quit", "/exit":
		return nil, true, true
	case "/summary":
		return orchestrator.SummarizeRequest{}, false, false
	case "/interpret":
		return orchestrator.InterpretLabRequest{TestName: rest}, false, false
	case "/history":
		history := p.History(sid)
		if len(history) == 0 {
			fmt.Fprintln(out, contextStyle.Render("(no turns yet)"))
		}
		for i, turn := range history {
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render(fmt.Sprintf("%d.", i+1)), questionStyle.Render(lastLine(turn.Question)))
			fmt.Fprintln(out, answerStyle.Render(turn.Answer))
		}
		return nil, false, true
	case "/reset":
		if err := p.Clear(ctx, sid); err != nil {
			fmt.Fprintln(out, errorStyle.Render("Error: ")+err.Error())
		} else {
			fmt.Fprintln(out, successStyle.Render("✓ Session reset"))
		}
		return nil, false, true
	default:
		fmt.Fprintln(out, errorStyle.Render("Unknown command: ")+command)
		return nil, false, true
	}
}

// lastLine drops the grounding directive stored ahead of each question.
func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
