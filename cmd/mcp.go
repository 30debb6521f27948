package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/medrag/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve rag_qa, summarise_patient_report and interpret_lab over stdio MCP",
	Long: `Serve the question answering tools to an agent over the Model Context
Protocol on stdin/stdout. All tool calls answer against the --session
given here; index the session's reports first with "medrag ingest patient".`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, _, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	return mcp.NewServer(pipeline, resolveSession(), version).Run(ctx)
}
