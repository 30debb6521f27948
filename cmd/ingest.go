package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchDir string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index patient reports or the medical helpbook",
}

var ingestPatientCmd = &cobra.Command{
	Use:   "patient [files...]",
	Short: "Index patient reports (PDF, text or markdown) for a session",
	Long: `Index patient reports for a session. Each file is split into chunks tagged
with the session id so that retrieval only ever sees this session's reports.

With --watch, files later created in the directory are indexed as they
appear until the command is interrupted.

Examples:
  medrag ingest patient cbc.pdf lipids.txt --session 3f2c...
  medrag ingest patient --watch ./inbox --session 3f2c...`,
	RunE: runIngestPatient,
}

var ingestHelpbookCmd = &cobra.Command{
	Use:   "helpbook [pdf]",
	Short: "Index a medical helpbook PDF as shared reference material",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestHelpbook,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestPatientCmd, ingestHelpbookCmd)
	ingestPatientCmd.Flags().StringVar(&watchDir, "watch", "", "Directory to watch for new patient files")
}

func runIngestPatient(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && watchDir == "" {
		return fmt.Errorf("%s give at least one file or --watch <dir>", errorStyle.Render("Error:"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, _, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	sid := resolveSession()
	out := cmd.OutOrStdout()

	if len(args) > 0 {
		n, err := pipeline.IngestPatientFiles(ctx, sid, args)
		if err != nil {
			return fmt.Errorf("%s Failed to index patient files: %w", errorStyle.Render("Error:"), err)
		}
		fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Indexed %d chunks from %d files", n, len(args))))
	}
	fmt.Fprintln(out, contextStyle.Render("session "+sid))

	if watchDir == "" {
		return nil
	}

	w, err := pipeline.Watcher(sid, func(path string, chunks int) {
		fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ %s: %d chunks", path, chunks)))
	})
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Fprintln(out, contextStyle.Render("→ Watching "+watchDir+" (Ctrl-C to stop)"))
	return w.Run(ctx, watchDir)
}

func runIngestHelpbook(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pipeline, cfg, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	n, err := pipeline.IngestHelpbook(ctx, args[0])
	if err != nil {
		return fmt.Errorf("%s Failed to index helpbook: %w", errorStyle.Render("Error:"), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("✓ Indexed %d chunks into %s", n, cfg.Indexes.Helpbook)))
	return nil
}
