package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rotate bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget a session, or rotate the whole patient index",
	Long: `Forget a session's conversation and delete its patient documents.

With --rotate the patient index is dropped and recreated, removing every
session's documents. The helpbook is never touched.

Examples:
  medrag reset --session 3f2c...
  medrag reset --rotate`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&rotate, "rotate", false, "Drop and recreate the patient index")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !rotate && sessionID == "" {
		return fmt.Errorf("%s --session is required unless --rotate is set", errorStyle.Render("Error:"))
	}

	ctx := context.Background()
	pipeline, cfg, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	out := cmd.OutOrStdout()
	if rotate {
		if err := pipeline.RotatePatientIndex(ctx); err != nil {
			return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
		}
		fmt.Fprintln(out, successStyle.Render("✓ Rotated patient index "+cfg.Indexes.Patient))
		return nil
	}

	if err := pipeline.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("%s %w", errorStyle.Render("Error:"), err)
	}
	fmt.Fprintln(out, successStyle.Render("✓ Cleared session "+sessionID))
	return nil
}
