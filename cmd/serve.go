package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Yates-Labs/medrag/internal/api"
	"github.com/Yates-Labs/medrag/internal/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the session API over HTTP. Sessions are created with
POST /api/v1/sessions and ended with DELETE /api/v1/sessions/:id, which
appends the session summary to the metrics CSV. POST /api/v1/sessions/:id/chat
lets the model choose the tool for a message.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, cfg, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	addr := cfg.HTTP.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	a, err := openAgent(ctx, cfg, pipeline)
	if err != nil {
		return err
	}
	server := api.NewServer(pipeline, addr).WithAgent(a)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Default().Info("[API] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
