package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/spf13/cobra"
	"github.com/vvakame/stitchway/gateway"
	"github.com/vvakame/stitchway/internal/telemetry"
)

var (
	addr         string
	otlpEndpoint string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the gateway over HTTP",
	Long: `Serves the gateway over HTTP.

The GraphQL endpoint is /query, a playground is served on /.
Spans are exported to an OTLP collector when --otlp-endpoint is given.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	serveCmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP gRPC collector, tracing is off when empty")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := requireConfig(); err != nil {
		return err
	}
	ctx, logger := commandContext(cmd)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, otlpEndpoint, "stitchway")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error(err, "failed to shutdown telemetry")
		}
	}()

	gw, err := gateway.NewFromConfigFile(ctx, cfgFile)
	if err != nil {
		logger.Error(err, "failed to execute NewFromConfigFile")
		return err
	}

	srv := handler.NewDefaultServer(gw)
	mux := http.NewServeMux()
	mux.Handle("/", playground.Handler("stitchway", "/query"))
	mux.Handle("/query", srv)

	server := &http.Server{
		Addr:              addr,
		Handler:           gateway.WithLogger(ctx, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening server", "addr", addr, "subschemas", gw.Subschemas())

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
