package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"talk-pdf/handler"
	"talk-pdf/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Answer Service over HTTP",
	Long: `Run the Answer Service over HTTP.

Routes:
  POST /api/chat   ask a question about a base64-encoded PDF
  GET  /healthz    liveness
  GET  /metrics    Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		if err := cfg.ValidateServer(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b, err := app.NewBuilder(cfg)
		if err != nil {
			return err
		}
		svc, err := b.Server(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		h, err := handler.NewHandler(svc.Service, handler.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler.NewRouter(h),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("answer service listening",
				"addr", cfg.Server.Addr,
				"store", cfg.Store.Backend,
				"provider", cfg.Inference.Provider)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
}
