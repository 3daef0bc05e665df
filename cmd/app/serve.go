package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/aihelper/internal/statuscheck"
	"github.com/local/aihelper/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the loopback API used by the hotkey and tray shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := setup(ctx, os.Stdout, true)
		if err != nil {
			return err
		}
		defer a.Close()

		mux := http.NewServeMux()
		web.New(a.disp, a.provider.FriendlyName(), statuscheck.New(a.checks)).RegisterRoutes(mux)
		srv := &http.Server{Addr: a.cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		errc := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		log.Info().Msg("shutdown complete")
		return nil
	},
}
