package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/trustplane/httpapi"
	"github.com/spf13/cobra"
)

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server with the session sweeper, the anomaly runner and
launch mode sync running in the background.

      $ trustplane serve --config=/etc/trustplane/config.yaml --private-key=/etc/trustplane/ed25519.pem --public-key=/etc/trustplane/ed25519.pub`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.open(true)
			if err != nil {
				return err
			}
			defer rt.close()

			if addr != "" {
				rt.file.HTTP.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides http.address")
	return cmd
}

func serve(ctx context.Context, rt *runtime) error {
	log := rt.logger.With().Str("component", "listener").Logger()

	if err := rt.engine.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr: rt.file.HTTP.Address,
		Handler: httpapi.NewRouter(rt.engine, httpapi.Options{
			Logger:     log,
			AdminToken: rt.file.HTTP.AdminToken,
		}),
		IdleTimeout:  time.Minute,
		ReadTimeout:  rt.file.HTTP.ReadTimeout,
		WriteTimeout: rt.file.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			log.Error().Err(err).Msg("HTTP server error")
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.file.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down HTTP server")
		return err
	}
	log.Info().Msg("HTTP server stopped gracefully")
	return nil
}
