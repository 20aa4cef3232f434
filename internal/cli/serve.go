package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/tribute_layer/internal/app/httpapi"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the tick scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, addr string) error {
	cfg, application, log, err := rootOpts.open(ctx)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	if err := application.Start(ctx); err != nil {
		stopQuietly(context.Background(), application, log)
		return WrapExitError(ExitFailure, "start services", err)
	}

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewHandler(application, httpapi.Options{
			AdminToken:     cfg.Admin.Token,
			AdminJWTSecret: cfg.Admin.JWTSecret,
			RateLimit:      cfg.Server.RateLimit,
			Burst:          cfg.Server.Burst,
			Log:            log.Named("http"),
			Context:        ctx,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.WithError(serveErr).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	stopQuietly(shutdownCtx, application, log)

	if serveErr != nil {
		return WrapExitError(ExitFailure, "serve", serveErr)
	}
	log.Info("stopped")
	return nil
}
