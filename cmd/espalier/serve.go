package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jacentio/espalier/httpapi"
	"github.com/jacentio/espalier/internal/config"
	"github.com/jacentio/espalier/plan"
	"github.com/jacentio/espalier/replication"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the plan HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		publisher, err := a.publisher(ctx)
		if err != nil {
			return err
		}

		auth, err := a.authenticator()
		if err != nil {
			return err
		}
		plans := plan.NewService(a.store, publisher, a.deadLetter(), a.logger)
		router := httpapi.NewRouter(plans, auth, a.logger)

		hc := a.cfg.HTTP
		srv := &http.Server{
			Addr:         hc.Addr,
			Handler:      router,
			ReadTimeout:  hc.ReadTimeout,
			WriteTimeout: hc.WriteTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("http server listening", "addr", hc.Addr, "replication", a.cfg.Replication.Mode)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), hc.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// publisher builds the replication publisher for the configured mode and
// registers whatever must be stopped on close.
func (a *app) publisher(ctx context.Context) (replication.Publisher, error) {
	switch a.cfg.Replication.Mode {
	case config.ModeInline:
		writer, err := a.searchWriter()
		if err != nil {
			return nil, err
		}
		if err := writer.EnsureIndex(ctx); err != nil {
			// The dispatcher retries and dead-letters while the cluster is away.
			a.logger.Warn("search index not ready", "error", err)
		}
		d := a.dispatcher(writer)
		d.Start(context.WithoutCancel(ctx))
		a.closers = append(a.closers, d.Stop)
		return d, nil

	case config.ModeAMQP:
		q, err := replication.DialAMQP(a.cfg.Replication.AMQPURL, a.cfg.Replication.Queue, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		return q, nil

	default:
		// stream: the DynamoDB stream Lambda replicates; off: nothing does.
		return replication.Discard{}, nil
	}
}
