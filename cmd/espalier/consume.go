package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jacentio/espalier/internal/config"
	"github.com/jacentio/espalier/replication"
)

var redriveOnStart bool

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Apply replication messages from RabbitMQ to Elasticsearch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		writer, err := a.searchWriter()
		if err != nil {
			return err
		}
		if err := writer.EnsureIndex(ctx); err != nil {
			return err
		}

		rc := a.cfg.Replication
		q, err := replication.DialAMQP(rc.AMQPURL, rc.Queue, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, q.Close)

		if rc.DeadLetter != config.DeadLetterStore {
			a.logger.Warn("dead letters are only logged; acknowledged deliveries that fail are not kept",
				"dead_letter", rc.DeadLetter)
		}
		// Stop drains queued deliveries before the channel closes, so their acks
		// still reach the broker.
		d := a.dispatcher(writer)
		d.Start(context.WithoutCancel(ctx))
		a.closers = append(a.closers, d.Stop)

		if redriveOnStart {
			dl, ok := a.deadLetter().(*replication.StoreDeadLetter)
			if !ok {
				return errors.New("--redrive requires replication.dead_letter=store")
			}
			n, err := dl.Redrive(ctx, d)
			if err != nil {
				return err
			}
			a.logger.Info("redrive complete", "count", n)
		}

		return q.Consume(ctx, rc.Prefetch, d)
	},
}

func init() {
	consumeCmd.Flags().BoolVar(&redriveOnStart, "redrive", false, "republish stored dead letters before consuming")
}
