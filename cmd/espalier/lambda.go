package main

import (
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/jacentio/espalier/internal/config"
	"github.com/jacentio/espalier/replication"
	"github.com/jacentio/espalier/stream"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Run as the DynamoDB stream Lambda that replicates plans",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		if a.cfg.Store.Backend != config.BackendDynamoDB {
			return fmt.Errorf("lambda requires store.backend=%s, got %q", config.BackendDynamoDB, a.cfg.Store.Backend)
		}
		writer, err := a.searchWriter()
		if err != nil {
			return err
		}
		if err := writer.EnsureIndex(ctx); err != nil {
			return err
		}

		h := stream.NewHandler(a.store, replication.Inline{Applier: writer}, a.logger)
		lambda.Start(h.HandleReplication)
		return nil
	},
}
