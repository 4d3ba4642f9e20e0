package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacentio/espalier/replication"
)

var ensureIndexCmd = &cobra.Command{
	Use:   "ensure-index",
	Short: "Create the search index with its join mapping",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		writer, err := a.searchWriter()
		if err != nil {
			return err
		}
		return writer.EnsureIndex(cmd.Context())
	},
}

var applyRepair bool

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Find records no plan reaches, and delete them with --apply",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		report, err := a.store.Repair(cmd.Context(), applyRepair)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "Inspect or redrive stored dead letters",
}

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored dead letters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		dl, err := a.storedDeadLetters()
		if err != nil {
			return err
		}
		entries, err := dl.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FAILED AT\tOPERATION\tDOCUMENT\tERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				e.FailedAt.Format(time.RFC3339), e.Message.Operation, e.Message.DocumentID, e.Error)
		}
		return w.Flush()
	},
}

var deadLettersRedriveCmd = &cobra.Command{
	Use:   "redrive",
	Short: "Republish stored dead letters through the configured replication mode",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		dl, err := a.storedDeadLetters()
		if err != nil {
			return err
		}
		pub, err := a.publisher(ctx)
		if err != nil {
			return err
		}
		n, err := dl.Redrive(ctx, pub)
		fmt.Fprintf(cmd.OutOrStdout(), "redriven: %d\n", n)
		return err
	},
}

func init() {
	repairCmd.Flags().BoolVar(&applyRepair, "apply", false, "delete the orphans found")
	deadLettersCmd.AddCommand(deadLettersListCmd, deadLettersRedriveCmd)
}

func (a *app) storedDeadLetters() (*replication.StoreDeadLetter, error) {
	dl, ok := a.deadLetter().(*replication.StoreDeadLetter)
	if !ok {
		return nil, errors.New("dead letters are only kept with replication.dead_letter=store")
	}
	return dl, nil
}

