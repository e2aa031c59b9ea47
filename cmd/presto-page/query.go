package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nnnkkk7/presto-page/pkg/client"
	"github.com/spf13/cobra"
)

func newQueryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "query [SQL|-]",
		Short: "Run a statement and print its rows as JSON lines",
		Long: `Run a statement and print every row of every page as one JSON object per
line. With no argument, or "-", the SQL is read from stdin.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := strings.Join(args, " ")
			if sql == "" || sql == "-" {
				b, err := readInput(cmd, "-")
				if err != nil {
					return err
				}
				sql = string(b)
			}
			return runQuery(cmd, opts, sql)
		},
	}
}

func runQuery(cmd *cobra.Command, opts *options, sql string) error {
	mode, err := opts.rowMode()
	if err != nil {
		return err
	}
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	log.SetOutput(cmd.ErrOrStderr())

	c, err := client.New(cfg.Client, client.WithLogger(log))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	q, err := c.Submit(ctx, sql)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for row, err := range q.Rows(ctx, mode) {
		if err != nil {
			if ctx.Err() != nil {
				if cerr := q.Cancel(context.WithoutCancel(ctx)); cerr != nil {
					log.WithError(cerr).Warn("failed to cancel query")
				}
			}
			return err
		}
		if err := writeRow(enc, row); err != nil {
			return err
		}
	}

	if updateType, ok := q.Page().UpdateType(); ok {
		entry := log.WithField("query_id", q.ID())
		if n, ok := q.Page().UpdateCount(); ok {
			entry = entry.WithField("rows", n)
		}
		entry.Info(updateType)
	}
	return nil
}
