package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nnnkkk7/presto-page/pkg/config"
	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	server     string
	user       string
	catalog    string
	schema     string
	mode       string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "presto-page",
		Short: "Presto statement client and result page inspector",
		Long: `presto-page submits SQL to a Presto or Trino coordinator and prints the
rows of every result page as JSON lines. It can also parse one saved page body.

Examples:
  presto-page query "SELECT * FROM tpch.tiny.nation"
  presto-page query --mode record --server http://localhost:8080 "SHOW SCHEMAS"
  curl -s http://localhost:8080/v1/statement/q/1 | presto-page parse -`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("PRESTO_PAGE_CONFIG"), "path to a TOML config file")
	flags.StringVar(&opts.mode, "mode", page.ModeArray.String(), "row shape: array or record")
	flags.StringVar(&opts.server, "server", "", "coordinator URL")
	flags.StringVar(&opts.user, "user", "", "user sent as "+config.HeaderUser.String())
	flags.StringVar(&opts.catalog, "catalog", "", "default catalog")
	flags.StringVar(&opts.schema, "schema", "", "default schema")

	cmd.AddCommand(newQueryCmd(opts), newParseCmd(opts))
	return cmd
}

// load reads the config file and applies flags over it.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.server != "" {
		cfg.Client.ServerURL = o.server
	}
	if o.user != "" {
		cfg.Client.User = o.user
	}
	if o.catalog != "" {
		cfg.Client.Catalog = o.catalog
	}
	if o.schema != "" {
		cfg.Client.Schema = o.schema
	}
	return cfg, nil
}

func (o *options) rowMode() (page.RowMode, error) {
	return page.ParseRowMode(o.mode)
}

// readInput returns the contents of name, or of stdin when name is "-" or empty.
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return b, nil
}

// writeRow prints one row as a JSON line. Record rows keep column order.
func writeRow(enc *json.Encoder, row page.Row) error {
	if row.Fields != nil {
		return enc.Encode(row.Fields)
	}
	return enc.Encode(row.Values)
}
