package main

import (
	"encoding/json"

	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/spf13/cobra"
)

// pageStatus is the first line printed by the parse command.
type pageStatus struct {
	ID               string           `json:"id"`
	InfoURI          string           `json:"infoUri"`
	NextURI          string           `json:"nextUri,omitempty"`
	PartialCancelURI string           `json:"partialCancelUri,omitempty"`
	State            string           `json:"state,omitempty"`
	Finished         bool             `json:"finished"`
	Failed           bool             `json:"failed"`
	Columns          []string         `json:"columns"`
	Rows             int              `json:"rows"`
	Error            *page.QueryError `json:"error,omitempty"`
}

func newParseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Parse one result page and print its status and rows",
		Long: `Parse one statement response body and print a status line followed by one
JSON line per row. With no argument, or "-", the body is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "-"
			if len(args) == 1 {
				name = args[0]
			}
			raw, err := readInput(cmd, name)
			if err != nil {
				return err
			}
			return runParse(cmd, opts, raw)
		},
	}
}

func runParse(cmd *cobra.Command, opts *options, raw []byte) error {
	mode, err := opts.rowMode()
	if err != nil {
		return err
	}
	p, err := page.Parse(raw)
	if err != nil {
		return err
	}

	status := pageStatus{
		ID:       p.ID(),
		InfoURI:  p.InfoURI(),
		Finished: p.Finished(),
		Failed:   p.Failed(),
		Columns:  page.ColumnNames(p.Columns()),
		Rows:     p.RowCount(),
		Error:    p.QueryError(),
	}
	status.NextURI, _ = p.NextURI()
	status.PartialCancelURI, _ = p.PartialCancelURI()
	if stats := p.Stats(); stats != nil {
		status.State = stats.State
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if err := enc.Encode(status); err != nil {
		return err
	}
	for row, err := range p.Rows(mode) {
		if err != nil {
			return err
		}
		if row.Empty() {
			continue
		}
		if err := writeRow(enc, row); err != nil {
			return err
		}
	}
	return nil
}
