package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/MrWong99/dictate/internal/history"
	"github.com/MrWong99/dictate/internal/history/postgres"
	"github.com/MrWong99/dictate/internal/notify"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		search string
		since  time.Duration
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or search past dictations",
		Long:  `List recent dictations, newest first, or search them with --search. Requires history.dsn.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cfg.History.DSN == "" {
				return errors.New("history is disabled; set history.dsn in the config")
			}
			store, err := postgres.NewStore(cmd.Context(), cfg.History.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			var entries []history.Entry
			if search != "" {
				opts := history.SearchOpts{Limit: limit}
				if since > 0 {
					opts.After = time.Now().Add(-since)
				}
				entries, err = store.Search(cmd.Context(), search, opts)
			} else {
				entries, err = store.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			width := 60
			if full {
				width = 0
			}
			printEntries(cmd.OutOrStdout(), entries, width)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().StringVarP(&search, "search", "s", "", "full-text search query")
	cmd.Flags().DurationVar(&since, "since", 0, "only search entries newer than this, e.g. 24h")
	cmd.Flags().BoolVar(&full, "full", false, "do not truncate the text")
	return cmd
}

// printEntries renders entries as a table. width bounds the text column;
// zero disables truncation.
func printEntries(w io.Writer, entries []history.Entry, width int) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no dictations")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Ended", "Duration", "Chunks", "Status", "Text"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, e := range entries {
		status := "ok"
		switch {
		case e.Partial:
			status = "partial"
		case e.FailedChunks > 0:
			status = strconv.Itoa(e.FailedChunks) + " failed"
		}
		text := e.Text
		if width > 0 {
			text = notify.Truncate(text, width)
		}
		table.Append([]string{
			e.EndedAt.Local().Format("2006-01-02 15:04"),
			e.Duration.Round(time.Second).String(),
			strconv.Itoa(e.Chunks),
			status,
			text,
		})
	}
	table.Render()
}
