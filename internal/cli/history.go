package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/chartsync/internal/store"
	"github.com/roach88/chartsync/internal/value"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Key      string
	Embeds   bool
}

// HistoryEntry is one recorded key value.
type HistoryEntry struct {
	Seq   int64  `json:"seq"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// HistoryEmbed is one recorded embed attempt.
type HistoryEmbed struct {
	Session    string   `json:"session"`
	Mount      string   `json:"mount"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
	Selections []string `json:"selections"`
	Params     []string `json:"params"`
}

// HistoryResult is the history command's output.
type HistoryResult struct {
	Entries []HistoryEntry `json:"entries"`
	Embeds  []HistoryEmbed `json:"embeds,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded model flushes",
		Long: `Print the values recorded by "chartsync run --db", in seq order.

Examples:
  chartsync history --db ./chartsync.db
  chartsync history --db ./chartsync.db --key _selections
  chartsync history --db ./chartsync.db --embeds --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Key, "key", "", "only show this model key")
	cmd.Flags().BoolVar(&opts.Embeds, "embeds", false, "also list embed attempts")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	entries, err := st.History(ctx, opts.Key)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	result := HistoryResult{Entries: make([]HistoryEntry, len(entries))}
	for i, e := range entries {
		result.Entries[i] = HistoryEntry{Seq: e.Seq, Key: e.Key, Value: e.Value}
	}

	if opts.Embeds {
		embeds, err := st.Embeds(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read embeds", err)
		}
		for _, e := range embeds {
			result.Embeds = append(result.Embeds, HistoryEmbed{
				Session:    e.Session,
				Mount:      e.Mount,
				Status:     e.Status,
				Error:      e.Error,
				Selections: e.Selections,
				Params:     e.Params,
			})
		}
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	return outputHistoryText(cmd, result)
}

func outputHistoryText(cmd *cobra.Command, result HistoryResult) error {
	w := cmd.OutOrStdout()

	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "No flushes recorded.")
	}
	for _, e := range result.Entries {
		fmt.Fprintf(w, "[%d] %s = %s\n", e.Seq, e.Key, value.MustCanonical(e.Value))
	}

	if len(result.Embeds) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Embeds:")
		for _, e := range result.Embeds {
			if e.Error != "" {
				fmt.Fprintf(w, "  %s %s on %s: %s\n", e.Session, e.Status, e.Mount, e.Error)
				continue
			}
			fmt.Fprintf(w, "  %s %s on %s (selections %v, params %v)\n",
				e.Session, e.Status, e.Mount, e.Selections, e.Params)
		}
	}
	return nil
}
