package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/usage"
	usagestorage "mercator-hq/relay/pkg/usage/storage"
)

var usageFlags struct {
	keyID   string
	from    string
	to      string
	records int
	output  string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report recorded usage",
	Long: `Report usage from the usage database as daily totals per UTC day.

Bounds accept RFC 3339 timestamps or dates (2006-01-02). A date given to --to
includes that whole day. Without --from the report covers the last 7 days.

Examples:
  # Daily totals for every key over the last week
  relay usage

  # One key for October
  relay usage --key 3f0c... --from 2026-10-01 --to 2026-10-31

  # The 20 most recent requests of a key
  relay usage --key 3f0c... --records 20`,
	Args: cobra.NoArgs,
	RunE: reportUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVar(&usageFlags.keyID, "key", "", "key id (all keys if empty)")
	usageCmd.Flags().StringVar(&usageFlags.from, "from", "", "start of the range (inclusive)")
	usageCmd.Flags().StringVar(&usageFlags.to, "to", "", "end of the range")
	usageCmd.Flags().IntVar(&usageFlags.records, "records", 0, "list up to N individual records instead of daily totals")
	usageCmd.Flags().StringVarP(&usageFlags.output, "output", "o", "table", "output format: table, json, csv")
}

// usageTable renders daily summaries with a total row.
type usageTable []usage.Summary

func (t usageTable) Header() []string {
	return []string{"Day", "Requests", "Success", "Rejected", "Upstream Errors", "Input Tokens", "Output Tokens", "Cost (USD)"}
}

func (t usageTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		rows = append(rows, summaryRow(s.Day.Format(time.DateOnly), s))
	}
	return rows
}

func (t usageTable) Footer() []string {
	return summaryRow("Total", usage.Total(t))
}

func summaryRow(label string, s usage.Summary) []string {
	return []string{
		label,
		strconv.FormatInt(s.Requests, 10),
		strconv.FormatInt(s.Successes, 10),
		strconv.FormatInt(s.Rejected, 10),
		strconv.FormatInt(s.UpstreamErrors, 10),
		strconv.FormatInt(s.InputTokens, 10),
		strconv.FormatInt(s.OutputTokens, 10),
		fmt.Sprintf("%.4f", s.Cost),
	}
}

type recordTable []*usage.Record

func (t recordTable) Header() []string {
	return []string{"Time", "Key", "Backend", "Model", "Outcome", "Status", "Tokens", "Duration"}
}

func (t recordTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.KeyID,
			r.BackendID,
			r.Model,
			string(r.Outcome),
			strconv.Itoa(r.StatusCode),
			strconv.FormatInt(r.Tokens(), 10),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	return rows
}

func reportUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Usage.IsEnabled() {
		return cli.NewConfigError("usage.enabled", "usage recording is disabled")
	}

	r, err := usage.ParseRange(usageFlags.from, usageFlags.to, time.Now())
	if err != nil {
		return cli.NewCommandError("usage", err)
	}

	store, err := usagestorage.Open(cfg.Usage.SQLite)
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if usageFlags.records > 0 {
		list, err := store.List(ctx, usageFlags.keyID, r, usageFlags.records)
		if err != nil {
			return cli.NewCommandError("usage", err)
		}
		return render(cmd.OutOrStdout(), usageFlags.output, recordTable(list))
	}

	days, err := store.Query(ctx, usageFlags.keyID, r)
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	return render(cmd.OutOrStdout(), usageFlags.output, usageTable(days))
}
