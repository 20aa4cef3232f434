package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/tribute_layer/internal/app/domain/leaderboard"
)

// Terminal colors for trend markers.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
)

// NewLeaderboardCommand groups leaderboard maintenance commands.
func NewLeaderboardCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Inspect and snapshot the leaderboard",
	}
	cmd.AddCommand(newLeaderboardShowCommand(rootOpts))
	cmd.AddCommand(newLeaderboardSnapshotCommand(rootOpts))
	return cmd
}

func newLeaderboardShowCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
		color  bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current ranking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, application, log, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer stopQuietly(ctx, application, log)

			entries, err := application.Leaderboard.Leaderboard(ctx, limit)
			if err != nil {
				return WrapExitError(ExitFailure, "leaderboard", err)
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
			}
			return printLeaderboard(cmd.OutOrStdout(), entries, color)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().BoolVar(&color, "color", false, "colorize trend markers")
	return cmd
}

func newLeaderboardSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Record the current ranking as the trend baseline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, application, log, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer stopQuietly(ctx, application, log)

			snap, err := application.Leaderboard.TakeSnapshot(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "snapshot", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "snapshot of %d items taken at %s\n", len(snap.Ranks), snap.TakenAt.Format("2006-01-02T15:04:05Z07:00"))
			return err
		},
	}
}

func printLeaderboard(w io.Writer, entries []leaderboard.Entry, color bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tITEM\tP\tTREND")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\n", e.Rank, e.ItemID, e.P, trendMarker(e.Trend, color))
	}
	return tw.Flush()
}

func trendMarker(t leaderboard.Trend, color bool) string {
	var marker, c string
	switch t {
	case leaderboard.TrendUp:
		marker, c = "▲", colorGreen
	case leaderboard.TrendDown:
		marker, c = "▼", colorRed
	default:
		return "="
	}
	if !color {
		return marker
	}
	return c + marker + colorReset
}
