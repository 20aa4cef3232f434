package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/services/ledgertx"
)

// NewTickCommand creates the one-shot tick command for external schedulers.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:   "tick <execution|confirmation>",
		Short: "Run one lifecycle tick and print its report",
		Long: `Run a single pass of the ledger lifecycle.

  execution     submits transactions waiting in pending_execution
  confirmation  finalizes submitted transactions and replaces references

The report is printed as JSON. A storage outage exits with code 3 so the
calling scheduler can retry on its next run.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{ledgertx.TickExecution, ledgertx.TickConfirmation},
		RunE: func(cmd *cobra.Command, args []string) error {
			tick := args[0]
			if tick != ledgertx.TickExecution && tick != ledgertx.TickConfirmation {
				return WrapExitError(ExitCommandError, "tick", fmt.Errorf("unknown tick %q", tick))
			}

			ctx := cmd.Context()
			_, application, log, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer stopQuietly(ctx, application, log)

			var report ledgertx.TickReport
			if tick == ledgertx.TickExecution {
				report, err = application.Ledger.ProcessPendingExecution(ctx, batch)
			} else {
				report, err = application.Ledger.ProcessPendingConfirmation(ctx, batch)
			}
			if err != nil {
				code := ExitFailure
				if core.IsStoreUnavailable(err) {
					code = ExitUnavailable
				}
				return WrapExitError(code, tick+" tick", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "maximum transactions to process (0 uses lifecycle.batch_limit)")
	return cmd
}
