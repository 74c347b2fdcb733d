package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/kioskd/internal/api"
)

func newHelperCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "helper",
		Short: "Start, stop or inspect supervised helpers",
	}
	cmd.AddCommand(newHelperActionCmd(ctx, "start", "Start a helper unless it is already running"))
	cmd.AddCommand(newHelperActionCmd(ctx, "stop", "Force-kill a helper and clear its slot"))
	cmd.AddCommand(newHelperStatusCmd(ctx))
	return cmd
}

func newHelperActionCmd(ctx *context, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			report, err := client.HelperAction(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			if report.Running {
				fmt.Fprintf(cmd.OutOrStdout(), "%s running (pid %d)\n", report.Name, report.PID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", report.Name)
			}
			return nil
		},
	}
}

func newHelperStatusCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "status [NAME]",
		Short: "Report whether helpers are running",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				report, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				writeHelperTable(out, report.Helpers, time.Now())
				return nil
			}
			report, err := client.Helper(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			writeHelperTable(out, []api.HelperReport{*report}, time.Now())
			if len(report.History) > 0 {
				fmt.Fprintf(out, "\n%s history:\n", report.Name)
				writeHistory(out, report.History)
			}
			return nil
		},
	}
}
