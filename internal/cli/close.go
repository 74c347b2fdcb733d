package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCloseCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Send a close gesture: stop helpers, then relaunch or exit per settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			report, err := client.Close(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Close accepted at %s\n", report.RequestedAt.Format("15:04:05"))
			return nil
		},
	}
}
