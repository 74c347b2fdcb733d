package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/kioskd/internal/gateway"
)

func newGatewayCmd(ctx *context) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Print the default gateway of this station",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				cfg, err := ctx.config()
				if err != nil {
					return err
				}
				addr, err := gateway.New(gateway.WithTimeout(cfg.Gateway.Timeout.Duration)).Discover(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), addr)
				return nil
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			report, err := client.Gateway(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Gateway)
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "run discovery in this process instead of asking the daemon")
	return cmd
}
