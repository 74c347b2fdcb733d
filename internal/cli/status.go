package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/kioskd/internal/api"
)

func newStatusCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display helpers, link state and close state of the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			report, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			writeStatus(cmd.OutOrStdout(), report, time.Now())
			return nil
		},
	}
	return cmd
}

func writeStatus(out io.Writer, report *api.StatusReport, now time.Time) {
	writeHelperTable(out, report.Helpers, now)

	fmt.Fprintf(out, "\nHost: %s (kioskd %s, generation %d)\n", report.Host, report.Version, report.Generation)
	fmt.Fprintf(out, "Close state: %s\n", formatStatusState(report.CloseState))
	if report.Link != nil {
		link := formatStatusState(report.Link.State)
		if report.Link.Gateway != "" {
			link = fmt.Sprintf("%s via %s", link, report.Link.Gateway)
		}
		if !report.Link.Since.IsZero() {
			link = fmt.Sprintf("%s for %s", link, units.HumanDuration(since(report.Link.Since, now)))
		}
		fmt.Fprintf(out, "Link: %s\n", link)
	}
	if sd := report.Shutdown; sd != nil {
		line := formatStatusState(sd.State)
		if sd.State != "paused" {
			line = fmt.Sprintf("%s, %s left", line, units.HumanDuration(sd.Remaining))
		}
		fmt.Fprintf(out, "Auto shutdown: %s\n", line)
	}
}

func writeHelperTable(out io.Writer, helpers []api.HelperReport, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HELPER\tSTATE\tPID\tUPTIME\tLAST EVENT\tFAILURES\tMESSAGE")
	for _, h := range helpers {
		state := "Stopped"
		pid := "-"
		age := "-"
		if h.Running {
			state = "Running"
			pid = fmt.Sprintf("%d", h.PID)
			if !h.StartedAt.IsZero() {
				age = units.HumanDuration(since(h.StartedAt, now))
			}
		}
		message := h.Message
		if message == "" {
			message = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			h.Name, state, pid, age, formatStatusState(h.LastEvent), h.Failures, message)
	}
	w.Flush()
}

func writeHistory(out io.Writer, history []api.HelperTransition) {
	for _, entry := range history {
		reason := entry.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(out, "  %s  %-10s  %-16s  %s\n",
			entry.Timestamp.Format(time.RFC3339),
			formatStatusState(entry.Type),
			reason,
			entry.Message)
	}
}

func since(t, now time.Time) time.Duration {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

func formatStatusState(s string) string {
	if s == "" {
		return "-"
	}
	if len(s) <= 1 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
