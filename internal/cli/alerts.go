package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/alert"
	"github.com/headline-goat/funnel-engine/internal/store"
)

var alertsCmd = &cobra.Command{
	Use:     "alerts",
	Aliases: []string{"alert"},
	Short:   "Manage event-silence alerts",
}

func init() {
	alertsCmd.AddCommand(newAlertsCreateCmd(), newAlertsListCmd(), newAlertsCheckCmd())
	rootCmd.AddCommand(alertsCmd)
}

func newAlertsCreateCmd() *cobra.Command {
	var (
		org       int64
		eventType string
		hours     int
		funnel    int64
		step      int64
		inactive  bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an alert that fires when no matching event arrives in time",
		Long: `Create an alert. It fires on every check for as long as no matching
event has arrived within the threshold.

Examples:
  fnl alerts create --type signup --hours 24
  fnl alerts create --type any --hours 6 --funnel 2 --step 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours < alert.MinThresholdHours || hours > alert.MaxThresholdHours {
				return fmt.Errorf("--hours must be between %d and %d", alert.MinThresholdHours, alert.MaxThresholdHours)
			}
			a := &store.Alert{
				OrganizationID: org,
				Type:           eventType,
				ThresholdHours: hours,
				IsActive:       !inactive,
			}
			if funnel != 0 {
				a.FunnelID = &funnel
			}
			if step != 0 {
				a.FunnelStepID = &step
			}

			return withStore(func(s *store.SQLStore) error {
				if err := s.CreateAlert(cmd.Context(), a); err != nil {
					return fmt.Errorf("failed to create alert: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created alert %d: no '%s' event for %dh\n", a.ID, a.Type, a.ThresholdHours)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&org, "org", 1, "organization id")
	cmd.Flags().StringVar(&eventType, "type", store.AnyEvent, "event type to watch, or 'any'")
	cmd.Flags().IntVar(&hours, "hours", 24, "silence threshold in hours")
	cmd.Flags().Int64Var(&funnel, "funnel", 0, "only events of this funnel")
	cmd.Flags().Int64Var(&step, "step", 0, "only events of this funnel step")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the alert disabled")
	return cmd
}

func newAlertsListCmd() *cobra.Command {
	var org int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts and when they last saw an event or fired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLStore) error {
				alerts, err := s.ListAlerts(cmd.Context(), org)
				if err != nil {
					return fmt.Errorf("failed to list alerts: %w", err)
				}
				if len(alerts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No alerts yet.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tHOURS\tACTIVE\tLAST EVENT\tLAST FIRED")
				for _, a := range alerts {
					fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%s\t%s\n",
						a.ID, a.Type, a.ThresholdHours, a.IsActive, ago(a.LastEventAt), ago(a.LastFiredAt))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().Int64Var(&org, "org", 0, "organization id (0 lists every organization)")
	return cmd
}

func newAlertsCheckCmd() *cobra.Command {
	var org int64

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one alert check pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(e *engine) error {
				report, err := e.monitor.Check(cmd.Context(), org)
				if err != nil {
					return err
				}
				printReport(cmd, report)
				if len(report.Failed) > 0 {
					return fmt.Errorf("%d of %d alerts failed to check", len(report.Failed), report.Checked)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&org, "org", 0, "organization id (0 checks every organization)")
	return cmd
}

func printReport(cmd *cobra.Command, r *alert.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checked %d alerts (%d inactive skipped)\n", r.Checked, r.Skipped)
	for _, res := range r.Results {
		switch {
		case res.Err != nil:
			fmt.Fprintf(out, "  alert %d: FAILED: %v\n", res.AlertID, res.Err)
		case res.Fired:
			fmt.Fprintf(out, "  alert %d: FIRED\n", res.AlertID)
		default:
			fmt.Fprintf(out, "  alert %d: ok, last event %s\n", res.AlertID, ago(res.LastEventAt))
		}
	}
}

func ago(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.Time(*t)
}
