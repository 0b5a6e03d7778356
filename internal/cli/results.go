package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/stats"
	"github.com/headline-goat/funnel-engine/internal/store"
)

func newExperimentResultsCmd() *cobra.Command {
	var (
		event  string
		format string
	)

	cmd := &cobra.Command{
		Use:   "results <slug>",
		Short: "Show conversion results for an experiment",
		Long: `Show assigned sessions, conversions, conversion rates and 95% confidence
intervals per variant. A session converts when it records an event of the
--event type after its assignment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			if format != "table" && format != "json" {
				return fmt.Errorf("invalid format %q: must be 'table' or 'json'", format)
			}

			return withStore(func(s *store.SQLStore) error {
				ctx := cmd.Context()
				exp, err := s.GetExperimentBySlug(ctx, slug)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("experiment '%s' not found", slug)
				}
				if err != nil {
					return fmt.Errorf("failed to get experiment: %w", err)
				}

				counts, err := s.VariantConversions(ctx, exp.ID, event)
				if err != nil {
					return fmt.Errorf("failed to get stats: %w", err)
				}

				result := stats.Analyze(exp, counts)
				if format == "json" {
					return printJSON(cmd.OutOrStdout(), result)
				}
				printResults(cmd, exp, event, result)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&event, "event", "conversion", "event type counted as a conversion")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table or json)")
	return cmd
}

func printResults(cmd *cobra.Command, exp *store.Experiment, event string, result *stats.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "EXPERIMENT: %s\n", exp.Slug)
	fmt.Fprintf(out, "STATUS: %s\n", exp.Status)
	fmt.Fprintf(out, "GOAL: %s\n", event)
	fmt.Fprintf(out, "CREATED: %s\n", exp.CreatedAt.Format(dateLayout))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "VARIANT           ASSIGNED  CONVERTED  RATE     95% CI")
	fmt.Fprintln(out, strings.Repeat("─", 62))

	for i, v := range result.Variants {
		indicator := ""
		if i == result.Leader && len(result.Variants) > 1 {
			indicator = " ← LEADING"
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.Assigned == 0 {
			ciStr = "N/A"
		}

		name := v.Name
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		fmt.Fprintf(out, "%-16s  %-8d  %-9d  %-7s  %s%s\n",
			name,
			v.Assigned,
			v.Converted,
			formatPercent(v.Rate),
			ciStr,
			indicator,
		)
	}

	fmt.Fprintln(out)

	if len(result.Variants) > 1 {
		leadingName := result.Variants[result.Leader].Name
		confPct := result.ConfidenceLevel * 100

		switch {
		case result.Confident:
			fmt.Fprintf(out, "Statistical significance: %.1f%% confident \"%s\" is the winner\n", confPct, leadingName)
		case confPct >= 90:
			fmt.Fprintf(out, "Statistical significance: %.1f%% confident \"%s\" leads (not yet significant)\n", confPct, leadingName)
		default:
			fmt.Fprintln(out, "Statistical significance: Not enough data to determine a winner")
		}
	}
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
