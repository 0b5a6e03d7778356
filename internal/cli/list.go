package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/store"
)

func newExperimentListCmd() *cobra.Command {
	var event string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all experiments",
		Long:  `List experiments with their status, variants and assignment totals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLStore) error {
				ctx := cmd.Context()
				exps, err := s.ListExperiments(ctx)
				if err != nil {
					return fmt.Errorf("failed to list experiments: %w", err)
				}

				if len(exps) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No experiments yet.")
					fmt.Fprintln(cmd.OutOrStdout())
					fmt.Fprintln(cmd.OutOrStdout(), "Create one with:")
					fmt.Fprintln(cmd.OutOrStdout(), `  fnl experiment create <slug> --variant "A=https://..." --variant "B=https://..."`)
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SLUG\tNAME\tSTATUS\tVARIANTS\tASSIGNED\tCONVERTED\tCREATED")
				for _, exp := range exps {
					counts, err := s.VariantConversions(ctx, exp.ID, event)
					if err != nil {
						return fmt.Errorf("failed to get stats for experiment %s: %w", exp.Slug, err)
					}

					assigned, converted := 0, 0
					for _, c := range counts {
						assigned += c.Assigned
						converted += c.Converted
					}

					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
						exp.Slug,
						exp.Name,
						strings.ToUpper(string(exp.Status)),
						len(exp.Variants),
						humanize.Comma(int64(assigned)),
						humanize.Comma(int64(converted)),
						exp.CreatedAt.Format(dateLayout),
					)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&event, "event", "conversion", "event type counted as a conversion")
	return cmd
}
