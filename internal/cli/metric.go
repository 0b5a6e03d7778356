package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/metric"
	"github.com/headline-goat/funnel-engine/internal/store"
)

var metricCmd = &cobra.Command{
	Use:   "metric",
	Short: "Define and evaluate metrics",
}

func init() {
	metricCmd.AddCommand(
		newMetricCreateCmd(),
		newMetricListCmd(),
		newMetricValueCmd(),
		newMetricSeriesCmd(),
		newMetricCheckCmd(),
		newMetricDeleteCmd(),
	)
	rootCmd.AddCommand(metricCmd)
}

func newMetricCreateCmd() *cobra.Command {
	var (
		org         int64
		kind        string
		types       string
		aggregation string
		numerator   int64
		denominator int64
		format      string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a metric definition",
		Long: `Create an event, revenue or calculated metric.

Examples:
  fnl metric create "Page views" --kind event --types page_view
  fnl metric create "Visitors" --kind event --types page_view --aggregation unique_contacts
  fnl metric create "Revenue" --kind revenue --format currency
  fnl metric create "Signup rate" --kind calculated --numerator 2 --denominator 1 --format percentage`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def := &store.MetricDefinition{
				OrganizationID: org,
				Name:           args[0],
				Kind:           store.MetricKind(kind),
				EventTypes:     splitList(types),
				Aggregation:    store.Aggregation(aggregation),
				Format:         store.Format(format),
			}
			if numerator != 0 {
				def.NumeratorID = &numerator
			}
			if denominator != 0 {
				def.DenominatorID = &denominator
			}
			if _, err := metric.FromDefinition(def); err != nil {
				return err
			}

			return withStore(func(s *store.SQLStore) error {
				ctx := cmd.Context()
				if def.Kind == store.KindCalculated {
					for _, ref := range []int64{numerator, denominator} {
						if _, err := s.GetMetric(ctx, ref); err != nil {
							return fmt.Errorf("metric %d: %w", ref, err)
						}
					}
				}
				if err := s.CreateMetric(ctx, def); err != nil {
					return fmt.Errorf("failed to create metric: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s metric %d '%s'\n", def.Kind, def.ID, def.Name)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&org, "org", 1, "organization id")
	cmd.Flags().StringVar(&kind, "kind", string(store.KindEvent), "event, revenue or calculated")
	cmd.Flags().StringVar(&types, "types", "", "comma-separated event types (event metrics)")
	cmd.Flags().StringVar(&aggregation, "aggregation", "", "total_events or unique_contacts (event metrics)")
	cmd.Flags().Int64Var(&numerator, "numerator", 0, "numerator metric id (calculated metrics)")
	cmd.Flags().Int64Var(&denominator, "denominator", 0, "denominator metric id (calculated metrics)")
	cmd.Flags().StringVar(&format, "format", string(store.FormatNumber), "number, currency or percentage")
	return cmd
}

func newMetricListCmd() *cobra.Command {
	var org int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List metric definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLStore) error {
				defs, err := s.ListMetrics(cmd.Context(), org)
				if err != nil {
					return fmt.Errorf("failed to list metrics: %w", err)
				}
				if len(defs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No metrics yet.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tKIND\tDEFINITION\tFORMAT")
				for _, d := range defs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Kind, describe(d), d.Format)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().Int64Var(&org, "org", 1, "organization id")
	return cmd
}

func describe(d *store.MetricDefinition) string {
	switch d.Kind {
	case store.KindCalculated:
		if d.NumeratorID != nil && d.DenominatorID != nil {
			return fmt.Sprintf("#%d / #%d", *d.NumeratorID, *d.DenominatorID)
		}
	case store.KindRevenue:
		return "succeeded payments"
	case store.KindEvent:
		agg := string(d.Aggregation)
		if agg == "" {
			agg = string(store.TotalEvents)
		}
		if len(d.EventTypes) == 0 {
			return agg + " of any event"
		}
		return fmt.Sprintf("%s of %v", agg, d.EventTypes)
	}
	return ""
}

// reportFlags are the range and scope flags shared by reporting commands.
type reportFlags struct {
	org    int64
	from   string
	to     string
	days   int
	source string
	tag    string
	funnel int64
	step   int64
	format string
}

func (f *reportFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.org, "org", 0, "organization id (default: the metric's own)")
	cmd.Flags().StringVar(&f.from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().IntVar(&f.days, "days", 30, "days ending today when --from/--to are not given")
	cmd.Flags().StringVar(&f.source, "source", "", "only events from this source")
	cmd.Flags().StringVar(&f.tag, "tag", "", "only events of contacts with this tag")
	cmd.Flags().Int64Var(&f.funnel, "funnel", 0, "only events of this funnel")
	cmd.Flags().Int64Var(&f.step, "step", 0, "only events of this funnel step")
	cmd.Flags().StringVarP(&f.format, "format", "f", "table", "output format (table, csv or json)")
}

func (f *reportFlags) query(org int64) (metric.Query, error) {
	rng, err := reportRange(f.from, f.to, f.days)
	if err != nil {
		return metric.Query{}, err
	}
	q := metric.Query{OrganizationID: org, Range: rng}
	if f.org != 0 {
		q.OrganizationID = f.org
	}
	q.Scope.Source = f.source
	q.Scope.Tag = f.tag
	if f.funnel != 0 {
		q.Scope.FunnelID = &f.funnel
	}
	if f.step != 0 {
		q.Scope.FunnelStepID = &f.step
	}
	return q, nil
}

func newMetricValueCmd() *cobra.Command {
	var rf reportFlags

	cmd := &cobra.Command{
		Use:   "value <id>",
		Short: "Evaluate a metric over a date range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0], "metric")
			if err != nil {
				return err
			}
			if err := validFormat(rf.format); err != nil {
				return err
			}

			return withEngine(cmd.Context(), func(e *engine) error {
				m, err := e.evaluator.Load(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("metric %d: %w", id, err)
				}
				q, err := rf.query(m.Meta().OrganizationID)
				if err != nil {
					return err
				}
				v, err := e.evaluator.Evaluate(cmd.Context(), m, q)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				meta := m.Meta()
				switch rf.format {
				case "json":
					return printJSON(out, map[string]any{
						"metric_id": meta.ID,
						"name":      meta.Name,
						"from":      q.Range.From.Format(dateLayout),
						"to":        q.Range.To.Format(dateLayout),
						"value":     v,
					})
				case "csv":
					fmt.Fprintf(out, "metric_id,metric,from,to,value\n%d,%s,%s,%s,%v\n",
						meta.ID, meta.Name, q.Range.From.Format(dateLayout), q.Range.To.Format(dateLayout), v)
					return nil
				}
				fmt.Fprintf(out, "%s (%s): %s\n", meta.Name, q.Range, metric.FormatValue(v, meta.Format))
				return nil
			})
		},
	}
	rf.register(cmd)
	return cmd
}

func newMetricSeriesCmd() *cobra.Command {
	var rf reportFlags

	cmd := &cobra.Command{
		Use:   "series <id>...",
		Short: "Print daily series for one or more metrics",
		Long: `Print one value per day for each metric, with explicit zeros on days
without data.

Examples:
  fnl metric series 1 2 --days 7
  fnl metric series 3 --from 2024-01-01 --to 2024-01-31 --format csv > signups.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(rf.format); err != nil {
				return err
			}
			ids := make([]int64, len(args))
			for i, a := range args {
				id, err := parseIDArg(a, "metric")
				if err != nil {
					return err
				}
				ids[i] = id
			}

			return withEngine(cmd.Context(), func(e *engine) error {
				ms := make([]metric.Metric, len(ids))
				for i, id := range ids {
					m, err := e.evaluator.Load(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("metric %d: %w", id, err)
					}
					ms[i] = m
				}
				q, err := rf.query(ms[0].Meta().OrganizationID)
				if err != nil {
					return err
				}
				series, err := e.assembler.Chart(cmd.Context(), ms, q)
				if err != nil {
					return err
				}
				return writeSeries(cmd.OutOrStdout(), rf.format, series)
			})
		},
	}
	rf.register(cmd)
	return cmd
}

func newMetricCheckCmd() *cobra.Command {
	var org int64

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate metric definitions for missing references and cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLStore) error {
				defs, err := s.ListMetrics(cmd.Context(), org)
				if err != nil {
					return fmt.Errorf("failed to list metrics: %w", err)
				}
				if err := metric.Validate(defs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d metric definitions OK\n", len(defs))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&org, "org", 1, "organization id")
	return cmd
}

func newMetricDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a metric that no other metric references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0], "metric")
			if err != nil {
				return err
			}
			return withStore(func(s *store.SQLStore) error {
				err := s.DeleteMetric(cmd.Context(), id)
				if errors.Is(err, store.ErrInUse) {
					return dependentsError(cmd.Context(), s, id, err)
				}
				if err != nil {
					return fmt.Errorf("failed to delete metric %d: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted metric %d\n", id)
				return nil
			})
		},
	}
}

// dependentsError names the metrics blocking a delete.
func dependentsError(ctx context.Context, s *store.SQLStore, id int64, cause error) error {
	def, err := s.GetMetric(ctx, id)
	if err != nil {
		return cause
	}
	defs, err := s.ListMetrics(ctx, def.OrganizationID)
	if err != nil {
		return cause
	}
	return fmt.Errorf("%w (used by %v)", cause, metric.Dependents(defs, id))
}
