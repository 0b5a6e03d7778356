package cli

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/store"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func newExperimentCreateCmd() *cobra.Command {
	var (
		org      int64
		name     string
		variants []string
		weights  []float64
		paused   bool
	)

	cmd := &cobra.Command{
		Use:   "create <slug>",
		Short: "Create a split-test experiment",
		Long: `Create an experiment whose link /x/<slug> splits traffic between variant
URLs. Weights are relative; without --weight traffic is split evenly.

Examples:
  fnl experiment create pricing --variant "Control=https://example.com/pricing" \
      --variant "Annual=https://example.com/pricing-annual" --weight 70,30
  fnl experiment create hero --variant A=/a --variant B=/b --variant C=/c`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := buildExperiment(args[0], name, variants, weights)
			if err != nil {
				return err
			}
			exp.OrganizationID = org
			if paused {
				exp.Status = store.StatusPaused
			}

			return withStore(func(s *store.SQLStore) error {
				if err := s.CreateExperiment(cmd.Context(), exp); err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created experiment '%s' (%s) with %d variants:\n", exp.Slug, exp.Status, len(exp.Variants))
				total := totalWeight(exp.Variants)
				for _, v := range exp.Variants {
					fmt.Fprintf(out, "  %d: %s -> %s (%.0f%%)\n", v.ID, v.Name, v.URL, v.Weight/total*100)
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&org, "org", 1, "organization id")
	cmd.Flags().StringVar(&name, "name", "", "display name (default: the slug)")
	cmd.Flags().StringArrayVarP(&variants, "variant", "v", nil, "variant as Name=URL, repeatable (required)")
	cmd.Flags().Float64SliceVarP(&weights, "weight", "w", nil, "comma-separated weights, one per variant")
	cmd.Flags().BoolVar(&paused, "paused", false, "create the experiment paused")
	cmd.MarkFlagRequired("variant")

	return cmd
}

// buildExperiment validates command-line input into an experiment ready
// to be stored.
func buildExperiment(slug, name string, variants []string, weights []float64) (*store.Experiment, error) {
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("invalid slug %q: use lowercase letters, digits, '-' and '_'", slug)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("need at least one variant. Example: --variant \"Control=https://example.com/\"")
	}
	if len(weights) > 0 && len(weights) != len(variants) {
		return nil, fmt.Errorf("got %d weights for %d variants", len(weights), len(variants))
	}
	if name == "" {
		name = slug
	}

	exp := &store.Experiment{Slug: slug, Name: name, Status: store.StatusActive}
	for i, raw := range variants {
		vname, vurl, ok := strings.Cut(raw, "=")
		vname, vurl = strings.TrimSpace(vname), strings.TrimSpace(vurl)
		if !ok || vname == "" || vurl == "" {
			return nil, fmt.Errorf("invalid variant %q: want Name=URL", raw)
		}
		if _, err := url.Parse(vurl); err != nil {
			return nil, fmt.Errorf("invalid variant %q: %w", raw, err)
		}

		w := 1.0
		if len(weights) > 0 {
			w = weights[i]
		}
		if w < 0 {
			return nil, fmt.Errorf("variant %q: weight must not be negative", vname)
		}
		exp.Variants = append(exp.Variants, store.Variant{Name: vname, URL: vurl, Weight: w})
	}
	if totalWeight(exp.Variants) <= 0 {
		return nil, fmt.Errorf("at least one variant needs a positive weight")
	}
	return exp, nil
}

func totalWeight(vs []store.Variant) float64 {
	var total float64
	for _, v := range vs {
		total += v.Weight
	}
	return total
}
