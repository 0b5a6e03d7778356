package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/store"
)

// statusTransitions lists the statuses each command may move from.
var statusTransitions = map[store.ExperimentStatus][]store.ExperimentStatus{
	store.StatusPaused:    {store.StatusActive},
	store.StatusActive:    {store.StatusPaused},
	store.StatusCompleted: {store.StatusActive, store.StatusPaused},
}

func newExperimentStatusCmd(use string, to store.ExperimentStatus, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <slug>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			return withStore(func(s *store.SQLStore) error {
				ctx := cmd.Context()
				exp, err := s.GetExperimentBySlug(ctx, slug)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("experiment not found: %s", slug)
				}
				if err != nil {
					return fmt.Errorf("failed to get experiment: %w", err)
				}

				if !canTransition(exp.Status, to) {
					return fmt.Errorf("cannot %s experiment '%s' (current status: %s)", use, slug, exp.Status)
				}
				if err := s.UpdateExperimentStatus(ctx, slug, to); err != nil {
					return fmt.Errorf("failed to update experiment: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Experiment '%s' is now %s.\n", slug, to)
				if to != store.StatusActive && len(exp.Variants) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Visitors to /x/%s are sent to \"%s\".\n", slug, exp.Variants[0].Name)
				}
				return nil
			})
		},
	}
}

func canTransition(from, to store.ExperimentStatus) bool {
	for _, ok := range statusTransitions[to] {
		if ok == from {
			return true
		}
	}
	return false
}
