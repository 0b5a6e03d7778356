package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/store"
)

var funnelCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Define funnels and break them down by step",
}

func init() {
	funnelCmd.AddCommand(newFunnelCreateCmd(), newFunnelBreakdownCmd())
	rootCmd.AddCommand(funnelCmd)
}

func newFunnelCreateCmd() *cobra.Command {
	var (
		org   int64
		steps string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a funnel from ordered step names",
		Long: `Create a funnel. Steps are numbered from 1 in the order given.

Example:
  fnl funnel create "Trial signup" --steps "Landing,Signup,Activated,Paid"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := splitList(steps)
			if len(names) == 0 {
				return fmt.Errorf("need at least one step. Example: --steps \"Landing,Signup\"")
			}

			return withStore(func(s *store.SQLStore) error {
				f, err := s.CreateFunnel(cmd.Context(), org, args[0], names)
				if err != nil {
					return fmt.Errorf("failed to create funnel: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Created funnel %d '%s':\n", f.ID, f.Name)
				for _, st := range f.Steps {
					fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s (step id %d)\n", st.Position, st.Name, st.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&org, "org", 1, "organization id")
	cmd.Flags().StringVar(&steps, "steps", "", "comma-separated step names in order (required)")
	cmd.MarkFlagRequired("steps")
	return cmd
}

func newFunnelBreakdownCmd() *cobra.Command {
	var rf reportFlags

	cmd := &cobra.Command{
		Use:   "breakdown <id>",
		Short: "Show step counts, conversion rates and sources for a funnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0], "funnel")
			if err != nil {
				return err
			}
			if err := validFormat(rf.format); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(e *engine) error {
				q, err := rf.query(1)
				if err != nil {
					return err
				}
				b, err := e.assembler.FunnelBreakdown(cmd.Context(), q.OrganizationID, id, q)
				if err != nil {
					return err
				}
				return writeBreakdown(cmd.OutOrStdout(), rf.format, b)
			})
		},
	}
	rf.register(cmd)
	return cmd
}
