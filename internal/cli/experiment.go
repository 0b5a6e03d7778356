package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/experiment"
	"github.com/headline-goat/funnel-engine/internal/store"
)

var experimentCmd = &cobra.Command{
	Use:     "experiment",
	Aliases: []string{"exp"},
	Short:   "Manage split-test experiments",
}

func init() {
	experimentCmd.AddCommand(
		newExperimentCreateCmd(),
		newExperimentListCmd(),
		newExperimentResultsCmd(),
		newExperimentAssignCmd(),
		newExperimentStatusCmd("pause", store.StatusPaused, "Pause an experiment; visitors get the first variant"),
		newExperimentStatusCmd("resume", store.StatusActive, "Resume a paused experiment"),
		newExperimentStatusCmd("complete", store.StatusCompleted, "Complete an experiment"),
	)
	rootCmd.AddCommand(experimentCmd)
}

func newExperimentAssignCmd() *cobra.Command {
	var (
		session string
		cookie  string
	)

	cmd := &cobra.Command{
		Use:   "assign <slug>",
		Short: "Resolve the variant a visitor would be sent to",
		Long: `Resolve a visitor exactly as the /x/<slug> redirect does, recording the
assignment in the ledger. Without --session a new session key is generated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := session
			if key == "" {
				key = uuid.NewString()
			}

			return withEngine(cmd.Context(), func(e *engine) error {
				d, err := e.router.Resolve(cmd.Context(), args[0], experiment.Identity{
					CookieVariant: cookie,
					SessionKey:    key,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "session:   %s\n", key)
				fmt.Fprintf(out, "variant:   %d (%s)\n", d.Variant.ID, d.Variant.Name)
				fmt.Fprintf(out, "url:       %s\n", d.URL)
				fmt.Fprintf(out, "source:    %s\n", d.Source)
				fmt.Fprintf(out, "persisted: %t\n", d.Persisted)
				if d.Cookie != nil {
					fmt.Fprintf(out, "cookie:    %s=%s\n", d.Cookie.Name, d.Cookie.Value)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session key of the visitor")
	cmd.Flags().StringVar(&cookie, "cookie", "", "variant id carried in the visitor's cookie")
	return cmd
}
