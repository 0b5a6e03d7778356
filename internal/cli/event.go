package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/store"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Record events and update their status",
}

func init() {
	eventCmd.AddCommand(newEventRecordCmd(), newEventStatusCmd(), newEventTagCmd())
	rootCmd.AddCommand(eventCmd)
}

func newEventRecordCmd() *cobra.Command {
	var (
		org        int64
		eventType  string
		source     string
		session    string
		contact    int64
		funnel     int64
		step       int64
		amount     float64
		status     string
		externalID string
		at         string
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one event",
		Long: `Record an event. Recording is idempotent on --external-id; without one a
random id is generated. Payments carry --amount and --status.

Examples:
  fnl event record --type page_view --source google --session s-1
  fnl event record --type payment --amount 49.99 --status succeeded --external-id ch_123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := &store.Event{
				OrganizationID: org,
				Type:           eventType,
				Source:         source,
				SessionKey:     session,
				Confidence:     confidence,
				ExternalID:     externalID,
				Payload:        map[string]any{},
			}
			if e.ExternalID == "" {
				e.ExternalID = uuid.NewString()
			}
			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q: want RFC 3339", at)
				}
				e.Timestamp = ts
			}
			if contact != 0 {
				e.ContactID = &contact
			}
			if funnel != 0 {
				e.FunnelID = &funnel
			}
			if step != 0 {
				e.FunnelStepID = &step
			}
			if cmd.Flags().Changed("amount") {
				e.Payload["amount"] = amount
			}
			if status != "" {
				e.Payload["status"] = status
			}

			return withStore(func(s *store.SQLStore) error {
				created, err := s.RecordEvent(cmd.Context(), e)
				if err != nil {
					return fmt.Errorf("failed to record event: %w", err)
				}
				if created {
					fmt.Fprintf(cmd.OutOrStdout(), "Recorded event %d (%s)\n", e.ID, e.ExternalID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Event %s already recorded as %d\n", e.ExternalID, e.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&org, "org", 1, "organization id")
	cmd.Flags().StringVar(&eventType, "type", "", "event type (required)")
	cmd.Flags().StringVar(&source, "source", "", "attribution source")
	cmd.Flags().StringVar(&session, "session", "", "session key")
	cmd.Flags().Int64Var(&contact, "contact", 0, "contact id")
	cmd.Flags().Int64Var(&funnel, "funnel", 0, "funnel id")
	cmd.Flags().Int64Var(&step, "step", 0, "funnel step id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "payment amount")
	cmd.Flags().StringVar(&status, "status", "", "payment status")
	cmd.Flags().StringVar(&externalID, "external-id", "", "idempotency key")
	cmd.Flags().StringVar(&at, "at", "", "event time, RFC 3339 (default: now)")
	cmd.Flags().Float64Var(&confidence, "confidence", 1, "attribution confidence, 0 to 1")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newEventStatusCmd() *cobra.Command {
	var org int64

	cmd := &cobra.Command{
		Use:   "status <external-id> <status>",
		Short: "Set the provider status of an event, such as a refund",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLStore) error {
				if err := s.SetEventStatus(cmd.Context(), org, args[0], args[1]); err != nil {
					return fmt.Errorf("failed to update event %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Event %s is now %s\n", args[0], args[1])
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&org, "org", 1, "organization id")
	return cmd
}

func newEventTagCmd() *cobra.Command {
	var org int64

	cmd := &cobra.Command{
		Use:   "tag <contact-id> <tag>",
		Short: "Tag a contact for tag-scoped reports",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := parseIDArg(args[0], "contact")
			if err != nil {
				return err
			}
			return withStore(func(s *store.SQLStore) error {
				if err := s.TagContact(cmd.Context(), org, contact, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tagged contact %d with '%s'\n", contact, args[1])
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&org, "org", 1, "organization id")
	return cmd
}
