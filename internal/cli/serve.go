package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/funnel-engine/internal/alert"
	"github.com/headline-goat/funnel-engine/internal/server"
	"github.com/headline-goat/funnel-engine/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the fnl HTTP server.

The server provides:
  - Split-test redirects at /x/<slug>
  - Metric values and series, funnel breakdowns and alert checks under /v1
  - Health, readiness and Prometheus endpoints

Alerts are checked every alerts.interval while the server runs unless
alerts.schedule is false.

Example:
  fnl serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withStore(func(s *store.SQLStore) error {
		e, err := newEngine(ctx, s)
		if err != nil {
			return err
		}
		defer e.Close()

		if cfg.Alerts.Schedule {
			go scheduleAlerts(ctx, e.monitor, cfg.Alerts.Interval)
		}

		srv := server.New(server.Deps{
			Store:         s,
			Router:        e.router,
			Evaluator:     e.evaluator,
			Assembler:     e.assembler,
			Monitor:       e.monitor,
			Log:           logger,
			SessionCookie: cfg.Experiments.SessionCookie,
			Location:      cfg.Location(),
		}, cfg.Server.Port)

		fmt.Fprintf(cmd.OutOrStdout(), "fnl listening on http://localhost:%d (%s, %s ledger)\n",
			cfg.Server.Port, s.Driver(), cfg.Ledger.Driver)
		return srv.Start(ctx)
	})
}

// scheduleAlerts runs a check pass across all organizations every
// interval until ctx is done.
func scheduleAlerts(ctx context.Context, m *alert.Monitor, interval time.Duration) {
	log := logger.WithField("interval", interval.String())
	log.Info("alert scheduler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("alert scheduler stopped")
			return
		case <-ticker.C:
			if _, err := m.Check(ctx, 0); err != nil {
				log.WithError(err).Error("scheduled alert check failed")
			}
		}
	}
}
