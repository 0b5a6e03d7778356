package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/headline-goat/funnel-engine/internal/alert"
	"github.com/headline-goat/funnel-engine/internal/experiment"
	"github.com/headline-goat/funnel-engine/internal/metric"
	"github.com/headline-goat/funnel-engine/internal/store"
	"github.com/headline-goat/funnel-engine/internal/timeseries"
)

// withStore opens the configured database, executes the function, and
// handles cleanup.
func withStore(fn func(*store.SQLStore) error) error {
	s, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// engine wires the domain components over one store.
type engine struct {
	store     *store.SQLStore
	evaluator *metric.Evaluator
	assembler *timeseries.Assembler
	monitor   *alert.Monitor
	router    *experiment.Router
	closeFn   func() error
}

func newEngine(ctx context.Context, s *store.SQLStore) (*engine, error) {
	var ledger experiment.Ledger = s
	closeFn := func() error { return nil }

	if cfg.Ledger.Driver == "redis" {
		rl, err := store.NewRedisLedger(ctx, cfg.Redis.Addr, cfg.Ledger.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect assignment ledger: %w", err)
		}
		ledger = rl
		closeFn = rl.Close
	}

	eval := metric.NewEvaluator(s, s, metric.WithMaxDepth(cfg.Metrics.MaxDepth))
	return &engine{
		store:     s,
		evaluator: eval,
		assembler: timeseries.NewAssembler(eval, s, s),
		monitor:   alert.NewMonitor(s, alert.WithLogger(logger), alert.WithConcurrency(cfg.Alerts.Concurrency)),
		router: experiment.NewRouter(s, ledger,
			experiment.WithLogger(logger),
			experiment.WithCookieMaxAge(cfg.CookieMaxAge()),
		),
		closeFn: closeFn,
	}, nil
}

func (e *engine) Close() error {
	return e.closeFn()
}

// withEngine is withStore plus the domain components.
func withEngine(ctx context.Context, fn func(*engine) error) error {
	return withStore(func(s *store.SQLStore) error {
		e, err := newEngine(ctx, s)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(e)
	})
}

// reportRange resolves --from/--to, defaulting to the last days days.
func reportRange(from, to string, days int) (metric.DateRange, error) {
	loc := cfg.Location()
	if from == "" && to == "" {
		return metric.LastNDays(time.Now(), days, loc), nil
	}
	if from == "" || to == "" {
		return metric.DateRange{}, fmt.Errorf("--from and --to must be given together")
	}
	return metric.ParseDateRange(from, to, loc)
}

func parseIDArg(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return id, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
