// Package alert detects event streams that have gone quiet. An alert fires
// when no matching event has arrived within its threshold window.
package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/headline-goat/funnel-engine/internal/store"
	"github.com/headline-goat/funnel-engine/internal/telemetry"
)

const (
	MinThresholdHours  = 1
	MaxThresholdHours  = 168
	DefaultConcurrency = 4
)

// Store is the slice of storage the monitor reads and writes.
type Store interface {
	ListAlerts(ctx context.Context, organizationID int64) ([]*store.Alert, error)
	FindLatestEvent(ctx context.Context, f store.Filter) (*store.Event, error)
	UpdateAlertState(ctx context.Context, id int64, st store.AlertState) error
}

// Result is the outcome of checking one alert.
type Result struct {
	AlertID     int64
	Fired       bool
	LastEventAt *time.Time
	Err         error
}

type Report struct {
	CheckedAt time.Time
	Results   []Result // Ordered by alert id
	Checked   int
	Skipped   int // Inactive alerts
	Fired     []int64
	Failed    map[int64]error
}

type Monitor struct {
	store       Store
	log         logrus.FieldLogger
	now         func() time.Time
	concurrency int
}

type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Monitor) { m.log = l }
}

func NewMonitor(s Store, opts ...Option) *Monitor {
	m := &Monitor{
		store:       s,
		log:         logrus.StandardLogger(),
		now:         time.Now,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check evaluates every active alert of the organization (0 means all
// organizations). A failure on one alert is recorded in the report and
// does not stop the others; only a failure to list alerts is returned.
//
// Alerts are level-triggered: a stale alert fires again on every check
// until a matching event arrives.
func (m *Monitor) Check(ctx context.Context, organizationID int64) (*Report, error) {
	alerts, err := m.store.ListAlerts(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	now := m.now().UTC()
	report := &Report{CheckedAt: now, Failed: map[int64]error{}}

	var active []*store.Alert
	for _, a := range alerts {
		if !a.IsActive {
			report.Skipped++
			continue
		}
		active = append(active, a)
	}

	results := make([]Result, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, a := range active {
		i, a := i, a
		g.Go(func() error {
			results[i] = m.checkOne(gctx, a, now)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].AlertID < results[j].AlertID })
	for _, r := range results {
		report.Checked++
		switch {
		case r.Err != nil:
			report.Failed[r.AlertID] = r.Err
		case r.Fired:
			report.Fired = append(report.Fired, r.AlertID)
		}
		telemetry.RecordAlertCheck(r.Fired, r.Err)
	}
	report.Results = results

	m.log.WithFields(logrus.Fields{
		"organization_id": organizationID,
		"checked":         report.Checked,
		"fired":           len(report.Fired),
		"failed":          len(report.Failed),
	}).Info("alert check complete")

	return report, nil
}

func (m *Monitor) checkOne(ctx context.Context, a *store.Alert, now time.Time) (res Result) {
	res.AlertID = a.ID
	log := m.log.WithField("alert_id", a.ID)

	defer func() {
		if p := recover(); p != nil {
			res = Result{AlertID: a.ID, Err: fmt.Errorf("alert %d: panic: %v", a.ID, p)}
		}
		if res.Err != nil {
			log.WithError(res.Err).Warn("alert check failed")
		}
	}()

	if a.ThresholdHours < MinThresholdHours || a.ThresholdHours > MaxThresholdHours {
		res.Err = &store.ConfigError{
			Subject: "alert",
			ID:      a.ID,
			Reason:  fmt.Sprintf("threshold %dh outside %d..%dh", a.ThresholdHours, MinThresholdHours, MaxThresholdHours),
		}
		return res
	}

	f := store.Filter{
		OrganizationID: a.OrganizationID,
		FunnelID:       a.FunnelID,
		FunnelStepID:   a.FunnelStepID,
		Since:          now.Add(-time.Duration(a.ThresholdHours) * time.Hour),
	}
	if a.Type != "" && a.Type != store.AnyEvent {
		f.Types = []string{a.Type}
	}

	latest, err := m.store.FindLatestEvent(ctx, f)
	if err != nil {
		res.Err = fmt.Errorf("alert %d: find latest event: %w", a.ID, err)
		return res
	}

	if latest != nil {
		ts := latest.Timestamp
		if err := m.store.UpdateAlertState(ctx, a.ID, store.AlertState{LastEventAt: &ts}); err != nil {
			res.Err = fmt.Errorf("alert %d: record last event: %w", a.ID, err)
			return res
		}
		res.LastEventAt = &ts
		return res
	}

	if err := m.store.UpdateAlertState(ctx, a.ID, store.AlertState{LastFiredAt: &now}); err != nil {
		res.Err = fmt.Errorf("alert %d: record fire: %w", a.ID, err)
		return res
	}
	res.Fired = true
	log.WithField("threshold_hours", a.ThresholdHours).Info("alert fired")
	return res
}
