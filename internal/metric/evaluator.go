package metric

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/headline-goat/funnel-engine/internal/store"
	"github.com/headline-goat/funnel-engine/internal/telemetry"
)

// DefaultMaxDepth bounds how deeply calculated metrics may nest.
const DefaultMaxDepth = 16

// EventSource is the read side of the Event Store.
type EventSource interface {
	FindEvents(ctx context.Context, f store.Filter) ([]*store.Event, error)
	CountEvents(ctx context.Context, f store.Filter) (int, error)
	CountDistinctContacts(ctx context.Context, f store.Filter) (int, error)
}

// Definitions resolves metric ids referenced by calculated metrics.
type Definitions interface {
	GetMetric(ctx context.Context, id int64) (*store.MetricDefinition, error)
}

// Scope narrows a query to part of the event stream.
type Scope struct {
	FunnelID     *int64
	FunnelStepID *int64
	Source       string
	Tag          string
}

type Query struct {
	OrganizationID int64
	Range          DateRange
	Scope          Scope
}

func (q Query) filter(types []string) store.Filter {
	since, until := q.Range.Bounds()
	return store.Filter{
		OrganizationID: q.OrganizationID,
		Types:          types,
		FunnelID:       q.Scope.FunnelID,
		FunnelStepID:   q.Scope.FunnelStepID,
		Source:         q.Scope.Source,
		Tag:            q.Scope.Tag,
		Since:          since,
		Until:          until,
	}
}

type Evaluator struct {
	events   EventSource
	defs     Definitions
	maxDepth int
}

type Option func(*Evaluator)

func WithMaxDepth(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

func NewEvaluator(events EventSource, defs Definitions, opts ...Option) *Evaluator {
	e := &Evaluator{events: events, defs: defs, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load fetches a definition by id and converts it.
func (e *Evaluator) Load(ctx context.Context, id int64) (Metric, error) {
	def, err := e.defs.GetMetric(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromDefinition(def)
}

// Evaluate computes the value of m over q. A calculated metric whose
// denominator is zero evaluates to 0.
func (e *Evaluator) Evaluate(ctx context.Context, m Metric, q Query) (float64, error) {
	defer telemetry.ObserveEvaluation(string(m.Kind()), time.Now())
	return e.value(ctx, m, q, path{}, 0)
}

// EvaluateSeries computes one value per day of q.Range, in order, with
// explicit zeros for days without data.
func (e *Evaluator) EvaluateSeries(ctx context.Context, m Metric, q Query) ([]Point, error) {
	defer telemetry.ObserveEvaluation(string(m.Kind()), time.Now())

	values, err := e.series(ctx, m, q, path{}, 0)
	if err != nil {
		return nil, err
	}
	days := q.Range.Days()
	points := make([]Point, len(days))
	for i, day := range days {
		points[i] = Point{Day: day, Value: values[i]}
	}
	return points, nil
}

// path holds the ids of the calculated metrics currently being expanded.
type path map[int64]bool

func (p path) enter(m *CalculatedMetric, depth, maxDepth int) error {
	if p[m.ID] {
		return &store.ConfigError{Subject: "metric", ID: m.ID, Reason: "cyclic reference"}
	}
	if depth >= maxDepth {
		return &store.ConfigError{Subject: "metric", ID: m.ID, Reason: fmt.Sprintf("references nest deeper than %d", maxDepth)}
	}
	p[m.ID] = true
	return nil
}

func (e *Evaluator) value(ctx context.Context, m Metric, q Query, p path, depth int) (float64, error) {
	switch m := m.(type) {
	case *EventMetric:
		f := q.filter(m.Types)
		var n int
		var err error
		if m.Aggregation == store.UniqueContacts {
			n, err = e.events.CountDistinctContacts(ctx, f)
		} else {
			n, err = e.events.CountEvents(ctx, f)
		}
		if err != nil {
			return 0, fmt.Errorf("evaluate metric %d: %w", m.ID, err)
		}
		return float64(n), nil

	case *RevenueMetric:
		payments, err := e.events.FindEvents(ctx, q.filter([]string{store.PaymentEvent}))
		if err != nil {
			return 0, fmt.Errorf("evaluate metric %d: %w", m.ID, err)
		}
		var total float64
		for _, ev := range payments {
			if amount, ok := settledAmount(ev); ok {
				total += amount
			}
		}
		return total, nil

	case *CalculatedMetric:
		if err := p.enter(m, depth, e.maxDepth); err != nil {
			return 0, err
		}
		defer delete(p, m.ID)

		num, den, err := e.operands(ctx, m)
		if err != nil {
			return 0, err
		}
		n, err := e.value(ctx, num, q, p, depth+1)
		if err != nil {
			return 0, err
		}
		d, err := e.value(ctx, den, q, p, depth+1)
		if err != nil {
			return 0, err
		}
		return ratio(n, d), nil
	}
	return 0, fmt.Errorf("unsupported metric type %T", m)
}

func (e *Evaluator) series(ctx context.Context, m Metric, q Query, p path, depth int) ([]float64, error) {
	values := make([]float64, q.Range.Len())

	switch m := m.(type) {
	case *EventMetric:
		events, err := e.events.FindEvents(ctx, q.filter(m.Types))
		if err != nil {
			return nil, fmt.Errorf("evaluate metric %d: %w", m.ID, err)
		}
		if m.Aggregation == store.UniqueContacts {
			seen := make([]map[int64]struct{}, len(values))
			for _, ev := range events {
				i, ok := q.Range.IndexOf(ev.Timestamp)
				if !ok || ev.ContactID == nil {
					continue
				}
				if seen[i] == nil {
					seen[i] = make(map[int64]struct{})
				}
				seen[i][*ev.ContactID] = struct{}{}
			}
			for i, contacts := range seen {
				values[i] = float64(len(contacts))
			}
			return values, nil
		}
		for _, ev := range events {
			if i, ok := q.Range.IndexOf(ev.Timestamp); ok {
				values[i]++
			}
		}
		return values, nil

	case *RevenueMetric:
		payments, err := e.events.FindEvents(ctx, q.filter([]string{store.PaymentEvent}))
		if err != nil {
			return nil, fmt.Errorf("evaluate metric %d: %w", m.ID, err)
		}
		for _, ev := range payments {
			i, ok := q.Range.IndexOf(ev.Timestamp)
			if !ok {
				continue
			}
			if amount, ok := settledAmount(ev); ok {
				values[i] += amount
			}
		}
		return values, nil

	case *CalculatedMetric:
		if err := p.enter(m, depth, e.maxDepth); err != nil {
			return nil, err
		}
		defer delete(p, m.ID)

		num, den, err := e.operands(ctx, m)
		if err != nil {
			return nil, err
		}
		ns, err := e.series(ctx, num, q, p, depth+1)
		if err != nil {
			return nil, err
		}
		ds, err := e.series(ctx, den, q, p, depth+1)
		if err != nil {
			return nil, err
		}
		for i := range values {
			values[i] = ratio(ns[i], ds[i])
		}
		return values, nil
	}
	return nil, fmt.Errorf("unsupported metric type %T", m)
}

func (e *Evaluator) operands(ctx context.Context, m *CalculatedMetric) (Metric, Metric, error) {
	num, err := e.reference(ctx, m, m.NumeratorID, "numerator")
	if err != nil {
		return nil, nil, err
	}
	den, err := e.reference(ctx, m, m.DenominatorID, "denominator")
	if err != nil {
		return nil, nil, err
	}
	return num, den, nil
}

func (e *Evaluator) reference(ctx context.Context, m *CalculatedMetric, id int64, role string) (Metric, error) {
	ref, err := e.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &store.ConfigError{Subject: "metric", ID: m.ID, Reason: fmt.Sprintf("%s %d does not exist", role, id)}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s of metric %d: %w", role, m.ID, err)
	}
	return ref, nil
}

func ratio(n, d float64) float64 {
	if d == 0 {
		return 0
	}
	return n / d
}

// settledAmount reports the amount of a payment event whose status is
// succeeded.
func settledAmount(ev *store.Event) (float64, bool) {
	if status, _ := ev.Payload["status"].(string); status != store.PaymentSucceeded {
		return 0, false
	}
	switch v := ev.Payload["amount"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
