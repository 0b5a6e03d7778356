package metric_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/funnel-engine/internal/metric"
	"github.com/headline-goat/funnel-engine/internal/store"
)

// memEvents filters an in-memory event slice the way the SQL store does.
type memEvents struct {
	events []*store.Event
	err    error
}

func (m *memEvents) FindEvents(_ context.Context, f store.Filter) ([]*store.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*store.Event
	for _, ev := range m.events {
		if matches(ev, f) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEvents) CountEvents(ctx context.Context, f store.Filter) (int, error) {
	evs, err := m.FindEvents(ctx, f)
	return len(evs), err
}

func (m *memEvents) CountDistinctContacts(ctx context.Context, f store.Filter) (int, error) {
	evs, err := m.FindEvents(ctx, f)
	if err != nil {
		return 0, err
	}
	seen := map[int64]bool{}
	for _, ev := range evs {
		if ev.ContactID != nil {
			seen[*ev.ContactID] = true
		}
	}
	return len(seen), nil
}

func matches(ev *store.Event, f store.Filter) bool {
	if f.OrganizationID != 0 && ev.OrganizationID != f.OrganizationID {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == ev.Type {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	if f.FunnelID != nil && (ev.FunnelID == nil || *ev.FunnelID != *f.FunnelID) {
		return false
	}
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ev.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

type memDefs map[int64]*store.MetricDefinition

func (m memDefs) GetMetric(_ context.Context, id int64) (*store.MetricDefinition, error) {
	d, ok := m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func ptr(v int64) *int64 { return &v }

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(day, hour int) time.Time {
	return day0.Add(time.Duration(day)*24*time.Hour + time.Duration(hour)*time.Hour)
}

func ev(typ string, ts time.Time, contact int64) *store.Event {
	return &store.Event{OrganizationID: 1, Type: typ, Timestamp: ts, ContactID: ptr(contact)}
}

func payment(ts time.Time, amount any, status string) *store.Event {
	return &store.Event{OrganizationID: 1, Type: store.PaymentEvent, Timestamp: ts, Payload: map[string]any{"amount": amount, "status": status}}
}

func weekQuery(t *testing.T) metric.Query {
	t.Helper()
	r, err := metric.NewDateRange(day0, at(6, 0), time.UTC)
	require.NoError(t, err)
	return metric.Query{OrganizationID: 1, Range: r}
}

func conversionDefs() memDefs {
	return memDefs{
		1: {ID: 1, OrganizationID: 1, Name: "Visits", Kind: store.KindEvent, EventTypes: []string{"page_view"}},
		2: {ID: 2, OrganizationID: 1, Name: "Signups", Kind: store.KindEvent, EventTypes: []string{"signup"}},
		3: {ID: 3, OrganizationID: 1, Name: "Conversion", Kind: store.KindCalculated, NumeratorID: ptr(2), DenominatorID: ptr(1), Format: store.FormatPercentage},
	}
}

func TestEvaluate_Calculated(t *testing.T) {
	ctx := context.Background()
	src := &memEvents{}
	for i := 0; i < 8; i++ {
		src.events = append(src.events, ev("page_view", at(i%7, 10), int64(i)))
	}
	src.events = append(src.events, ev("signup", at(2, 11), 1), ev("signup", at(3, 9), 2))

	defs := conversionDefs()
	e := metric.NewEvaluator(src, defs)
	q := weekQuery(t)

	visits, err := e.Load(ctx, 1)
	require.NoError(t, err)
	signups, err := e.Load(ctx, 2)
	require.NoError(t, err)
	conv, err := e.Load(ctx, 3)
	require.NoError(t, err)

	v, err := e.Evaluate(ctx, visits, q)
	require.NoError(t, err)
	s, err := e.Evaluate(ctx, signups, q)
	require.NoError(t, err)
	c, err := e.Evaluate(ctx, conv, q)
	require.NoError(t, err)

	assert.Equal(t, 8.0, v)
	assert.Equal(t, 2.0, s)
	assert.InDelta(t, s/v, c, 1e-12)
}

func TestEvaluate_ZeroDenominator(t *testing.T) {
	ctx := context.Background()
	src := &memEvents{events: []*store.Event{ev("signup", at(1, 0), 1)}}
	e := metric.NewEvaluator(src, conversionDefs())

	conv, err := e.Load(ctx, 3)
	require.NoError(t, err)

	v, err := e.Evaluate(ctx, conv, weekQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	points, err := e.EvaluateSeries(ctx, conv, weekQuery(t))
	require.NoError(t, err)
	for _, p := range points {
		assert.Equal(t, 0.0, p.Value)
	}
}

func TestEvaluate_CycleIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	defs := memDefs{
		1: {ID: 1, Kind: store.KindEvent},
		10: {ID: 10, Kind: store.KindCalculated, NumeratorID: ptr(11), DenominatorID: ptr(1)},
		11: {ID: 11, Kind: store.KindCalculated, NumeratorID: ptr(10), DenominatorID: ptr(1)},
	}
	e := metric.NewEvaluator(&memEvents{}, defs)

	m, err := e.Load(ctx, 10)
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, m, weekQuery(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConfiguration), "got %v", err)

	_, err = e.EvaluateSeries(ctx, m, weekQuery(t))
	assert.ErrorIs(t, err, store.ErrConfiguration)
}

func TestEvaluate_SelfReference(t *testing.T) {
	ctx := context.Background()
	defs := memDefs{
		1: {ID: 1, Kind: store.KindEvent},
		5: {ID: 5, Kind: store.KindCalculated, NumeratorID: ptr(5), DenominatorID: ptr(1)},
	}
	e := metric.NewEvaluator(&memEvents{}, defs)
	m, err := e.Load(ctx, 5)
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, m, weekQuery(t))
	assert.ErrorIs(t, err, store.ErrConfiguration)
}

func TestEvaluate_SharedOperandIsNotACycle(t *testing.T) {
	ctx := context.Background()
	defs := memDefs{
		1: {ID: 1, Kind: store.KindEvent, EventTypes: []string{"page_view"}},
		2: {ID: 2, Kind: store.KindCalculated, NumeratorID: ptr(1), DenominatorID: ptr(1)},
	}
	src := &memEvents{events: []*store.Event{ev("page_view", at(0, 1), 1)}}
	e := metric.NewEvaluator(src, defs)
	m, err := e.Load(ctx, 2)
	require.NoError(t, err)

	v, err := e.Evaluate(ctx, m, weekQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestEvaluate_DepthLimit(t *testing.T) {
	ctx := context.Background()
	defs := memDefs{1: {ID: 1, Kind: store.KindEvent}}
	// 100 -> 101 -> 102 -> 103 -> 1
	for id := int64(100); id < 103; id++ {
		defs[id] = &store.MetricDefinition{ID: id, Kind: store.KindCalculated, NumeratorID: ptr(id + 1), DenominatorID: ptr(1)}
	}
	defs[103] = &store.MetricDefinition{ID: 103, Kind: store.KindCalculated, NumeratorID: ptr(1), DenominatorID: ptr(1)}

	e := metric.NewEvaluator(&memEvents{}, defs, metric.WithMaxDepth(2))
	m, err := e.Load(ctx, 100)
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, m, weekQuery(t))
	assert.ErrorIs(t, err, store.ErrConfiguration)

	e = metric.NewEvaluator(&memEvents{}, defs)
	_, err = e.Evaluate(ctx, m, weekQuery(t))
	assert.NoError(t, err)
}

func TestEvaluate_DanglingReference(t *testing.T) {
	ctx := context.Background()
	defs := memDefs{
		1: {ID: 1, Kind: store.KindEvent},
		2: {ID: 2, Kind: store.KindCalculated, NumeratorID: ptr(1), DenominatorID: ptr(99)},
	}
	e := metric.NewEvaluator(&memEvents{}, defs)
	m, err := e.Load(ctx, 2)
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, m, weekQuery(t))
	require.ErrorIs(t, err, store.ErrConfiguration)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}

func TestEvaluate_StorageErrorPropagates(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")
	e := metric.NewEvaluator(&memEvents{err: boom}, conversionDefs())
	m, err := e.Load(ctx, 1)
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, m, weekQuery(t))
	assert.ErrorIs(t, err, boom)
}

func TestEvaluateSeries_DenseDays(t *testing.T) {
	ctx := context.Background()
	src := &memEvents{events: []*store.Event{
		ev("page_view", at(0, 1), 1),
		ev("page_view", at(0, 23), 2),
		ev("page_view", at(4, 12), 3),
		ev("page_view", at(7, 0), 4), // outside the range
	}}
	e := metric.NewEvaluator(src, conversionDefs())
	m, err := e.Load(ctx, 1)
	require.NoError(t, err)

	points, err := e.EvaluateSeries(ctx, m, weekQuery(t))
	require.NoError(t, err)
	require.Len(t, points, 7)

	want := []float64{2, 0, 0, 0, 1, 0, 0}
	for i, p := range points {
		assert.Equal(t, at(i, 0), p.Day, "day %d", i)
		assert.Equal(t, want[i], p.Value, "day %d", i)
	}
}

func TestEvaluateSeries_CalculatedPointwise(t *testing.T) {
	ctx := context.Background()
	src := &memEvents{events: []*store.Event{
		ev("page_view", at(0, 1), 1),
		ev("page_view", at(0, 2), 2),
		ev("page_view", at(1, 2), 3),
		ev("signup", at(0, 3), 1),
	}}
	e := metric.NewEvaluator(src, conversionDefs())
	m, err := e.Load(ctx, 3)
	require.NoError(t, err)

	points, err := e.EvaluateSeries(ctx, m, weekQuery(t))
	require.NoError(t, err)
	require.Len(t, points, 7)
	assert.Equal(t, 0.5, points[0].Value)
	assert.Equal(t, 0.0, points[1].Value)
}

func TestEvaluate_UniqueContacts(t *testing.T) {
	ctx := context.Background()
	defs := memDefs{1: {ID: 1, Kind: store.KindEvent, EventTypes: []string{"page_view"}, Aggregation: store.UniqueContacts}}
	src := &memEvents{events: []*store.Event{
		ev("page_view", at(0, 1), 7),
		ev("page_view", at(0, 2), 7),
		ev("page_view", at(1, 2), 7),
		ev("page_view", at(1, 3), 8),
	}}
	e := metric.NewEvaluator(src, defs)
	m, err := e.Load(ctx, 1)
	require.NoError(t, err)

	v, err := e.Evaluate(ctx, m, weekQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	points, err := e.EvaluateSeries(ctx, m, weekQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 1.0, points[0].Value)
	assert.Equal(t, 2.0, points[1].Value)
}

func TestEvaluate_RevenueCountsSucceededOnly(t *testing.T) {
	ctx := context.Background()
	defs := memDefs{1: {ID: 1, Kind: store.KindRevenue, Format: store.FormatCurrency}}
	src := &memEvents{events: []*store.Event{
		payment(at(0, 1), 49.5, "succeeded"),
		payment(at(2, 1), "100", "succeeded"),
		payment(at(2, 2), 30.0, "failed"),
		payment(at(3, 2), 12.0, "pending"),
		payment(at(3, 3), 5, "succeeded"),
	}}
	e := metric.NewEvaluator(src, defs)
	m, err := e.Load(ctx, 1)
	require.NoError(t, err)

	v, err := e.Evaluate(ctx, m, weekQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 154.5, v)

	points, err := e.EvaluateSeries(ctx, m, weekQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 49.5, points[0].Value)
	assert.Equal(t, 100.0, points[2].Value)
	assert.Equal(t, 5.0, points[3].Value)
}

func TestEvaluate_SourceScope(t *testing.T) {
	ctx := context.Background()
	src := &memEvents{events: []*store.Event{
		{OrganizationID: 1, Type: "page_view", Source: "google", Timestamp: at(0, 1)},
		{OrganizationID: 1, Type: "page_view", Source: "twitter", Timestamp: at(0, 2)},
	}}
	e := metric.NewEvaluator(src, conversionDefs())
	m, err := e.Load(ctx, 1)
	require.NoError(t, err)

	q := weekQuery(t)
	q.Scope.Source = "google"
	v, err := e.Evaluate(ctx, m, q)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}
