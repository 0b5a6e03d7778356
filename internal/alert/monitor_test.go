package alert_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/funnel-engine/internal/alert"
	"github.com/headline-goat/funnel-engine/internal/store"
	"github.com/headline-goat/funnel-engine/internal/testutil"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *store.SQLStore {
	t.Helper()
	return testutil.SetupTestStore(t)
}

func newMonitor(s alert.Store) *alert.Monitor {
	return alert.NewMonitor(s, alert.WithClock(func() time.Time { return now }), alert.WithLogger(testutil.QuietLogger()))
}

func TestCheck_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		eventAge  time.Duration
		wantFired bool
	}{
		{"stale event fires", 25 * time.Hour, true},
		{"recent event does not fire", 23 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := setupTestDB(t)

			a := &store.Alert{OrganizationID: 1, Type: "form_submit", ThresholdHours: 24, IsActive: true}
			require.NoError(t, s.CreateAlert(ctx, a))

			eventAt := now.Add(-tt.eventAge)
			_, err := s.RecordEvent(ctx, &store.Event{OrganizationID: 1, Type: "form_submit", Timestamp: eventAt})
			require.NoError(t, err)

			report, err := newMonitor(s).Check(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Checked)
			assert.Empty(t, report.Failed)

			got, err := s.GetAlert(ctx, a.ID)
			require.NoError(t, err)

			if tt.wantFired {
				assert.Equal(t, []int64{a.ID}, report.Fired)
				require.NotNil(t, got.LastFiredAt)
				assert.True(t, got.LastFiredAt.Equal(now), "got %v, want %v", got.LastFiredAt, now)
				assert.Nil(t, got.LastEventAt)
				return
			}
			assert.Empty(t, report.Fired)
			assert.Nil(t, got.LastFiredAt)
			require.NotNil(t, got.LastEventAt)
			assert.True(t, got.LastEventAt.Equal(eventAt), "got %v, want %v", got.LastEventAt, eventAt)
		})
	}
}

func TestCheck_TypeScope(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	typed := &store.Alert{OrganizationID: 1, Type: "payment", ThresholdHours: 6, IsActive: true}
	anyType := &store.Alert{OrganizationID: 1, Type: store.AnyEvent, ThresholdHours: 6, IsActive: true}
	require.NoError(t, s.CreateAlert(ctx, typed))
	require.NoError(t, s.CreateAlert(ctx, anyType))

	_, err := s.RecordEvent(ctx, &store.Event{OrganizationID: 1, Type: "page_view", Timestamp: now.Add(-time.Hour)})
	require.NoError(t, err)

	report, err := newMonitor(s).Check(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{typed.ID}, report.Fired)
}

func TestCheck_FunnelScope(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	f, err := s.CreateFunnel(ctx, 1, "Checkout", []string{"Cart", "Pay"})
	require.NoError(t, err)

	a := &store.Alert{OrganizationID: 1, FunnelID: &f.ID, FunnelStepID: &f.Steps[1].ID, ThresholdHours: 2, IsActive: true}
	require.NoError(t, s.CreateAlert(ctx, a))

	// Activity on a different step does not keep the alert quiet.
	_, err = s.RecordEvent(ctx, &store.Event{OrganizationID: 1, Type: "funnel_step", FunnelID: &f.ID, FunnelStepID: &f.Steps[0].ID, Timestamp: now.Add(-time.Minute)})
	require.NoError(t, err)

	report, err := newMonitor(s).Check(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, report.Fired)
}

func TestCheck_InactiveSkipped(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	a := &store.Alert{OrganizationID: 1, ThresholdHours: 1, IsActive: false}
	require.NoError(t, s.CreateAlert(ctx, a))

	report, err := newMonitor(s).Check(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	assert.Equal(t, 1, report.Skipped)

	got, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastFiredAt)
}

func TestCheck_RefiresWhileStale(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	a := &store.Alert{OrganizationID: 1, ThresholdHours: 1, IsActive: true}
	require.NoError(t, s.CreateAlert(ctx, a))

	m := newMonitor(s)
	for i := 0; i < 2; i++ {
		report, err := m.Check(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID}, report.Fired, "check %d", i+1)
	}
}

// flakyStore fails or panics for chosen alert ids.
type flakyStore struct {
	mu      sync.Mutex
	alerts  []*store.Alert
	failFor map[int64]bool
	panicOn map[int64]bool
	updated map[int64]store.AlertState
}

func (f *flakyStore) ListAlerts(context.Context, int64) ([]*store.Alert, error) {
	return f.alerts, nil
}

func (f *flakyStore) FindLatestEvent(_ context.Context, flt store.Filter) (*store.Event, error) {
	// Alerts are keyed by type in this fake.
	for _, a := range f.alerts {
		if len(flt.Types) == 1 && flt.Types[0] == a.Type {
			if f.panicOn[a.ID] {
				panic("driver exploded")
			}
			if f.failFor[a.ID] {
				return nil, errors.New("connection reset")
			}
		}
	}
	return nil, nil
}

func (f *flakyStore) UpdateAlertState(_ context.Context, id int64, st store.AlertState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = st
	return nil
}

func TestCheck_PerAlertIsolation(t *testing.T) {
	fs := &flakyStore{
		alerts: []*store.Alert{
			{ID: 1, Type: "a", ThresholdHours: 24, IsActive: true},
			{ID: 2, Type: "b", ThresholdHours: 24, IsActive: true},
			{ID: 3, Type: "c", ThresholdHours: 24, IsActive: true},
			{ID: 4, Type: "d", ThresholdHours: 0, IsActive: true},
		},
		failFor: map[int64]bool{2: true},
		panicOn: map[int64]bool{3: true},
		updated: map[int64]store.AlertState{},
	}

	report, err := newMonitor(fs).Check(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, []int64{1}, report.Fired)
	require.Len(t, report.Failed, 3)
	assert.ErrorIs(t, report.Failed[4], store.ErrConfiguration)
	assert.Contains(t, report.Failed[3].Error(), "panic")

	_, ok := fs.updated[1]
	assert.True(t, ok, "healthy alert was not updated")
	_, ok = fs.updated[2]
	assert.False(t, ok, "failed alert should not be updated")

	for i, r := range report.Results {
		assert.Equal(t, int64(i+1), r.AlertID)
	}
}

type listFails struct{ flakyStore }

func (*listFails) ListAlerts(context.Context, int64) ([]*store.Alert, error) {
	return nil, store.ErrStorage
}

func TestCheck_ListFailure(t *testing.T) {
	_, err := newMonitor(&listFails{}).Check(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrStorage)
}
