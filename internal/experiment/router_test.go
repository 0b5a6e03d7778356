package experiment_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/funnel-engine/internal/experiment"
	"github.com/headline-goat/funnel-engine/internal/store"
	"github.com/headline-goat/funnel-engine/internal/testutil"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type memCatalog map[string]*store.Experiment

func (m memCatalog) GetExperimentBySlug(_ context.Context, slug string) (*store.Experiment, error) {
	e, ok := m[slug]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

type ledgerKey struct {
	session string
	expID   int64
}

type memLedger struct {
	mu       sync.Mutex
	rows     map[ledgerKey]int64
	readErr  error
	writeErr error
	writes   int
	// preempt simulates a concurrent writer committing this variant
	// just before our insert.
	preempt int64
}

func newLedger() *memLedger {
	return &memLedger{rows: map[ledgerKey]int64{}}
}

func (l *memLedger) GetAssignment(_ context.Context, session string, expID int64) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return 0, false, l.readErr
	}
	v, ok := l.rows[ledgerKey{session, expID}]
	return v, ok, nil
}

func (l *memLedger) CreateAssignmentIfAbsent(_ context.Context, session string, expID, variantID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	if l.writeErr != nil {
		return false, l.writeErr
	}
	k := ledgerKey{session, expID}
	if l.preempt != 0 {
		l.rows[k] = l.preempt
		l.preempt = 0
	}
	if _, ok := l.rows[k]; ok {
		return false, nil
	}
	l.rows[k] = variantID
	return true, nil
}

func headline(status store.ExperimentStatus) *store.Experiment {
	return &store.Experiment{
		ID:     7,
		Slug:   "hero",
		Status: status,
		Variants: []store.Variant{
			{ID: 70, Name: "A", URL: "https://example.com/a", Weight: 70},
			{ID: 30, Name: "B", URL: "https://example.com/b", Weight: 30},
		},
	}
}

func newRouter(exp *store.Experiment, l experiment.Ledger, r experiment.RandomSource) *experiment.Router {
	return experiment.NewRouter(memCatalog{exp.Slug: exp}, l, experiment.WithRandom(r), experiment.WithLogger(testutil.QuietLogger()))
}

func TestPick_Distribution(t *testing.T) {
	variants := headline(store.StatusActive).Variants
	r := rand.New(rand.NewPCG(1, 2))

	const draws = 100_000
	counts := map[int64]int{}
	for i := 0; i < draws; i++ {
		counts[experiment.Pick(variants, r).ID]++
	}

	share := float64(counts[70]) / draws
	assert.InDelta(t, 0.70, share, 0.01, "variant A share")
	assert.Equal(t, draws, counts[70]+counts[30])
}

func TestPick_Boundaries(t *testing.T) {
	variants := headline(store.StatusActive).Variants

	assert.Equal(t, int64(70), experiment.Pick(variants, fixedRand(0)).ID)
	assert.Equal(t, int64(70), experiment.Pick(variants, fixedRand(0.69)).ID)
	assert.Equal(t, int64(30), experiment.Pick(variants, fixedRand(0.71)).ID)
	assert.Equal(t, int64(30), experiment.Pick(variants, fixedRand(0.999999)).ID)
}

func TestPick_ZeroWeights(t *testing.T) {
	zero := []store.Variant{{ID: 1, Weight: 0}, {ID: 2, Weight: 0}, {ID: 3, Weight: 0}}
	assert.Equal(t, int64(3), experiment.Pick(zero, fixedRand(0.1)).ID)

	// A zero-weight variant is never drawn, even on a zero draw.
	mixed := []store.Variant{{ID: 1, Weight: 0}, {ID: 2, Weight: 5}}
	assert.Equal(t, int64(2), experiment.Pick(mixed, fixedRand(0)).ID)
}

func TestResolve_NotFound(t *testing.T) {
	rt := newRouter(headline(store.StatusActive), newLedger(), fixedRand(0))
	_, err := rt.Resolve(context.Background(), "missing", experiment.Identity{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolve_NoVariants(t *testing.T) {
	exp := &store.Experiment{ID: 1, Slug: "empty", Status: store.StatusActive}
	rt := newRouter(exp, newLedger(), fixedRand(0))
	_, err := rt.Resolve(context.Background(), "empty", experiment.Identity{SessionKey: "s"})
	assert.ErrorIs(t, err, store.ErrConfiguration)
}

func TestResolve_PausedServesFirstVariant(t *testing.T) {
	l := newLedger()
	rt := newRouter(headline(store.StatusPaused), l, fixedRand(0.99))

	d, err := rt.Resolve(context.Background(), "hero", experiment.Identity{CookieVariant: "30", SessionKey: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(70), d.Variant.ID)
	assert.Equal(t, experiment.SourceFallback, d.Source)
	assert.Nil(t, d.Cookie)
	assert.Zero(t, l.writes)
}

func TestResolve_CookieHonored(t *testing.T) {
	l := newLedger()
	rt := newRouter(headline(store.StatusActive), l, fixedRand(0))

	d, err := rt.Resolve(context.Background(), "hero", experiment.Identity{CookieVariant: "30", SessionKey: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(30), d.Variant.ID)
	assert.Equal(t, experiment.SourceCookie, d.Source)
	assert.Equal(t, "https://example.com/b", d.URL)
	assert.Zero(t, l.writes)

	require.NotNil(t, d.Cookie)
	assert.Equal(t, "exp_hero", d.Cookie.Name)
	assert.Equal(t, "30", d.Cookie.Value)
	assert.Equal(t, "/", d.Cookie.Path)
	assert.Equal(t, 365*24*time.Hour, d.Cookie.MaxAge)

	hc := d.Cookie.HTTPCookie()
	assert.Equal(t, 365*24*60*60, hc.MaxAge)
}

func TestResolve_RemovedCookieVariantIgnored(t *testing.T) {
	rt := newRouter(headline(store.StatusActive), newLedger(), fixedRand(0))

	d, err := rt.Resolve(context.Background(), "hero", experiment.Identity{CookieVariant: "999"})
	require.NoError(t, err)
	assert.Equal(t, experiment.SourceDraw, d.Source)
	assert.Equal(t, int64(70), d.Variant.ID)
}

func TestResolve_StickyViaLedger(t *testing.T) {
	l := newLedger()
	exp := headline(store.StatusActive)

	first, err := newRouter(exp, l, fixedRand(0.9)).Resolve(context.Background(), "hero", experiment.Identity{SessionKey: "s1"})
	require.NoError(t, err)
	assert.Equal(t, experiment.SourceDraw, first.Source)
	assert.True(t, first.Persisted)
	assert.Equal(t, int64(30), first.Variant.ID)

	// Cookie cleared, and this draw would land on A.
	again, err := newRouter(exp, l, fixedRand(0)).Resolve(context.Background(), "hero", experiment.Identity{SessionKey: "s1"})
	require.NoError(t, err)
	assert.Equal(t, experiment.SourceLedger, again.Source)
	assert.Equal(t, int64(30), again.Variant.ID)
	require.NotNil(t, again.Cookie)
	assert.Equal(t, "30", again.Cookie.Value)
	assert.Equal(t, 1, l.writes)
}

func TestResolve_NoSessionNoPersist(t *testing.T) {
	l := newLedger()
	rt := newRouter(headline(store.StatusActive), l, fixedRand(0.5))

	d, err := rt.Resolve(context.Background(), "hero", experiment.Identity{})
	require.NoError(t, err)
	assert.False(t, d.Persisted)
	assert.NotNil(t, d.Cookie)
	assert.Zero(t, l.writes)
}

func TestResolve_LedgerWriteFailureDegrades(t *testing.T) {
	l := newLedger()
	l.writeErr = errors.New("database is locked")
	rt := newRouter(headline(store.StatusActive), l, fixedRand(0.1))

	d, err := rt.Resolve(context.Background(), "hero", experiment.Identity{SessionKey: "s1"})
	require.NoError(t, err)
	assert.False(t, d.Persisted)
	assert.Equal(t, int64(70), d.Variant.ID)
	assert.NotNil(t, d.Cookie)
}

func TestResolve_LedgerReadFailureStillDraws(t *testing.T) {
	l := newLedger()
	l.readErr = errors.New("timeout")
	rt := newRouter(headline(store.StatusActive), l, fixedRand(0.1))

	d, err := rt.Resolve(context.Background(), "hero", experiment.Identity{SessionKey: "s1"})
	require.NoError(t, err)
	assert.Equal(t, experiment.SourceDraw, d.Source)
}

func TestResolve_LostRaceUsesStoredVariant(t *testing.T) {
	l := newLedger()
	l.preempt = 30
	rt := newRouter(headline(store.StatusActive), l, fixedRand(0))

	d, err := rt.Resolve(context.Background(), "hero", experiment.Identity{SessionKey: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(30), d.Variant.ID)
	assert.Equal(t, experiment.SourceLedger, d.Source)
	assert.True(t, d.Persisted)
}

func TestResolve_ConcurrentSessionAgreesOnSQLite(t *testing.T) {
	ctx := context.Background()
	s := testutil.SetupTestStore(t)

	exp := headline(store.StatusActive)
	exp.OrganizationID = 1
	exp.Variants = []store.Variant{
		{Name: "A", URL: "https://example.com/a", Weight: 1},
		{Name: "B", URL: "https://example.com/b", Weight: 1},
	}
	require.NoError(t, s.CreateExperiment(ctx, exp))

	rt := experiment.NewRouter(s, s, experiment.WithLogger(testutil.QuietLogger()))
	session := uuid.NewString()

	const n = 8
	got := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := rt.Resolve(ctx, "hero", experiment.Identity{SessionKey: session})
			if err == nil {
				got[i] = d.Variant.ID
			}
		}(i)
	}
	wg.Wait()

	stored, found, err := s.GetAssignment(ctx, session, exp.ID)
	require.NoError(t, err)
	require.True(t, found)
	for i, v := range got {
		assert.Equal(t, stored, v, "request %d", i)
	}
}
