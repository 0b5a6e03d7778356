// Package experiment routes visitors of a split-test link to one of its
// variants and keeps the choice sticky across visits.
package experiment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/headline-goat/funnel-engine/internal/store"
	"github.com/headline-goat/funnel-engine/internal/telemetry"
)

// CookiePrefix is prepended to the experiment slug to name the sticky
// variant cookie.
const CookiePrefix = "exp_"

const DefaultCookieMaxAge = 365 * 24 * time.Hour

// Decision sources.
const (
	SourceFallback = "fallback"
	SourceCookie   = "cookie"
	SourceLedger   = "ledger"
	SourceDraw     = "draw"
)

type Catalog interface {
	GetExperimentBySlug(ctx context.Context, slug string) (*store.Experiment, error)
}

// Ledger is the durable record of session assignments.
type Ledger interface {
	GetAssignment(ctx context.Context, sessionKey string, experimentID int64) (variantID int64, found bool, err error)
	CreateAssignmentIfAbsent(ctx context.Context, sessionKey string, experimentID, variantID int64) (created bool, err error)
}

// RandomSource yields uniform values in [0, 1).
type RandomSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Identity is what the caller knows about the visitor.
type Identity struct {
	CookieVariant string // Value of the exp_<slug> cookie, if any
	SessionKey    string // Stable session id; empty for anonymous visitors
}

// Cookie is an instruction to set the sticky variant cookie.
type Cookie struct {
	Name   string
	Value  string
	MaxAge time.Duration
	Path   string
}

func (c *Cookie) HTTPCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

type Decision struct {
	ExperimentID int64
	Variant      store.Variant
	URL          string
	Source       string
	Cookie       *Cookie // nil when no cookie should be written
	Persisted    bool    // The ledger holds this assignment
}

type Router struct {
	catalog      Catalog
	ledger       Ledger
	rand         RandomSource
	log          logrus.FieldLogger
	cookieMaxAge time.Duration
}

type Option func(*Router)

func WithRandom(r RandomSource) Option {
	return func(rt *Router) { rt.rand = r }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(rt *Router) { rt.log = l }
}

func WithCookieMaxAge(d time.Duration) Option {
	return func(rt *Router) {
		if d > 0 {
			rt.cookieMaxAge = d
		}
	}
}

func NewRouter(catalog Catalog, ledger Ledger, opts ...Option) *Router {
	rt := &Router{
		catalog:      catalog,
		ledger:       ledger,
		rand:         globalRand{},
		log:          logrus.StandardLogger(),
		cookieMaxAge: DefaultCookieMaxAge,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// CookieName returns the sticky cookie name for an experiment.
func CookieName(slug string) string {
	return CookiePrefix + slug
}

// Resolve picks the variant for a visitor. A valid cookie wins, then the
// ledger, then a weighted draw. Paused and completed experiments always
// serve their first variant. Ledger failures degrade to an unpersisted
// decision rather than an error.
func (rt *Router) Resolve(ctx context.Context, slug string, id Identity) (*Decision, error) {
	exp, err := rt.catalog.GetExperimentBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("experiment %q: %w", slug, err)
	}
	if len(exp.Variants) == 0 {
		return nil, &store.ConfigError{Subject: "experiment", ID: exp.ID, Reason: "has no variants"}
	}

	log := rt.log.WithFields(logrus.Fields{"slug": slug, "has_session": id.SessionKey != ""})

	if exp.Status != store.StatusActive {
		d := rt.decide(exp, exp.Variants[0], SourceFallback, false)
		d.Cookie = nil
		return d, nil
	}

	if v, ok := rt.fromCookie(exp, id.CookieVariant); ok {
		return rt.decide(exp, v, SourceCookie, false), nil
	}

	if id.SessionKey != "" {
		variantID, found, err := rt.ledger.GetAssignment(ctx, id.SessionKey, exp.ID)
		switch {
		case err != nil:
			log.WithError(err).Warn("ledger read failed, drawing a variant")
		case found:
			if v, ok := exp.Variant(variantID); ok {
				return rt.decide(exp, v, SourceLedger, true), nil
			}
			log.WithField("variant_id", variantID).Warn("ledger names a removed variant, drawing again")
		}
	}

	v := Pick(exp.Variants, rt.rand)
	if id.SessionKey == "" {
		telemetry.RecordLedgerWrite(telemetry.LedgerSkipped)
		return rt.decide(exp, v, SourceDraw, false), nil
	}

	created, err := rt.ledger.CreateAssignmentIfAbsent(ctx, id.SessionKey, exp.ID, v.ID)
	if err != nil {
		telemetry.RecordLedgerWrite(telemetry.LedgerError)
		log.WithError(err).Warn("ledger write failed, serving unpersisted variant")
		return rt.decide(exp, v, SourceDraw, false), nil
	}
	if created {
		telemetry.RecordLedgerWrite(telemetry.LedgerCreated)
		return rt.decide(exp, v, SourceDraw, true), nil
	}

	// Another request for this session committed first.
	telemetry.RecordLedgerWrite(telemetry.LedgerConflict)
	variantID, found, err := rt.ledger.GetAssignment(ctx, id.SessionKey, exp.ID)
	if err != nil || !found {
		log.WithError(err).Warn("ledger re-read after conflict failed")
		return rt.decide(exp, v, SourceDraw, false), nil
	}
	if stored, ok := exp.Variant(variantID); ok {
		return rt.decide(exp, stored, SourceLedger, true), nil
	}
	return rt.decide(exp, v, SourceDraw, false), nil
}

func (rt *Router) fromCookie(exp *store.Experiment, value string) (store.Variant, bool) {
	if value == "" {
		return store.Variant{}, false
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return store.Variant{}, false
	}
	return exp.Variant(id)
}

func (rt *Router) decide(exp *store.Experiment, v store.Variant, source string, persisted bool) *Decision {
	telemetry.RecordAssignment(source)
	return &Decision{
		ExperimentID: exp.ID,
		Variant:      v,
		URL:          v.URL,
		Source:       source,
		Persisted:    persisted,
		Cookie: &Cookie{
			Name:   CookieName(exp.Slug),
			Value:  strconv.FormatInt(v.ID, 10),
			MaxAge: rt.cookieMaxAge,
			Path:   "/",
		},
	}
}

// Pick draws a variant with probability proportional to its weight.
// Variants with weight <= 0 are never drawn; if no variant qualifies the
// last one is returned.
func Pick(variants []store.Variant, r RandomSource) store.Variant {
	var total float64
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	last := variants[len(variants)-1]
	if total <= 0 {
		return last
	}

	running := r.Float64() * total
	for _, v := range variants {
		if v.Weight <= 0 {
			continue
		}
		running -= v.Weight
		if running <= 0 {
			return v
		}
	}
	return last
}
