package store

import (
	"context"
	"time"
)

// Store is the full storage surface used by the fnl binary. The engine
// packages each depend on the narrow slice of it they need.
type Store interface {
	// Event operations
	RecordEvent(ctx context.Context, e *Event) (created bool, err error)
	SetEventStatus(ctx context.Context, organizationID int64, externalID, status string) error
	TagContact(ctx context.Context, organizationID, contactID int64, tag string) error
	FindEvents(ctx context.Context, f Filter) ([]*Event, error)
	FindLatestEvent(ctx context.Context, f Filter) (*Event, error)
	CountEvents(ctx context.Context, f Filter) (int, error)
	CountDistinctContacts(ctx context.Context, f Filter) (int, error)

	// Metric definitions
	CreateMetric(ctx context.Context, m *MetricDefinition) error
	GetMetric(ctx context.Context, id int64) (*MetricDefinition, error)
	ListMetrics(ctx context.Context, organizationID int64) ([]*MetricDefinition, error)
	CountMetricDependents(ctx context.Context, id int64) (int, error)
	DeleteMetric(ctx context.Context, id int64) error

	// Alerts
	CreateAlert(ctx context.Context, a *Alert) error
	GetAlert(ctx context.Context, id int64) (*Alert, error)
	ListAlerts(ctx context.Context, organizationID int64) ([]*Alert, error)
	UpdateAlertState(ctx context.Context, id int64, st AlertState) error

	// Funnels
	CreateFunnel(ctx context.Context, organizationID int64, name string, steps []string) (*Funnel, error)
	ListFunnelSteps(ctx context.Context, funnelID int64) ([]FunnelStep, error)

	// Experiments
	CreateExperiment(ctx context.Context, e *Experiment) error
	GetExperimentBySlug(ctx context.Context, slug string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	UpdateExperimentStatus(ctx context.Context, slug string, status ExperimentStatus) error

	// Assignment ledger
	GetAssignment(ctx context.Context, sessionKey string, experimentID int64) (variantID int64, found bool, err error)
	CreateAssignmentIfAbsent(ctx context.Context, sessionKey string, experimentID, variantID int64) (created bool, err error)
	VariantConversions(ctx context.Context, experimentID int64, eventType string) ([]VariantStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
