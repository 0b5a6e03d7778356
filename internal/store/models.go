package store

import "time"

type MetricKind string

const (
	KindEvent      MetricKind = "event"
	KindRevenue    MetricKind = "revenue"
	KindCalculated MetricKind = "calculated"
)

type Aggregation string

const (
	TotalEvents    Aggregation = "total_events"
	UniqueContacts Aggregation = "unique_contacts"
)

type Format string

const (
	FormatNumber     Format = "number"
	FormatCurrency   Format = "currency"
	FormatPercentage Format = "percentage"
)

type ExperimentStatus string

const (
	StatusActive    ExperimentStatus = "active"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
)

// AnyEvent is the alert type that watches every event category.
const AnyEvent = "any"

// PaymentEvent is the event type carrying revenue; the amount and
// settlement status live in the payload.
const PaymentEvent = "payment"

const PaymentSucceeded = "succeeded"

type Event struct {
	ID             int64
	OrganizationID int64
	ContactID      *int64 // nil until identity resolution links the event
	Type           string
	Source         string
	Timestamp      time.Time
	Confidence     float64
	FunnelID       *int64
	FunnelStepID   *int64
	SessionKey     string
	Payload        map[string]any
	ExternalID     string // Optional, used for idempotent upsert
}

// Filter selects events. Zero-valued fields do not constrain the query;
// an empty Types slice matches any event type.
type Filter struct {
	OrganizationID int64
	Types          []string
	FunnelID       *int64
	FunnelStepID   *int64
	Source         string
	Tag            string
	Since          time.Time // inclusive
	Until          time.Time // exclusive
}

type MetricDefinition struct {
	ID             int64
	OrganizationID int64
	Name           string
	Kind           MetricKind
	EventTypes     []string    // Decoded from JSON, event metrics only
	Aggregation    Aggregation // Event metrics only
	NumeratorID    *int64      // Calculated metrics only
	DenominatorID  *int64      // Calculated metrics only
	Format         Format
	CreatedAt      time.Time
}

type Alert struct {
	ID             int64
	OrganizationID int64
	Type           string
	FunnelID       *int64
	FunnelStepID   *int64
	ThresholdHours int
	IsActive       bool
	LastFiredAt    *time.Time
	LastEventAt    *time.Time
	CreatedAt      time.Time
}

// AlertState holds the monitor-owned fields of an alert. Nil fields are
// left unchanged by UpdateAlertState.
type AlertState struct {
	LastEventAt *time.Time
	LastFiredAt *time.Time
}

type Variant struct {
	ID     int64
	Name   string
	URL    string
	Weight float64
}

type Experiment struct {
	ID             int64
	OrganizationID int64
	Slug           string
	Name           string
	Status         ExperimentStatus
	Variants       []Variant // Definition order
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Variant returns the variant with the given id, if it is still
// configured on the experiment.
func (e *Experiment) Variant(id int64) (Variant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

type Assignment struct {
	SessionKey   string
	ExperimentID int64
	VariantID    int64
	CreatedAt    time.Time
}

type VariantStats struct {
	VariantID int64
	Assigned  int
	Converted int
}

type Funnel struct {
	ID             int64
	OrganizationID int64
	Name           string
	Steps          []FunnelStep
}

type FunnelStep struct {
	ID       int64
	FunnelID int64
	Position int
	Name     string
}
