// Package metric evaluates metric definitions over event data. A metric is
// one of three kinds: an event aggregation, a revenue sum, or a calculated
// ratio of two other metrics.
package metric

import (
	"fmt"

	"github.com/headline-goat/funnel-engine/internal/store"
)

// Metric is implemented by *EventMetric, *RevenueMetric and
// *CalculatedMetric only.
type Metric interface {
	Meta() Base
	Kind() store.MetricKind
	sealed()
}

type Base struct {
	ID             int64
	OrganizationID int64
	Name           string
	Format         store.Format
}

func (b Base) Meta() Base { return b }

func (Base) sealed() {}

// EventMetric counts events of the given types, or the distinct contacts
// behind them. No types means any event.
type EventMetric struct {
	Base
	Types       []string
	Aggregation store.Aggregation
}

func (*EventMetric) Kind() store.MetricKind { return store.KindEvent }

// RevenueMetric sums the amounts of settled payments.
type RevenueMetric struct {
	Base
}

func (*RevenueMetric) Kind() store.MetricKind { return store.KindRevenue }

// CalculatedMetric divides one metric by another.
type CalculatedMetric struct {
	Base
	NumeratorID   int64
	DenominatorID int64
}

func (*CalculatedMetric) Kind() store.MetricKind { return store.KindCalculated }

// FromDefinition converts a stored definition into its typed form,
// rejecting field combinations that do not belong to the declared kind.
func FromDefinition(def *store.MetricDefinition) (Metric, error) {
	base := Base{ID: def.ID, OrganizationID: def.OrganizationID, Name: def.Name, Format: def.Format}
	if base.Format == "" {
		base.Format = store.FormatNumber
	}
	switch base.Format {
	case store.FormatNumber, store.FormatCurrency, store.FormatPercentage:
	default:
		return nil, invalid(def.ID, fmt.Sprintf("unknown format %q", def.Format))
	}

	hasRefs := def.NumeratorID != nil || def.DenominatorID != nil

	switch def.Kind {
	case store.KindEvent:
		if hasRefs {
			return nil, invalid(def.ID, "event metric cannot reference other metrics")
		}
		agg := def.Aggregation
		if agg == "" {
			agg = store.TotalEvents
		}
		if agg != store.TotalEvents && agg != store.UniqueContacts {
			return nil, invalid(def.ID, fmt.Sprintf("unknown aggregation %q", def.Aggregation))
		}
		return &EventMetric{Base: base, Types: def.EventTypes, Aggregation: agg}, nil

	case store.KindRevenue:
		if hasRefs || len(def.EventTypes) > 0 {
			return nil, invalid(def.ID, "revenue metric takes no event types or references")
		}
		return &RevenueMetric{Base: base}, nil

	case store.KindCalculated:
		if def.NumeratorID == nil || def.DenominatorID == nil {
			return nil, invalid(def.ID, "calculated metric needs a numerator and a denominator")
		}
		if len(def.EventTypes) > 0 {
			return nil, invalid(def.ID, "calculated metric takes no event types")
		}
		return &CalculatedMetric{Base: base, NumeratorID: *def.NumeratorID, DenominatorID: *def.DenominatorID}, nil

	default:
		return nil, invalid(def.ID, fmt.Sprintf("unknown kind %q", def.Kind))
	}
}

func invalid(id int64, reason string) error {
	return &store.ConfigError{Subject: "metric", ID: id, Reason: reason}
}
