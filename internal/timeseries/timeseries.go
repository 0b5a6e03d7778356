// Package timeseries assembles dashboard data: daily metric series and
// funnel step breakdowns.
package timeseries

import (
	"context"
	"fmt"
	"sort"

	"github.com/headline-goat/funnel-engine/internal/metric"
	"github.com/headline-goat/funnel-engine/internal/store"
)

// Events is the event read surface used by funnel breakdowns.
type Events interface {
	FindEvents(ctx context.Context, f store.Filter) ([]*store.Event, error)
}

// Funnels lists the ordered steps of a funnel.
type Funnels interface {
	ListFunnelSteps(ctx context.Context, funnelID int64) ([]store.FunnelStep, error)
}

type Series struct {
	MetricID int64
	Name     string
	Format   store.Format
	Points   []metric.Point
	Total    float64
}

type StepStats struct {
	Step                   store.FunnelStep
	Count                  int
	BySource               map[string]int
	ConversionFromFirst    float64
	ConversionFromPrevious float64
}

type SourceTotal struct {
	Source string
	Count  int
}

type Breakdown struct {
	FunnelID int64
	Range    metric.DateRange
	Steps    []StepStats
	Sources  []SourceTotal // Descending by count
}

type Assembler struct {
	eval    *metric.Evaluator
	events  Events
	funnels Funnels
}

func NewAssembler(eval *metric.Evaluator, events Events, funnels Funnels) *Assembler {
	return &Assembler{eval: eval, events: events, funnels: funnels}
}

// Chart evaluates each metric as a dense daily series. Total is evaluated
// over the whole range rather than summed, since unique contacts and
// ratios do not add up across days.
func (a *Assembler) Chart(ctx context.Context, metrics []metric.Metric, q metric.Query) ([]Series, error) {
	out := make([]Series, 0, len(metrics))
	for _, m := range metrics {
		points, err := a.eval.EvaluateSeries(ctx, m, q)
		if err != nil {
			return nil, fmt.Errorf("series for metric %d: %w", m.Meta().ID, err)
		}
		total, err := a.eval.Evaluate(ctx, m, q)
		if err != nil {
			return nil, fmt.Errorf("total for metric %d: %w", m.Meta().ID, err)
		}
		meta := m.Meta()
		out = append(out, Series{MetricID: meta.ID, Name: meta.Name, Format: meta.Format, Points: points, Total: total})
	}
	return out, nil
}

// FunnelBreakdown counts events per funnel step, split by traffic source.
// Scope.FunnelID and Scope.FunnelStepID on q are ignored.
func (a *Assembler) FunnelBreakdown(ctx context.Context, organizationID, funnelID int64, q metric.Query) (*Breakdown, error) {
	steps, err := a.funnels.ListFunnelSteps(ctx, funnelID)
	if err != nil {
		return nil, fmt.Errorf("list funnel steps: %w", err)
	}

	since, until := q.Range.Bounds()
	events, err := a.events.FindEvents(ctx, store.Filter{
		OrganizationID: organizationID,
		FunnelID:       &funnelID,
		Source:         q.Scope.Source,
		Tag:            q.Scope.Tag,
		Since:          since,
		Until:          until,
	})
	if err != nil {
		return nil, fmt.Errorf("find funnel events: %w", err)
	}

	index := make(map[int64]int, len(steps))
	b := &Breakdown{FunnelID: funnelID, Range: q.Range, Steps: make([]StepStats, len(steps))}
	for i, s := range steps {
		index[s.ID] = i
		b.Steps[i] = StepStats{Step: s, BySource: map[string]int{}}
	}

	sources := map[string]int{}
	for _, ev := range events {
		if ev.FunnelStepID == nil {
			continue
		}
		i, ok := index[*ev.FunnelStepID]
		if !ok {
			continue
		}
		b.Steps[i].Count++
		b.Steps[i].BySource[ev.Source]++
		sources[ev.Source]++
	}

	for i := range b.Steps {
		if i == 0 {
			if b.Steps[0].Count > 0 {
				b.Steps[0].ConversionFromFirst = 1
				b.Steps[0].ConversionFromPrevious = 1
			}
			continue
		}
		b.Steps[i].ConversionFromFirst = rate(b.Steps[i].Count, b.Steps[0].Count)
		b.Steps[i].ConversionFromPrevious = rate(b.Steps[i].Count, b.Steps[i-1].Count)
	}

	for src, n := range sources {
		b.Sources = append(b.Sources, SourceTotal{Source: src, Count: n})
	}
	sort.Slice(b.Sources, func(i, j int) bool {
		if b.Sources[i].Count != b.Sources[j].Count {
			return b.Sources[i].Count > b.Sources[j].Count
		}
		return b.Sources[i].Source < b.Sources[j].Source
	})

	return b, nil
}

func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
