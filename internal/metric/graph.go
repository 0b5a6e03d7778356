package metric

import (
	"errors"
	"fmt"
	"sort"

	"github.com/headline-goat/funnel-engine/internal/store"
)

// Validate checks a set of definitions for references to missing metrics
// and for reference cycles. All problems are reported together.
func Validate(defs []*store.MetricDefinition) error {
	byID := make(map[int64]*store.MetricDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}

	var errs []error
	ids := sortedIDs(byID)
	for _, id := range ids {
		d := byID[id]
		if _, err := FromDefinition(d); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, ref := range refs(d) {
			if _, ok := byID[ref]; !ok {
				errs = append(errs, &store.ConfigError{Subject: "metric", ID: d.ID, Reason: fmt.Sprintf("references missing metric %d", ref)})
			}
		}
	}

	const (
		unvisited = iota
		active
		done
	)
	state := make(map[int64]int, len(byID))
	reported := make(map[int64]bool)

	var visit func(id int64)
	visit = func(id int64) {
		state[id] = active
		for _, ref := range refs(byID[id]) {
			if _, ok := byID[ref]; !ok {
				continue
			}
			switch state[ref] {
			case unvisited:
				visit(ref)
			case active:
				if !reported[ref] {
					reported[ref] = true
					errs = append(errs, &store.ConfigError{Subject: "metric", ID: ref, Reason: "cyclic reference"})
				}
			}
		}
		state[id] = done
	}
	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}

	return errors.Join(errs...)
}

// Dependents returns the ids of the metrics that reference id directly,
// in ascending order.
func Dependents(defs []*store.MetricDefinition, id int64) []int64 {
	var out []int64
	for _, d := range defs {
		for _, ref := range refs(d) {
			if ref == id {
				out = append(out, d.ID)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func refs(d *store.MetricDefinition) []int64 {
	var out []int64
	if d.NumeratorID != nil {
		out = append(out, *d.NumeratorID)
	}
	if d.DenominatorID != nil {
		out = append(out, *d.DenominatorID)
	}
	return out
}

func sortedIDs(m map[int64]*store.MetricDefinition) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
