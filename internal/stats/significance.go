package stats

import (
	"math"

	"github.com/headline-goat/funnel-engine/internal/store"
)

// Confidence level at which a leader is reported as significant.
const Significant = 0.95

type Result struct {
	Variants        []VariantResult // Experiment variant order; index 0 is the control
	Leader          int             // Index into Variants
	ConfidenceLevel float64         // 0..1 that the leader beats its comparison
	Confident       bool
}

type VariantResult struct {
	VariantID int64
	Name      string
	Assigned  int
	Converted int
	Rate      float64
	CILower   float64
	CIUpper   float64
}

// SignificanceTest runs a two-proportion z-test and returns the confidence
// that A converts better than B. Without data on both sides it returns 0.5.
func SignificanceTest(aConv, aTrials, bConv, bTrials int) float64 {
	if aTrials == 0 || bTrials == 0 {
		return 0.5
	}

	pA := float64(aConv) / float64(aTrials)
	pB := float64(bConv) / float64(bTrials)
	pooled := float64(aConv+bConv) / float64(aTrials+bTrials)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aTrials) + 1/float64(bTrials)))

	if se == 0 {
		switch {
		case pA > pB:
			return 1
		case pA < pB:
			return 0
		}
		return 0.5
	}
	return normalCDF((pA - pB) / se)
}

// Analyze scores every variant of exp. Variants missing from counts are
// reported with zero assignments.
func Analyze(exp *store.Experiment, counts []store.VariantStats) *Result {
	byID := make(map[int64]store.VariantStats, len(counts))
	for _, c := range counts {
		byID[c.VariantID] = c
	}

	res := &Result{Variants: make([]VariantResult, len(exp.Variants))}
	best := -1.0
	for i, v := range exp.Variants {
		c := byID[v.ID]
		vr := VariantResult{VariantID: v.ID, Name: v.Name, Assigned: c.Assigned, Converted: c.Converted}
		if c.Assigned > 0 {
			vr.Rate = float64(c.Converted) / float64(c.Assigned)
		}
		vr.CILower, vr.CIUpper = WilsonInterval(c.Converted, c.Assigned, Significant)
		res.Variants[i] = vr

		if vr.Rate > best {
			best = vr.Rate
			res.Leader = i
		}
	}

	if len(res.Variants) < 2 {
		return res
	}

	// A leading challenger is tested against the control; a leading
	// control against its strongest challenger.
	rival := 0
	if res.Leader == 0 {
		rival = 1
		for i := 2; i < len(res.Variants); i++ {
			if res.Variants[i].Rate > res.Variants[rival].Rate {
				rival = i
			}
		}
	}
	lead, other := res.Variants[res.Leader], res.Variants[rival]
	res.ConfidenceLevel = SignificanceTest(lead.Converted, lead.Assigned, other.Converted, other.Assigned)
	res.Confident = res.ConfidenceLevel >= Significant
	return res
}
