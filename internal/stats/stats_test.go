package stats

import (
	"math"
	"testing"

	"github.com/headline-goat/funnel-engine/internal/store"
)

func TestZScore(t *testing.T) {
	tests := []struct {
		confidence float64
		want       float64
	}{
		{0.90, 1.6449},
		{0.95, 1.9600},
		{0.99, 2.5758},
	}
	for _, tt := range tests {
		got := ZScore(tt.confidence)
		if math.Abs(got-tt.want) > 1e-3 {
			t.Errorf("ZScore(%v) = %f, want %f", tt.confidence, got, tt.want)
		}
	}
}

func TestNormalCDF(t *testing.T) {
	if got := normalCDF(0); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("normalCDF(0) = %f, want 0.5", got)
	}
	if got := normalCDF(1.96); math.Abs(got-0.975) > 1e-3 {
		t.Errorf("normalCDF(1.96) = %f, want 0.975", got)
	}
}

func TestWilsonInterval(t *testing.T) {
	tests := []struct {
		name         string
		successes, n int
		lower, upper float64
	}{
		{"half", 50, 100, 0.404, 0.596},
		{"low", 5, 100, 0.0215, 0.1118},
		{"high", 95, 100, 0.8882, 0.9785},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, upper := WilsonInterval(tt.successes, tt.n, 0.95)
			if math.Abs(lower-tt.lower) > 0.005 {
				t.Errorf("lower = %f, want %f", lower, tt.lower)
			}
			if math.Abs(upper-tt.upper) > 0.005 {
				t.Errorf("upper = %f, want %f", upper, tt.upper)
			}
		})
	}
}

func TestWilsonInterval_Edges(t *testing.T) {
	if lower, upper := WilsonInterval(0, 0, 0.95); lower != 0 || upper != 0 {
		t.Errorf("got (%f, %f), want (0, 0) for zero trials", lower, upper)
	}
	lower, upper := WilsonInterval(0, 100, 0.95)
	if lower > 1e-9 || upper < 0.01 || upper > 0.05 {
		t.Errorf("got (%f, %f) for zero successes", lower, upper)
	}
	lower, upper = WilsonInterval(100, 100, 0.95)
	if lower < 0.95 || upper > 1 || upper < 1-1e-9 {
		t.Errorf("got (%f, %f) for all successes", lower, upper)
	}
}

func TestSignificanceTest(t *testing.T) {
	tests := []struct {
		name                 string
		aConv, aN, bConv, bN int
		min, max             float64
	}{
		{"clear winner", 100, 1000, 50, 1000, 0.95, 1},
		{"equal rates", 50, 1000, 50, 1000, 0.4, 0.6},
		{"small sample", 5, 20, 2, 20, 0, 0.95},
		{"no data", 0, 0, 0, 0, 0.5, 0.5},
		{"one side empty", 10, 100, 0, 0, 0.5, 0.5},
		{"clear loser", 50, 1000, 100, 1000, 0, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SignificanceTest(tt.aConv, tt.aN, tt.bConv, tt.bN)
			if got < tt.min || got > tt.max {
				t.Errorf("got %f, want within [%f, %f]", got, tt.min, tt.max)
			}
		})
	}
}

func experiment(names ...string) *store.Experiment {
	exp := &store.Experiment{Slug: "hero", Status: store.StatusActive}
	for i, n := range names {
		exp.Variants = append(exp.Variants, store.Variant{ID: int64(100 + i), Name: n, Weight: 1})
	}
	return exp
}

func TestAnalyze(t *testing.T) {
	exp := experiment("Ship Faster", "Build Better")
	res := Analyze(exp, []store.VariantStats{
		{VariantID: 100, Assigned: 1000, Converted: 100},
		{VariantID: 101, Assigned: 1000, Converted: 150},
	})

	if len(res.Variants) != 2 {
		t.Fatalf("got %d variants, want 2", len(res.Variants))
	}
	if res.Variants[1].Name != "Build Better" {
		t.Errorf("got name %q, want %q", res.Variants[1].Name, "Build Better")
	}
	if res.Leader != 1 {
		t.Errorf("got leader %d, want 1", res.Leader)
	}
	if !res.Confident {
		t.Errorf("expected a confident result, got %f", res.ConfidenceLevel)
	}
	for i, v := range res.Variants {
		if v.CILower >= v.Rate || v.CIUpper <= v.Rate {
			t.Errorf("variant %d: interval [%f, %f] does not contain rate %f", i, v.CILower, v.CIUpper, v.Rate)
		}
	}
}

func TestAnalyze_ControlLeading(t *testing.T) {
	exp := experiment("A", "B", "C")
	res := Analyze(exp, []store.VariantStats{
		{VariantID: 100, Assigned: 100, Converted: 30},
		{VariantID: 101, Assigned: 100, Converted: 10},
		{VariantID: 102, Assigned: 100, Converted: 25},
	})
	if res.Leader != 0 {
		t.Fatalf("got leader %d, want 0", res.Leader)
	}
	// Compared against C, the strongest challenger.
	want := SignificanceTest(30, 100, 25, 100)
	if res.ConfidenceLevel != want {
		t.Errorf("got confidence %f, want %f", res.ConfidenceLevel, want)
	}
}

func TestAnalyze_NoData(t *testing.T) {
	res := Analyze(experiment("A", "B"), nil)
	for _, v := range res.Variants {
		if v.Assigned != 0 || v.Converted != 0 || v.Rate != 0 {
			t.Errorf("expected zero stats, got %+v", v)
		}
	}
	if res.Confident {
		t.Error("expected no confidence without data")
	}
}
