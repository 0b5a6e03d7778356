package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/headline-goat/funnel-engine/internal/metric"
	"github.com/headline-goat/funnel-engine/internal/store"
	"github.com/headline-goat/funnel-engine/internal/timeseries"
)

const dateLayout = "2006-01-02"

func validFormat(format string) error {
	switch format {
	case "table", "csv", "json":
		return nil
	}
	return fmt.Errorf("invalid format %q: must be 'table', 'csv' or 'json'", format)
}

func writeSeries(w io.Writer, format string, series []timeseries.Series) error {
	switch format {
	case "csv":
		return seriesCSV(w, series)
	case "json":
		return seriesJSON(w, series)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range series {
		fmt.Fprintf(tw, "%s\t(metric %d)\n", s.Name, s.MetricID)
		for _, p := range s.Points {
			fmt.Fprintf(tw, "  %s\t%s\n", p.Day.Format(dateLayout), metric.FormatValue(p.Value, s.Format))
		}
		fmt.Fprintf(tw, "  TOTAL\t%s\n", metric.FormatValue(s.Total, s.Format))
	}
	return tw.Flush()
}

func seriesCSV(w io.Writer, series []timeseries.Series) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"metric_id", "metric", "day", "value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, s := range series {
		id := strconv.FormatInt(s.MetricID, 10)
		for _, p := range s.Points {
			row := []string{id, s.Name, p.Day.Format(dateLayout), strconv.FormatFloat(p.Value, 'f', -1, 64)}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonSeries struct {
	MetricID int64       `json:"metric_id"`
	Name     string      `json:"name"`
	Format   string      `json:"format"`
	Points   []jsonPoint `json:"points"`
	Total    float64     `json:"total"`
}

type jsonPoint struct {
	Day   string  `json:"day"`
	Value float64 `json:"value"`
}

func seriesJSON(w io.Writer, series []timeseries.Series) error {
	export := make([]jsonSeries, len(series))
	for i, s := range series {
		export[i] = jsonSeries{
			MetricID: s.MetricID,
			Name:     s.Name,
			Format:   string(s.Format),
			Points:   make([]jsonPoint, len(s.Points)),
			Total:    s.Total,
		}
		for j, p := range s.Points {
			export[i].Points[j] = jsonPoint{Day: p.Day.Format(dateLayout), Value: p.Value}
		}
	}
	return printJSON(w, export)
}

func writeBreakdown(w io.Writer, format string, b *timeseries.Breakdown) error {
	switch format {
	case "json":
		return breakdownJSON(w, b)
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"position", "step", "count", "conversion_from_first", "conversion_from_previous"}); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		for _, st := range b.Steps {
			row := []string{
				strconv.Itoa(st.Step.Position),
				st.Step.Name,
				strconv.Itoa(st.Count),
				strconv.FormatFloat(st.ConversionFromFirst, 'f', 4, 64),
				strconv.FormatFloat(st.ConversionFromPrevious, 'f', 4, 64),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "FUNNEL %d\t%s\n\n", b.FunnelID, b.Range)
	fmt.Fprintln(tw, "#\tSTEP\tCOUNT\tFROM FIRST\tFROM PREVIOUS")
	for _, st := range b.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			st.Step.Position,
			st.Step.Name,
			metric.FormatValue(float64(st.Count), store.FormatNumber),
			metric.FormatValue(st.ConversionFromFirst, store.FormatPercentage),
			metric.FormatValue(st.ConversionFromPrevious, store.FormatPercentage),
		)
	}
	if len(b.Sources) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "SOURCE\tCOUNT")
		for _, src := range b.Sources {
			name := src.Source
			if name == "" {
				name = "(none)"
			}
			fmt.Fprintf(tw, "%s\t%d\n", name, src.Count)
		}
	}
	return tw.Flush()
}

type jsonStep struct {
	Position               int            `json:"position"`
	StepID                 int64          `json:"step_id"`
	Name                   string         `json:"name"`
	Count                  int            `json:"count"`
	BySource               map[string]int `json:"by_source"`
	ConversionFromFirst    float64        `json:"conversion_from_first"`
	ConversionFromPrevious float64        `json:"conversion_from_previous"`
}

type jsonBreakdown struct {
	FunnelID int64          `json:"funnel_id"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	Steps    []jsonStep     `json:"steps"`
	Sources  map[string]int `json:"sources"`
}

func breakdownJSON(w io.Writer, b *timeseries.Breakdown) error {
	export := jsonBreakdown{
		FunnelID: b.FunnelID,
		From:     b.Range.From.Format(dateLayout),
		To:       b.Range.To.Format(dateLayout),
		Steps:    make([]jsonStep, len(b.Steps)),
		Sources:  make(map[string]int, len(b.Sources)),
	}
	for i, st := range b.Steps {
		export.Steps[i] = jsonStep{
			Position:               st.Step.Position,
			StepID:                 st.Step.ID,
			Name:                   st.Step.Name,
			Count:                  st.Count,
			BySource:               st.BySource,
			ConversionFromFirst:    st.ConversionFromFirst,
			ConversionFromPrevious: st.ConversionFromPrevious,
		}
	}
	for _, src := range b.Sources {
		export.Sources[src.Source] = src.Count
	}
	return printJSON(w, export)
}
