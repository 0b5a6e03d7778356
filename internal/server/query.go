package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/headline-goat/funnel-engine/internal/metric"
)

const dateLayout = "2006-01-02"

// query reads the report parameters shared by the metric and funnel
// endpoints: org, from, to, tz, funnel, step, source and tag. Without
// from and to the range is the last DefaultRangeDays days.
func (s *Server) query(r *http.Request) (metric.Query, error) {
	params := r.URL.Query()

	loc := s.deps.Location
	if tz := params.Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return metric.Query{}, badRequest{fmt.Errorf("invalid tz %q", tz)}
		}
		loc = l
	}

	org, err := intParam(r, "org")
	if err != nil {
		return metric.Query{}, err
	}

	var rng metric.DateRange
	from, to := params.Get("from"), params.Get("to")
	switch {
	case from == "" && to == "":
		rng = metric.LastNDays(s.deps.Now(), DefaultRangeDays, loc)
	case from == "" || to == "":
		return metric.Query{}, badRequest{fmt.Errorf("from and to must be given together")}
	default:
		rng, err = metric.ParseDateRange(from, to, loc)
		if err != nil {
			return metric.Query{}, badRequest{err}
		}
	}

	q := metric.Query{OrganizationID: org, Range: rng}
	q.Scope.Source = params.Get("source")
	q.Scope.Tag = params.Get("tag")
	if q.Scope.FunnelID, err = optionalID(r, "funnel"); err != nil {
		return metric.Query{}, err
	}
	if q.Scope.FunnelStepID, err = optionalID(r, "step"); err != nil {
		return metric.Query{}, err
	}
	return q, nil
}

// metricQuery loads the metric named in the path and the query to run it
// with. The query defaults to the metric's own organization.
func (s *Server) metricQuery(r *http.Request) (metric.Metric, metric.Query, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, metric.Query{}, err
	}
	m, err := s.deps.Evaluator.Load(r.Context(), id)
	if err != nil {
		return nil, metric.Query{}, err
	}
	q, err := s.query(r)
	if err != nil {
		return nil, metric.Query{}, err
	}
	if q.OrganizationID == 0 {
		q.OrganizationID = m.Meta().OrganizationID
	}
	return m, q, nil
}

func optionalID(r *http.Request, name string) (*int64, error) {
	if r.URL.Query().Get(name) == "" {
		return nil, nil
	}
	v, err := intParam(r, name)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
