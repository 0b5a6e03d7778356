package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/headline-goat/funnel-engine/internal/experiment"
	"github.com/headline-goat/funnel-engine/internal/metric"
	"github.com/headline-goat/funnel-engine/internal/store"
)

const sessionMaxAge = 365 * 24 * time.Hour

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.deps.Log.WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleRedirect resolves a split-test link and sends the visitor to the
// chosen variant. Visitors without a session cookie are issued one so the
// assignment can be recorded.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	id := experiment.Identity{}
	if c, err := r.Cookie(experiment.CookieName(slug)); err == nil {
		id.CookieVariant = c.Value
	}
	if c, err := r.Cookie(s.deps.SessionCookie); err == nil && c.Value != "" {
		id.SessionKey = c.Value
	} else {
		id.SessionKey = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     s.deps.SessionCookie,
			Value:    id.SessionKey,
			Path:     "/",
			MaxAge:   int(sessionMaxAge.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	d, err := s.deps.Router.Resolve(r.Context(), slug, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if d.Cookie != nil {
		http.SetCookie(w, d.Cookie.HTTPCookie())
	}

	s.deps.Log.WithFields(logrus.Fields{
		"slug":       slug,
		"variant_id": d.Variant.ID,
		"source":     d.Source,
		"persisted":  d.Persisted,
	}).Debug("experiment resolved")

	http.Redirect(w, r, d.URL, http.StatusFound)
}

type ValueResponse struct {
	MetricID  int64   `json:"metric_id"`
	Name      string  `json:"name"`
	Format    string  `json:"format"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Value     float64 `json:"value"`
	Formatted string  `json:"formatted"`
}

func (s *Server) handleMetricValue(w http.ResponseWriter, r *http.Request) {
	m, q, err := s.metricQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	v, err := s.deps.Evaluator.Evaluate(r.Context(), m, q)
	if err != nil {
		s.writeError(w, err)
		return
	}

	meta := m.Meta()
	writeJSON(w, http.StatusOK, ValueResponse{
		MetricID:  meta.ID,
		Name:      meta.Name,
		Format:    string(meta.Format),
		From:      q.Range.From.Format(dateLayout),
		To:        q.Range.To.Format(dateLayout),
		Value:     v,
		Formatted: metric.FormatValue(v, meta.Format),
	})
}

type PointResponse struct {
	Day   string  `json:"day"`
	Value float64 `json:"value"`
}

type SeriesResponse struct {
	MetricID int64           `json:"metric_id"`
	Name     string          `json:"name"`
	Format   string          `json:"format"`
	Points   []PointResponse `json:"points"`
	Total    float64         `json:"total"`
}

func (s *Server) handleMetricSeries(w http.ResponseWriter, r *http.Request) {
	m, q, err := s.metricQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	series, err := s.deps.Assembler.Chart(r.Context(), []metric.Metric{m}, q)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sr := series[0]
	resp := SeriesResponse{
		MetricID: sr.MetricID,
		Name:     sr.Name,
		Format:   string(sr.Format),
		Points:   make([]PointResponse, len(sr.Points)),
		Total:    sr.Total,
	}
	for i, p := range sr.Points {
		resp.Points[i] = PointResponse{Day: p.Day.Format(dateLayout), Value: p.Value}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetricDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Store.DeleteMetric(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type StepResponse struct {
	StepID                 int64          `json:"step_id"`
	Position               int            `json:"position"`
	Name                   string         `json:"name"`
	Count                  int            `json:"count"`
	BySource               map[string]int `json:"by_source"`
	ConversionFromFirst    float64        `json:"conversion_from_first"`
	ConversionFromPrevious float64        `json:"conversion_from_previous"`
}

type SourceResponse struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

type BreakdownResponse struct {
	FunnelID int64            `json:"funnel_id"`
	From     string           `json:"from"`
	To       string           `json:"to"`
	Steps    []StepResponse   `json:"steps"`
	Sources  []SourceResponse `json:"sources"`
}

func (s *Server) handleFunnelBreakdown(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q, err := s.query(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	b, err := s.deps.Assembler.FunnelBreakdown(r.Context(), q.OrganizationID, id, q)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := BreakdownResponse{
		FunnelID: b.FunnelID,
		From:     b.Range.From.Format(dateLayout),
		To:       b.Range.To.Format(dateLayout),
		Steps:    make([]StepResponse, len(b.Steps)),
		Sources:  make([]SourceResponse, len(b.Sources)),
	}
	for i, st := range b.Steps {
		resp.Steps[i] = StepResponse{
			StepID:                 st.Step.ID,
			Position:               st.Step.Position,
			Name:                   st.Step.Name,
			Count:                  st.Count,
			BySource:               st.BySource,
			ConversionFromFirst:    st.ConversionFromFirst,
			ConversionFromPrevious: st.ConversionFromPrevious,
		}
	}
	for i, src := range b.Sources {
		resp.Sources[i] = SourceResponse{Source: src.Source, Count: src.Count}
	}
	writeJSON(w, http.StatusOK, resp)
}

type AlertCheckResponse struct {
	CheckedAt time.Time         `json:"checked_at"`
	Checked   int               `json:"checked"`
	Skipped   int               `json:"skipped"`
	Fired     []int64           `json:"fired"`
	Failed    map[string]string `json:"failed"`
}

func (s *Server) handleAlertsCheck(w http.ResponseWriter, r *http.Request) {
	org, err := intParam(r, "org")
	if err != nil {
		s.writeError(w, err)
		return
	}

	report, err := s.deps.Monitor.Check(r.Context(), org)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := AlertCheckResponse{
		CheckedAt: report.CheckedAt,
		Checked:   report.Checked,
		Skipped:   report.Skipped,
		Fired:     report.Fired,
		Failed:    make(map[string]string, len(report.Failed)),
	}
	if resp.Fired == nil {
		resp.Fired = []int64{}
	}
	for id, ferr := range report.Failed {
		resp.Failed[strconv.FormatInt(id, 10)] = ferr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// badRequest marks errors caused by malformed request input.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var br badRequest
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &br):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConfiguration):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInUse), errors.Is(err, store.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, store.ErrStorage):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.deps.Log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest{fmt.Errorf("invalid id %q", raw)}
	}
	return id, nil
}

func intParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest{fmt.Errorf("invalid %s %q", name, raw)}
	}
	return v, nil
}
