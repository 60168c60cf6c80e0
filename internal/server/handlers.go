package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gkobilansky/abgoat/internal/analysis"
	"github.com/gkobilansky/abgoat/internal/stats"
	"github.com/gkobilansky/abgoat/internal/store"
)

const dateLayout = "2006-01-02"

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes,omitempty"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	response := HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(experiments),
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	}
	if db, ok := s.store.(interface{ DB() *sql.DB }); ok {
		row := db.DB().QueryRowContext(r.Context(), "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		_ = row.Scan(&response.DBSizeBytes)
	}

	writeJSON(w, http.StatusOK, response)
}

// BeaconRequest is one client-side view or conversion.
type BeaconRequest struct {
	Experiment string `json:"t"`
	Variant    int    `json:"v"`
	EventType  string `json:"e"`
	VisitorID  string `json:"vid"`
	Segment    string `json:"seg"`
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	var req BeaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Experiment == "" || req.VisitorID == "" {
		writeErrorMessage(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if req.EventType != store.EventView && req.EventType != store.EventConvert {
		writeErrorMessage(w, http.StatusBadRequest, "invalid event type")
		return
	}

	exp, err := s.store.GetExperiment(r.Context(), req.Experiment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if exp.State != store.StateRunning {
		writeErrorMessage(w, http.StatusConflict, fmt.Sprintf("experiment is %s", exp.State))
		return
	}
	if req.Variant < 0 || req.Variant >= len(exp.Variants) {
		writeErrorMessage(w, http.StatusBadRequest, "invalid variant")
		return
	}

	if err := s.store.RecordEvent(r.Context(), store.Event{
		Experiment: req.Experiment,
		Variant:    req.Variant,
		EventType:  req.EventType,
		VisitorID:  req.VisitorID,
		Segment:    req.Segment,
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordEvent(req.EventType)

	w.WriteHeader(http.StatusNoContent)
}

// ObservationRequest is one continuous metric value. Date defaults to today.
type ObservationRequest struct {
	Experiment string   `json:"t"`
	Variant    int      `json:"v"`
	Date       string   `json:"date"`
	Value      *float64 `json:"value"`
	Covariate  *float64 `json:"covariate"`
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	var req ObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Experiment == "" || req.Value == nil {
		writeErrorMessage(w, http.StatusBadRequest, "missing required fields")
		return
	}

	var date time.Time
	if req.Date != "" {
		var err error
		if date, err = time.Parse(dateLayout, req.Date); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	exp, err := s.store.GetExperiment(r.Context(), req.Experiment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Variant < 0 || req.Variant >= len(exp.Variants) {
		writeErrorMessage(w, http.StatusBadRequest, "invalid variant")
		return
	}

	if err := s.store.RecordObservation(r.Context(), store.Observation{
		Experiment: req.Experiment,
		Variant:    req.Variant,
		Date:       date,
		Value:      *req.Value,
		Covariate:  req.Covariate,
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordEvent("observation")

	w.WriteHeader(http.StatusNoContent)
}

type ExperimentResponse struct {
	Name       string                `json:"name"`
	Variants   []string              `json:"variants"`
	Weights    []float64             `json:"weights,omitempty"`
	Hypothesis string                `json:"hypothesis,omitempty"`
	State      store.ExperimentState `json:"state"`
	Winner     *string               `json:"winner,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

func newExperimentResponse(e *store.Experiment) ExperimentResponse {
	resp := ExperimentResponse{
		Name:       e.Name,
		Variants:   e.Variants,
		Weights:    e.Weights,
		Hypothesis: e.Hypothesis,
		State:      e.State,
		CreatedAt:  e.CreatedAt,
	}
	if e.WinnerVariant != nil && *e.WinnerVariant < len(e.Variants) {
		resp.Winner = &e.Variants[*e.WinnerVariant]
	}
	return resp
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	response := make([]ExperimentResponse, 0, len(experiments))
	for _, e := range experiments {
		response = append(response, newExperimentResponse(e))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var opts []analysis.Option
	if v := r.URL.Query().Get("look"); v != "" {
		look, err := strconv.Atoi(v)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "look must be an integer")
			return
		}
		maxLooks, err := optionalInt(r, "max_looks")
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		opts = append(opts, analysis.WithLook(look, maxLooks))
	}

	rep, err := s.runner.Run(r.Context(), name, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type HistoryEntry struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		var err error
		if since, err = time.Parse(dateLayout, v); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "since must be YYYY-MM-DD")
			return
		}
	}

	analyses, err := s.runner.History(r.Context(), chi.URLParam(r, "name"), since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response := make([]HistoryEntry, 0, len(analyses))
	for _, a := range analyses {
		response = append(response, HistoryEntry{ID: a.ID, Kind: a.Kind, CreatedAt: a.CreatedAt, Payload: a.Payload})
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSequential(w http.ResponseWriter, r *http.Request) {
	look, err := optionalInt(r, "look")
	if err != nil || look == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "look must be a positive integer")
		return
	}
	maxLooks, err := optionalInt(r, "max_looks")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.runner.Sequential(r.Context(), chi.URLParam(r, "name"), look, maxLooks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type CorrectRequest struct {
	PValues []float64 `json:"p_values"`
	Method  string    `json:"method"`
	Alpha   float64   `json:"alpha"`
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req CorrectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	records, err := s.runner.Correct(req.PValues, req.Method, req.Alpha)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req analysis.PlanRequest
	fields := []struct {
		name string
		dst  *float64
	}{
		{"baseline", &req.Baseline},
		{"baseline_std", &req.BaselineStd},
		{"mde", &req.MDE},
		{"alpha", &req.Alpha},
		{"power", &req.Power},
		{"allocation", &req.Allocation},
		{"variance_reduction", &req.VarianceReduction},
	}
	for _, f := range fields {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("%s must be a number", f.name))
			return
		}
		*f.dst = parsed
	}
	if q.Get("baseline") == "" {
		writeErrorMessage(w, http.StatusBadRequest, "baseline parameter required")
		return
	}
	traffic, err := optionalInt(r, "daily_traffic")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	req.DailyTraffic = traffic

	plan, err := s.runner.Plan(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func optionalInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps engine and store errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, stats.ErrInvalidInput), errors.Is(err, stats.ErrUnknownMethod):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrExists):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
