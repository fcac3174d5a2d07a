package api

import (
	"encoding/json"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gorilla/mux"

	"github.com/devicetest/dltcos/internal/alerts"
	"github.com/devicetest/dltcos/internal/report"
	"github.com/devicetest/dltcos/internal/store"
	"github.com/devicetest/dltcos/internal/weekly"
)

// AlertSource is the read side of the alert engine.
type AlertSource interface {
	Active() []*alerts.Alert
	FiringCount() int
}

// Handler is the HTTP handler for /api/v1/* and /metrics.
// It reads reports from the store and returns JSON responses.
type Handler struct {
	store  *store.Store
	alerts AlertSource
	router *mux.Router
}

// New creates a Handler wired to the given store and registers all routes.
// al may be nil when alerting is not configured. Routes under /api/ pass
// through auth first.
func New(st *store.Store, al AlertSource, auth func(http.Handler) http.Handler) *Handler {
	h := &Handler{store: st, alerts: al, router: mux.NewRouter()}

	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h.router.HandleFunc("/metrics", h.metrics).Methods(http.MethodGet)

	// Full paths on the root router: inside a PathPrefix subrouter a method
	// mismatch comes back as 404, not 405.
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	for _, rt := range []struct {
		path string
		fn   http.HandlerFunc
	}{
		{"/health", h.health},
		{"/cells", h.listCells},
		{"/cells/{cell}", h.getCell},
		{"/cells/{cell}/weeks", h.weeks},
		{"/cells/{cell}/pareto", h.pareto},
		{"/cells/{cell}/diagnostics", h.diagnostics},
		{"/alerts", h.listAlerts},
	} {
		h.router.Handle(apiPrefix+rt.path, auth(rt.fn)).Methods(http.MethodGet)
	}

	return h
}

const apiPrefix = "/api/v1"

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: cell, device and alert counts plus the
// worst state across cells.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	entries := h.store.List()
	resp := HealthResponse{State: "unknown", CellCount: len(entries)}
	if h.alerts != nil {
		resp.AlertCount = h.alerts.FiringCount()
	}

	for i, e := range entries {
		resp.DeviceCount += e.Report.InputDevices
		resp.Excluded += len(e.Report.Diagnostics)
		state := stateOf(computeHints(e.Report))
		if i == 0 || levelRank[state] < levelRank[resp.State] {
			resp.State = state
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listCells returns GET /api/v1/cells: one summary per live cell.
func (h *Handler) listCells(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, BuildCells(h.store))
}

// BuildCells summarises every live cell in st, ordered by cell ID.
func BuildCells(st *store.Store) []CellSummary {
	entries := st.List()
	out := make([]CellSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, toCellSummary(e))
	}
	return out
}

// getCell returns GET /api/v1/cells/{cell}: the full report with hints.
func (h *Handler) getCell(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, CellResponse{
		Report:    e.Report,
		UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
		Hints:     computeHints(e.Report),
	})
}

// weeks returns GET /api/v1/cells/{cell}/weeks, optionally limited to weeks
// whose label falls within ?from=YYYY-MM-DD and ?to=YYYY-MM-DD.
func (h *Handler) weeks(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	from, err := dateParam(r, "from")
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := dateParam(r, "to")
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}

	out := make([]weekly.Week, 0, len(e.Report.Weeks))
	for _, wk := range e.Report.Weeks {
		label := wk.Label()
		if from.IsValid() && label.Before(from) {
			continue
		}
		if to.IsValid() && label.After(to) {
			continue
		}
		out = append(out, wk)
	}
	jsonResp(w, http.StatusOK, out)
}

// pareto returns GET /api/v1/cells/{cell}/pareto: the headline series per week.
func (h *Handler) pareto(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, report.BuildPareto(e.Report))
}

// diagnostics returns GET /api/v1/cells/{cell}/diagnostics: excluded devices
// and hints.
func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, DiagnosticsResponse{
		CellID:  e.Report.CellID,
		Devices: e.Report.Diagnostics,
		Hints:   computeHints(e.Report),
	})
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	resp := AlertsResponse{Alerts: []*alerts.Alert{}}
	if h.alerts != nil {
		resp.Firing = h.alerts.FiringCount()
		resp.Alerts = h.alerts.Active()
	}
	jsonResp(w, http.StatusOK, resp)
}

// metrics returns GET /metrics: every live report in Prometheus text format.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", string(report.ExpositionFormat))
	if err := report.WriteExposition(w, h.store.Reports()...); err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
	}
}

// --- helpers ----------------------------------------------------------------

// lookup resolves {cell} to a live store entry, writing a 404 otherwise.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*store.Entry, bool) {
	cell := mux.Vars(r)["cell"]
	for _, e := range h.store.List() {
		if e.Report.CellID == cell {
			return e, true
		}
	}
	jsonErr(w, http.StatusNotFound, "cell not found")
	return nil, false
}

func dateParam(r *http.Request, name string) (civil.Date, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return civil.Date{}, nil
	}
	return civil.ParseDate(v)
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toCellSummary(e *store.Entry) CellSummary {
	rep := e.Report
	s := CellSummary{
		CellID:       rep.CellID,
		BatchID:      rep.BatchID,
		GeneratedAt:  rep.GeneratedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    e.UpdatedAt.UTC().Format(time.RFC3339),
		InputDevices: rep.InputDevices,
		Excluded:     len(rep.Diagnostics),
		WeekCount:    len(rep.Weeks),
		State:        stateOf(computeHints(rep)),
	}
	if latest, ok := rep.Latest(); ok {
		s.Latest = &latest
	}
	return s
}
