package api

import (
	"github.com/devicetest/dltcos/internal/alerts"
	"github.com/devicetest/dltcos/internal/pipeline"
	"github.com/devicetest/dltcos/internal/weekly"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State       string `json:"state"`
	CellCount   int    `json:"cell_count"`
	DeviceCount int    `json:"device_count"`
	Excluded    int    `json:"excluded_count"`
	AlertCount  int    `json:"alert_count"`
}

// CellSummary is one cell entry in GET /api/v1/cells.
type CellSummary struct {
	CellID       string       `json:"cell_id"`
	BatchID      string       `json:"batch_id"`
	GeneratedAt  string       `json:"generated_at"` // RFC3339
	UpdatedAt    string       `json:"updated_at"`   // RFC3339
	InputDevices int          `json:"input_devices"`
	Excluded     int          `json:"excluded"`
	WeekCount    int          `json:"week_count"`
	Latest       *weekly.Week `json:"latest_week,omitempty"`
	State        string       `json:"state"`
}

// CellResponse is the payload for GET /api/v1/cells/{cell}.
type CellResponse struct {
	*pipeline.Report
	UpdatedAt string `json:"updated_at"` // RFC3339
	Hints     []Hint `json:"hints"`
}

// DiagnosticsResponse is the payload for GET /api/v1/cells/{cell}/diagnostics.
type DiagnosticsResponse struct {
	CellID  string                `json:"cell_id"`
	Devices []pipeline.Diagnostic `json:"devices"`
	Hints   []Hint                `json:"hints"`
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Firing int             `json:"firing"`
	Alerts []*alerts.Alert `json:"alerts"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
