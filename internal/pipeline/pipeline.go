// Package pipeline runs one RF/BLE batch through classification and weekly
// aggregation and packages the result as a Report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/devicetest/dltcos/internal/classify"
	"github.com/devicetest/dltcos/internal/criteria"
	"github.com/devicetest/dltcos/internal/record"
	"github.com/devicetest/dltcos/internal/weekly"
)

// Options configures Process.
type Options struct {
	Thresholds criteria.Thresholds
	WeekEnd    time.Weekday
	Workers    int

	// CellID overrides the cell identifier read from the RF file when set.
	CellID string
}

// Diagnostic is a per-device exclusion, flattened for JSON.
type Diagnostic struct {
	Device string `json:"device"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

// Report is the terminal artifact of one batch.
type Report struct {
	BatchID     string    `json:"batch_id"`
	CellID      string    `json:"cell_id"`
	GeneratedAt time.Time `json:"generated_at"`

	// InputDevices is the number of joined records fed into the batch.
	InputDevices int `json:"input_devices"`

	Weeks       []weekly.Week `json:"weeks"`
	Total       weekly.Week   `json:"total"`
	Diagnostics []Diagnostic  `json:"diagnostics"`
}

// Latest returns the most recent week, or false when the report is empty.
func (r *Report) Latest() (weekly.Week, bool) {
	if len(r.Weeks) == 0 {
		return weekly.Week{}, false
	}
	return r.Weeks[len(r.Weeks)-1], true
}

// now is replaced in tests.
var now = time.Now

// ProcessFiles joins the two exports and processes the result.
func ProcessFiles(ctx context.Context, rfPath, blePath string, opts Options) (*Report, error) {
	batch, err := record.JoinFiles(rfPath, blePath)
	if err != nil {
		return nil, err
	}
	return Process(ctx, batch, opts)
}

// Process classifies and aggregates batch. It returns an error only for
// faults that abort the whole batch; per-device problems are listed in
// Report.Diagnostics.
func Process(ctx context.Context, batch *record.Batch, opts Options) (*Report, error) {
	res, err := classify.Run(ctx, batch.Records, classify.Options{
		Thresholds: opts.Thresholds,
		Workers:    opts.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	weeks, bucketDiags := weekly.Aggregate(res.Devices, opts.WeekEnd)

	rep := &Report{
		BatchID:      uuid.NewString(),
		CellID:       batch.CellID,
		GeneratedAt:  now().UTC(),
		InputDevices: len(batch.Records),
		Weeks:        weeks,
		Total:        weekly.Total(weeks),
		Diagnostics:  make([]Diagnostic, 0, len(res.Diagnostics)+len(bucketDiags)),
	}
	if opts.CellID != "" {
		rep.CellID = opts.CellID
	}
	for _, d := range append(res.Diagnostics, bucketDiags...) {
		rep.Diagnostics = append(rep.Diagnostics, Diagnostic{Device: d.Device, Stage: d.Stage, Error: d.Err.Error()})
	}

	if counted := rep.Total.Devices + len(rep.Diagnostics); counted != rep.InputDevices {
		return nil, fmt.Errorf("pipeline: accounted for %d of %d devices", counted, rep.InputDevices)
	}

	slog.Info("pipeline: batch processed",
		"batch_id", rep.BatchID,
		"cell", rep.CellID,
		"devices", rep.InputDevices,
		"weeks", len(rep.Weeks),
		"excluded", len(rep.Diagnostics),
	)
	return rep, nil
}
