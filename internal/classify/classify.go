package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devicetest/dltcos/internal/criteria"
	"github.com/devicetest/dltcos/internal/overlap"
	"github.com/devicetest/dltcos/internal/record"
)

// MissingReason records why a device has no usable secondary data.
type MissingReason int

const (
	MissingNone MissingReason = iota
	// MissingNoMatch: no BLE row matched the device name.
	MissingNoMatch
	// MissingReferenceVoltage: a BLE row matched but referenceVoltage is undefined.
	MissingReferenceVoltage
)

func (m MissingReason) String() string {
	switch m {
	case MissingNone:
		return "none"
	case MissingNoMatch:
		return "no_match"
	case MissingReferenceVoltage:
		return "no_reference_voltage"
	default:
		return fmt.Sprintf("missing(%d)", int(m))
	}
}

// Device is a classified device. Exactly one of these holds: NoSecondaryData
// is true and every other flag is zero, or NoSecondaryData is false and the
// flags reflect the evaluated criteria.
type Device struct {
	Name      string
	CreatedAt time.Time

	NoSecondaryData bool
	Missing         MissingReason

	TXPower      overlap.ChannelSummary
	TXModulation overlap.ChannelSummary
	RXSpot       overlap.ChannelSummary
	LeakAccuracy overlap.LeakAccuracySummary
	Battery      overlap.BatterySummary
	CrystalFreq  bool // crystal frequency out of range
}

// DeviceError is a per-device failure. The device is excluded from
// aggregation; the rest of the batch continues.
type DeviceError struct {
	Device string
	Stage  string
	Err    error
}

// Stages reported in DeviceError.
const (
	StageEvaluate = "evaluate"
	StageBucket   = "bucket"
)

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %q: %s: %v", e.Device, e.Stage, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Options configures Run.
type Options struct {
	Thresholds criteria.Thresholds

	// Workers is the number of goroutines evaluating devices. Values below 2
	// evaluate sequentially.
	Workers int
}

// Result is the output of Run. Devices keeps input order, minus the devices
// reported in Diagnostics.
type Result struct {
	Devices     []Device
	Diagnostics []*DeviceError
}

// MissingSecondary reports whether rec lacks usable BLE data, and why.
func MissingSecondary(rec record.DeviceRecord) MissingReason {
	switch {
	case !rec.HasSecondarySource():
		return MissingNoMatch
	case !rec.BLE.ReferenceVoltage.Set:
		return MissingReferenceVoltage
	default:
		return MissingNone
	}
}

// Split partitions records into those with and without secondary data,
// returning the input indexes of each partition.
func Split(recs []record.DeviceRecord) (with, without []int) {
	for i, rec := range recs {
		if MissingSecondary(rec) == MissingNone {
			with = append(with, i)
		} else {
			without = append(without, i)
		}
	}
	return with, without
}

// NoSecondary builds the classified form of a device without secondary data.
func NoSecondary(rec record.DeviceRecord, reason MissingReason) Device {
	return Device{
		Name:            rec.DeviceName,
		CreatedAt:       rec.CreatedAt,
		NoSecondaryData: true,
		Missing:         reason,
	}
}

// Classify evaluates and decodes one device that has secondary data.
// Errors wrapping overlap.ErrUnrecognizedCombination are internal faults;
// anything else is a per-device input problem.
func Classify(rec record.DeviceRecord, th criteria.Thresholds) (Device, error) {
	v, err := criteria.Evaluate(rec, th)
	if err != nil {
		return Device{}, err
	}
	g, err := overlap.Decode(v)
	if err != nil {
		return Device{}, err
	}
	return Device{
		Name:         rec.DeviceName,
		CreatedAt:    rec.CreatedAt,
		TXPower:      g.TXPower,
		TXModulation: g.TXModulation,
		RXSpot:       g.RXSpot,
		LeakAccuracy: g.LeakAccuracy,
		Battery:      g.Battery,
		CrystalFreq:  v.CrystalFreq.Failed(),
	}, nil
}

// Run classifies a batch. Devices without secondary data bypass evaluation
// and are reunited with the evaluated devices in input order. Per-device
// input errors land in Result.Diagnostics; a decode inconsistency aborts the
// whole batch.
func Run(ctx context.Context, recs []record.DeviceRecord, opts Options) (*Result, error) {
	with, without := Split(recs)

	devices := make([]Device, len(recs))
	errs := make([]error, len(recs))

	for _, i := range without {
		devices[i] = NoSecondary(recs[i], MissingSecondary(recs[i]))
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for n := w; n < len(with); n += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := with[n]
				d, err := Classify(recs[i], opts.Thresholds)
				if errors.Is(err, overlap.ErrUnrecognizedCombination) {
					return fmt.Errorf("classify: device %q: %w", recs[i].DeviceName, err)
				}
				devices[i], errs[i] = d, err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Devices: make([]Device, 0, len(recs))}
	for i := range recs {
		if errs[i] != nil {
			derr := &DeviceError{Device: recs[i].DeviceName, Stage: StageEvaluate, Err: errs[i]}
			slog.Warn("classify: device excluded", "device", derr.Device, "err", derr.Err)
			res.Diagnostics = append(res.Diagnostics, derr)
			continue
		}
		res.Devices = append(res.Devices, devices[i])
	}

	slog.Debug("classify: batch done",
		"devices", len(recs),
		"no_secondary", len(without),
		"excluded", len(res.Diagnostics),
	)
	return res, nil
}
