package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/devicetest/dltcos/internal/criteria"
	"github.com/devicetest/dltcos/internal/overlap"
	"github.com/devicetest/dltcos/internal/record"
)

var day = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func rec(name string) record.DeviceRecord {
	return record.DeviceRecord{
		DeviceName: name,
		CreatedAt:  day,
		RF: record.RFMeasurements{
			TXPower:      [3]record.Value{record.Some(0), record.Some(0), record.Some(0)},
			TXModulation: [3]record.Value{record.Some(0), record.Some(0), record.Some(0)},
			RXSpot:       [3]record.SpotResult{record.SpotPass, record.SpotPass, record.SpotPass},
		},
		BLE: &record.BLEMeasurements{
			ReferenceVoltage: record.Some(850),
			W1Leakage:        record.Some(0),
			W1Accuracy10nA:   record.Some(0),
			W1Accuracy100nA:  record.Some(0),
			VBattUnloaded:    record.Some(3200),
			VBattLoaded:      record.Some(3100),
			CrystalFreq:      record.Some(3276800),
		},
		VBattDelta: record.Some(100),
	}
}

func opts() Options { return Options{Thresholds: criteria.DefaultThresholds()} }

func TestRun_ChannelExamples(t *testing.T) {
	a := rec("A")
	a.RF.TXPower = [3]record.Value{record.Some(10), record.Some(0), record.Some(0)}
	b := rec("B")
	b.RF.TXPower = [3]record.Value{record.Some(10), record.Some(10), record.Some(-5)}

	res, err := Run(context.Background(), []record.DeviceRecord{a, b}, opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Devices) != 2 {
		t.Fatalf("devices: got %d, want 2", len(res.Devices))
	}
	if !res.Devices[0].TXPower.Single || res.Devices[0].TXPower.Multi {
		t.Errorf("A: TXPower = %+v, want single-channel failure", res.Devices[0].TXPower)
	}
	// 10, 10 and -5 all fall outside [-3, 9].
	if res.Devices[1].TXPower.Single || !res.Devices[1].TXPower.Multi {
		t.Errorf("B: TXPower = %+v, want multi-channel failure", res.Devices[1].TXPower)
	}
}

func TestRun_NoSecondaryData(t *testing.T) {
	noMatch := rec("no-match")
	noMatch.BLE = nil
	noMatch.VBattDelta = record.Value{}
	// Out-of-range RF data must not leak into any count.
	noMatch.RF.TXPower[0] = record.Some(50)

	noRef := rec("no-ref")
	noRef.BLE.ReferenceVoltage = record.Value{}
	noRef.BLE.W1Leakage = record.Some(1000)

	res, err := Run(context.Background(), []record.DeviceRecord{noMatch, rec("ok"), noRef}, opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []Device{
		{Name: "no-match", CreatedAt: day, NoSecondaryData: true, Missing: MissingNoMatch},
		{Name: "ok", CreatedAt: day},
		{Name: "no-ref", CreatedAt: day, NoSecondaryData: true, Missing: MissingReferenceVoltage},
	}
	if diff := cmp.Diff(want, res.Devices); diff != "" {
		t.Errorf("Devices mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_MissingFieldIsolated(t *testing.T) {
	bad := rec("bad")
	bad.BLE.CrystalFreq = record.Value{}

	res, err := Run(context.Background(), []record.DeviceRecord{rec("a"), bad, rec("c")}, opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Devices) != 2 {
		t.Errorf("devices: got %d, want 2", len(res.Devices))
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("diagnostics: got %d, want 1", len(res.Diagnostics))
	}
	d := res.Diagnostics[0]
	if d.Device != "bad" || d.Stage != StageEvaluate {
		t.Errorf("diagnostic = %+v", d)
	}
	if !errors.Is(d, criteria.ErrMissingField) {
		t.Errorf("diagnostic err = %v, want ErrMissingField", d.Err)
	}
}

// Exactly one of {criterion verdicts set, NoSecondaryData} holds for every
// device: no-secondary devices carry zero flags.
func TestRun_NoSecondaryExclusive(t *testing.T) {
	var recs []record.DeviceRecord
	for i := 0; i < 20; i++ {
		r := rec(fmt.Sprintf("d%02d", i))
		r.RF.TXPower[i%3] = record.Some(100)
		r.BLE.W1Leakage = record.Some(500)
		if i%4 == 0 {
			r.BLE = nil
		}
		recs = append(recs, r)
	}

	res, err := Run(context.Background(), recs, opts())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, d := range res.Devices {
		if d.NoSecondaryData {
			zero := Device{Name: d.Name, CreatedAt: d.CreatedAt, NoSecondaryData: true, Missing: d.Missing}
			if d != zero {
				t.Errorf("%s: no-secondary device carries verdicts: %+v", d.Name, d)
			}
			continue
		}
		if !d.TXPower.Single || !d.LeakAccuracy.LeakageOnly {
			t.Errorf("%s: expected evaluated verdicts, got %+v", d.Name, d)
		}
	}
}

func TestRun_ParallelMatchesSequential(t *testing.T) {
	var recs []record.DeviceRecord
	for i := 0; i < 101; i++ {
		r := rec(fmt.Sprintf("d%03d", i))
		r.RF.TXModulation[i%3] = record.Some(float64(i * 2000))
		r.BLE.VBattUnloaded = record.Some(float64(3000 + i))
		if i%7 == 0 {
			r.BLE.ReferenceVoltage = record.Value{}
		}
		if i%11 == 0 {
			r.RF.RXSpot[1] = record.SpotUnknown
		}
		recs = append(recs, r)
	}

	seq, err := Run(context.Background(), recs, opts())
	if err != nil {
		t.Fatalf("sequential Run: %v", err)
	}
	o := opts()
	o.Workers = 4
	par, err := Run(context.Background(), recs, o)
	if err != nil {
		t.Fatalf("parallel Run: %v", err)
	}
	if diff := cmp.Diff(seq.Devices, par.Devices); diff != "" {
		t.Errorf("parallel devices differ (-seq +par):\n%s", diff)
	}
	if len(seq.Diagnostics) != len(par.Diagnostics) {
		t.Errorf("diagnostics: seq %d, par %d", len(seq.Diagnostics), len(par.Diagnostics))
	}
	if got := len(par.Devices) + len(par.Diagnostics); got != len(recs) {
		t.Errorf("devices+diagnostics = %d, want %d", got, len(recs))
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, []record.DeviceRecord{rec("a")}, opts()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestClassify_CrystalAndBattery(t *testing.T) {
	r := rec("x")
	r.BLE.CrystalFreq = record.Some(1)
	r.BLE.VBattUnloaded = record.Some(4000)
	r.VBattDelta = record.Some(10)

	d, err := Classify(r, criteria.DefaultThresholds())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !d.CrystalFreq {
		t.Error("CrystalFreq: want failure")
	}
	if d.Battery != (overlap.BatterySummary{Combined: true}) {
		t.Errorf("Battery = %+v, want combined", d.Battery)
	}
}
