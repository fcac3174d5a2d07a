package criteria

import (
	"errors"
	"fmt"

	"github.com/devicetest/dltcos/internal/record"
)

var (
	// ErrMissingField is returned when a device that has BLE data lacks one of
	// the measurements a criterion needs.
	ErrMissingField = errors.New("missing required field")

	// ErrNoSecondaryData is returned when Evaluate is called for a device
	// without a BLE row. Such devices must be split off beforehand.
	ErrNoSecondaryData = errors.New("device has no secondary data")
)

// Outcome is the verdict of one criterion.
type Outcome uint8

const (
	Pass Outcome = iota
	Fail
)

func outcomeOf(ok bool) Outcome {
	if ok {
		return Pass
	}
	return Fail
}

// Failed reports whether o is Fail.
func (o Outcome) Failed() bool { return o == Fail }

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Criterion names one acceptance check. Channel criteria cover all three
// channels.
type Criterion int

const (
	TXPower Criterion = iota
	TXModulation
	RXSpot
	W1Leakage
	W1Accuracy10nA
	W1Accuracy100nA
	VBattUnloaded
	VBattDelta
	CrystalFreq
)

var criterionNames = [...]string{
	TXPower:         "TX_Power",
	TXModulation:    "TX_MOD",
	RXSpot:          "RX_SPOT",
	W1Leakage:       "W1Leakage",
	W1Accuracy10nA:  "W1Accuracy10nA",
	W1Accuracy100nA: "W1Accuracy100nA",
	VBattUnloaded:   "VBattUnloaded_afe",
	VBattDelta:      "VBattDelta",
	CrystalFreq:     "crystalFreq",
}

func (c Criterion) String() string {
	if c >= 0 && int(c) < len(criterionNames) {
		return criterionNames[c]
	}
	return fmt.Sprintf("criterion(%d)", int(c))
}

// failCodes is the numeric code each criterion reports on failure. Within
// the leak/accuracy and battery groups the codes are chosen so every subset
// of failures has a distinct sum.
var failCodes = [...]int{
	TXPower:         1,
	TXModulation:    1,
	RXSpot:          1,
	W1Leakage:       5,
	W1Accuracy10nA:  1,
	W1Accuracy100nA: 3,
	VBattUnloaded:   1,
	VBattDelta:      2,
	CrystalFreq:     1,
}

// Code returns the numeric verdict code of o for criterion c: 0 on pass,
// the criterion's failure code otherwise.
func Code(c Criterion, o Outcome) int {
	if o == Pass {
		return 0
	}
	return failCodes[c]
}

// Verdicts holds the raw outcome of every criterion for one device. Channel
// arrays follow record.Channels order.
type Verdicts struct {
	TXPower      [3]Outcome
	TXModulation [3]Outcome
	RXSpot       [3]Outcome

	W1Leakage       Outcome
	W1Accuracy10nA  Outcome
	W1Accuracy100nA Outcome

	VBattUnloaded Outcome
	VBattDelta    Outcome

	CrystalFreq Outcome
}

// Evaluate checks rec against th. It never inspects devices without BLE
// data and fails with ErrMissingField naming the first absent measurement.
func Evaluate(rec record.DeviceRecord, th Thresholds) (Verdicts, error) {
	var v Verdicts
	if !rec.HasSecondarySource() {
		return v, ErrNoSecondaryData
	}

	for i, ch := range record.Channels {
		o, err := inRange(rec.RF.TXPower[i], th.TXPower, fmt.Sprintf("ch%d_TX_Power", ch))
		if err != nil {
			return v, err
		}
		v.TXPower[i] = o

		if o, err = inRange(rec.RF.TXModulation[i], th.TXModulation, fmt.Sprintf("ch%d_TX_MOD", ch)); err != nil {
			return v, err
		}
		v.TXModulation[i] = o

		switch rec.RF.RXSpot[i] {
		case record.SpotPass:
			v.RXSpot[i] = Pass
		case record.SpotFail:
			v.RXSpot[i] = Fail
		default:
			return v, fmt.Errorf("%w: ch%d_RX_SPOT", ErrMissingField, ch)
		}
	}

	ble := rec.BLE
	fields := []struct {
		dst  *Outcome
		val  record.Value
		b    Bounds
		name string
	}{
		{&v.W1Leakage, ble.W1Leakage, th.W1Leakage, "W1Leakage"},
		{&v.W1Accuracy10nA, ble.W1Accuracy10nA, th.W1Accuracy10nA, "W1Accuracy10nA"},
		{&v.W1Accuracy100nA, ble.W1Accuracy100nA, th.W1Accuracy100nA, "W1Accuracy100nA"},
		{&v.VBattUnloaded, ble.VBattUnloaded, th.VBattUnloaded, "VBattUnloaded_afe"},
		{&v.VBattDelta, rec.VBattDelta, th.VBattDelta, "VBattDelta"},
		{&v.CrystalFreq, ble.CrystalFreq, th.CrystalFreq, "crystalFreq"},
	}
	for _, f := range fields {
		o, err := inRange(f.val, f.b, f.name)
		if err != nil {
			return v, err
		}
		*f.dst = o
	}

	return v, nil
}

func inRange(val record.Value, b Bounds, name string) (Outcome, error) {
	if !val.Set {
		return Fail, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return outcomeOf(b.Contains(val.V)), nil
}
