package record

import (
	"strconv"
	"time"
)

// Channels lists the three BLE advertising channels every RF check runs on,
// in column order.
var Channels = [3]int{37, 38, 39}

// Value is an optional numeric measurement. Set is false when the source
// cell was empty or the row did not exist.
type Value struct {
	V   float64
	Set bool
}

// Some returns a Value holding v.
func Some(v float64) Value { return Value{V: v, Set: true} }

// String renders the value, or "NaN" when unset.
func (v Value) String() string {
	if !v.Set {
		return "NaN"
	}
	return strconv.FormatFloat(v.V, 'f', -1, 64)
}

// SpotResult is the categorical outcome of one RX spot check.
type SpotResult int

const (
	SpotUnknown SpotResult = iota // column empty or absent
	SpotPass
	SpotFail
)

// spotPassSentinel is the literal the RF tester writes for a passing spot check.
const spotPassSentinel = "PASS"

// ParseSpot maps the raw RX spot column to a SpotResult. Only the exact
// sentinel "PASS" passes; any other non-empty text is a failure.
func ParseSpot(s string) SpotResult {
	switch {
	case s == "":
		return SpotUnknown
	case s == spotPassSentinel:
		return SpotPass
	default:
		return SpotFail
	}
}

func (s SpotResult) String() string {
	switch s {
	case SpotPass:
		return "PASS"
	case SpotFail:
		return "FAIL"
	default:
		return "unknown"
	}
}

// RFMeasurements holds the RF characterization columns for one device.
// Array index i corresponds to Channels[i].
type RFMeasurements struct {
	TXPower      [3]Value
	TXModulation [3]Value
	RXSpot       [3]SpotResult
}

// BLEMeasurements holds the BLE / electrochemical calibration columns.
type BLEMeasurements struct {
	ReferenceVoltage Value
	W1Leakage        Value
	W1Accuracy10nA   Value
	W1Accuracy100nA  Value
	VBattUnloaded    Value
	VBattLoaded      Value
	CrystalFreq      Value
}

// DeviceRecord is one device after the RF and BLE sources have been joined.
type DeviceRecord struct {
	DeviceName string

	// CreatedAt is the RF test execution time. Zero when the source column
	// was missing or unparseable.
	CreatedAt time.Time

	RF RFMeasurements

	// BLE is nil when no BLE row matched DeviceName.
	BLE *BLEMeasurements

	// VBattDelta is VBattUnloaded - VBattLoaded; unset when either side is.
	VBattDelta Value
}

// HasSecondarySource reports whether a BLE row was joined onto this device.
func (r DeviceRecord) HasSecondarySource() bool { return r.BLE != nil }

// deriveDelta computes the unloaded-minus-loaded battery voltage delta.
func deriveDelta(ble *BLEMeasurements) Value {
	if ble == nil || !ble.VBattUnloaded.Set || !ble.VBattLoaded.Set {
		return Value{}
	}
	return Some(ble.VBattUnloaded.V - ble.VBattLoaded.V)
}
