package weekly

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/devicetest/dltcos/internal/classify"
)

// ErrInvalidTimestamp is reported for devices whose creation time is missing
// or could not be parsed; they cannot be placed in a week.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// DefaultWeekEnd matches calendar weeks that run Monday through Sunday.
const DefaultWeekEnd = time.Sunday

// Counts sums every reported flag over a set of devices.
type Counts struct {
	RXSpotSingle  int `json:"rx_spot_single"`
	RXSpotMulti   int `json:"rx_spot_multi"`
	TXModSingle   int `json:"tx_mod_single"`
	TXModMulti    int `json:"tx_mod_multi"`
	TXPowerSingle int `json:"tx_power_single"`
	TXPowerMulti  int `json:"tx_power_multi"`

	W1Leakage           int `json:"w1_leakage"`
	W1Accuracy10nA      int `json:"w1_accuracy_10na"`
	W1Accuracy100nA     int `json:"w1_accuracy_100na"`
	W1LeakAccuracyMulti int `json:"w1_leak_accuracy_multi"`

	VBattCombined int `json:"vbatt_combined"`
	VBattUnloaded int `json:"vbatt_unloaded"`
	VBattDelta    int `json:"vbatt_delta"`

	CrystalFreq int `json:"crystal_freq"`

	// NoSecondaryData is the combined no-BLE count; the two fields after it
	// break it down by cause and always sum to it.
	NoSecondaryData    int `json:"no_ble"`
	NoSecondaryMatch   int `json:"no_ble_match"`
	NoReferenceVoltage int `json:"no_ble_reference_voltage"`
}

// Add counts d. Devices without secondary data only touch the no-BLE fields.
func (c *Counts) Add(d classify.Device) {
	if d.NoSecondaryData {
		c.NoSecondaryData++
		switch d.Missing {
		case classify.MissingNoMatch:
			c.NoSecondaryMatch++
		case classify.MissingReferenceVoltage:
			c.NoReferenceVoltage++
		}
		return
	}

	c.RXSpotSingle += b2i(d.RXSpot.Single)
	c.RXSpotMulti += b2i(d.RXSpot.Multi)
	c.TXModSingle += b2i(d.TXModulation.Single)
	c.TXModMulti += b2i(d.TXModulation.Multi)
	c.TXPowerSingle += b2i(d.TXPower.Single)
	c.TXPowerMulti += b2i(d.TXPower.Multi)

	c.W1Leakage += b2i(d.LeakAccuracy.LeakageOnly)
	c.W1Accuracy10nA += b2i(d.LeakAccuracy.Accuracy10Only)
	c.W1Accuracy100nA += b2i(d.LeakAccuracy.Accuracy100Only)
	c.W1LeakAccuracyMulti += b2i(d.LeakAccuracy.Multi)

	c.VBattCombined += b2i(d.Battery.Combined)
	c.VBattUnloaded += b2i(d.Battery.UnloadedOnly)
	c.VBattDelta += b2i(d.Battery.DeltaOnly)

	c.CrystalFreq += b2i(d.CrystalFreq)
}

// Merge adds o into c.
func (c *Counts) Merge(o Counts) {
	for _, f := range Fields {
		*f.ptr(c) += f.Get(o)
	}
}

// Week is the aggregate of every device created in one calendar week.
type Week struct {
	Start   civil.Date `json:"start"`
	End     civil.Date `json:"end"`
	Devices int        `json:"devices"`
	Counts
}

// Label is the week's representative date: its last day.
func (w Week) Label() civil.Date { return w.End }

// WeekOf returns the first and last day of the week containing t, for weeks
// ending on end. The calendar date is taken in t's own location.
func WeekOf(t time.Time, end time.Weekday) (civil.Date, civil.Date) {
	toEnd := (int(end) - int(t.Weekday()) + 7) % 7
	last := civil.DateOf(t).AddDays(toEnd)
	return last.AddDays(-6), last
}

// Aggregate buckets devices into weeks ending on end and sums each week.
// Weeks are returned in ascending order; weeks without devices are omitted.
// Devices with a zero CreatedAt are reported as ErrInvalidTimestamp
// diagnostics and left out of every week.
func Aggregate(devices []classify.Device, end time.Weekday) ([]Week, []*classify.DeviceError) {
	byStart := make(map[civil.Date]*Week)
	var diags []*classify.DeviceError

	for _, d := range devices {
		if d.CreatedAt.IsZero() {
			derr := &classify.DeviceError{Device: d.Name, Stage: classify.StageBucket, Err: ErrInvalidTimestamp}
			slog.Warn("weekly: device excluded", "device", d.Name, "err", derr.Err)
			diags = append(diags, derr)
			continue
		}
		start, last := WeekOf(d.CreatedAt, end)
		w, ok := byStart[start]
		if !ok {
			w = &Week{Start: start, End: last}
			byStart[start] = w
		}
		w.Devices++
		w.Counts.Add(d)
	}

	weeks := make([]Week, 0, len(byStart))
	for _, w := range byStart {
		weeks = append(weeks, *w)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Start.Before(weeks[j].Start) })
	return weeks, diags
}

// Total sums a set of weeks into one, spanning the first start to the last end.
func Total(weeks []Week) Week {
	var t Week
	for i, w := range weeks {
		if i == 0 {
			t.Start = w.Start
		}
		t.End = w.End
		t.Devices += w.Devices
		t.Counts.Merge(w.Counts)
	}
	return t
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
