package api

import (
	"fmt"
	"sort"

	"github.com/devicetest/dltcos/internal/pipeline"
	"github.com/devicetest/dltcos/internal/weekly"
)

// Hint is one human-readable insight about a cell's latest week.
// Dashboards show Title on a chip and Detail on hover.
type Hint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

// Share of a week's devices at which a headline failure mode becomes a
// warning or critical hint, in percent.
const (
	warnPct     = 1.0
	criticalPct = 5.0

	noDataWarnPct     = 5.0
	noDataCriticalPct = 20.0
)

// headline are the failure modes of the Pareto view.
var headline = []struct {
	key   string
	title string
}{
	{"w1_leakage", "W1 leakage"},
	{"rx_spot_multi", "RX spot, multi-channel"},
	{"vbatt_combined", "Battery unloaded + delta"},
	{"tx_power_multi", "TX power, multi-channel"},
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeHints derives hints from a report. Hints are ordered critical
// first, then warnings, then info.
func computeHints(rep *pipeline.Report) []Hint {
	latest, ok := rep.Latest()
	if !ok {
		return []Hint{{
			Key:    "no_data",
			Level:  "info",
			Title:  "No weeks yet",
			Detail: "The last batch for this cell produced no datable devices, so there is nothing to aggregate.",
		}}
	}
	week := latest.Label()

	var hints []Hint

	if n := len(rep.Diagnostics); n > 0 {
		v := float64(n)
		hints = append(hints, Hint{
			Key:   "excluded_devices",
			Level: "warning",
			Title: fmt.Sprintf("%d devices excluded", n),
			Detail: fmt.Sprintf(
				"%d of %d devices in the batch could not be classified and are missing from every week. "+
					"See the device list for the field or timestamp each one is missing.",
				n, rep.InputDevices),
			Value: &v,
		})
	}

	if latest.Devices > 0 && latest.NoSecondaryData > 0 {
		pct := pctOf(latest.NoSecondaryData, latest.Devices)
		level := "info"
		switch {
		case pct >= noDataCriticalPct:
			level = "critical"
		case pct >= noDataWarnPct:
			level = "warning"
		}
		hints = append(hints, Hint{
			Key:   "no_ble",
			Level: level,
			Title: fmt.Sprintf("%.1f%% without BLE data", pct),
			Detail: fmt.Sprintf(
				"In the week ending %s, %d devices had no usable BLE calibration data: "+
					"%d had no matching BLE row and %d had no reference voltage. "+
					"These devices were tested on RF only.",
				week, latest.NoSecondaryData, latest.NoSecondaryMatch, latest.NoReferenceVoltage),
			Value: &pct,
		})
	}

	var previous *weekly.Week
	if len(rep.Weeks) > 1 {
		previous = &rep.Weeks[len(rep.Weeks)-2]
	}

	for _, h := range headline {
		f, _ := weekly.Lookup(h.key)
		count := f.Get(latest.Counts)
		if count == 0 || latest.Devices == 0 {
			continue
		}
		pct := pctOf(count, latest.Devices)
		level := "info"
		switch {
		case pct >= criticalPct:
			level = "critical"
		case pct >= warnPct:
			level = "warning"
		}
		detail := fmt.Sprintf("%d of %d devices (%.1f%%) in the week ending %s. %s",
			count, latest.Devices, pct, week, f.Help)
		if previous != nil {
			prev := f.Get(previous.Counts)
			switch {
			case count > prev:
				detail += fmt.Sprintf(" Up from %d the week before.", prev)
			case count < prev:
				detail += fmt.Sprintf(" Down from %d the week before.", prev)
			}
		}
		hints = append(hints, Hint{
			Key:    h.key,
			Level:  level,
			Title:  fmt.Sprintf("%s %.1f%%", h.title, pct),
			Detail: detail,
			Value:  &pct,
		})
	}

	if len(hints) == 0 {
		d := float64(latest.Devices)
		hints = append(hints, Hint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf("None of the %d devices tested in the week ending %s failed a headline criterion.",
				latest.Devices, week),
			Value: &d,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool { return levelRank[hints[i].Level] < levelRank[hints[j].Level] })
	return hints
}

// stateOf is the worst hint level, with "ok" when only ok or info hints remain.
func stateOf(hints []Hint) string {
	if len(hints) == 0 {
		return "ok"
	}
	switch hints[0].Level {
	case "critical", "warning":
		return hints[0].Level
	default:
		return "ok"
	}
}

func pctOf(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
