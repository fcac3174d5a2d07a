package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Column names in the RF and BLE exports.
const (
	colDeviceName = "deviceName"
	colCreatedAt  = "created_at"

	colReferenceVoltage = "referenceVoltage"
	colW1Leakage        = "W1Leakage"
	colW1Accuracy10nA   = "W1Accuracy10nA"
	colW1Accuracy100nA  = "W1Accuracy100nA"
	colVBattUnloaded    = "VBattUnloaded_afe"
	colVBattLoaded      = "VBattLoaded_afe"
	colCrystalFreq      = "crystalFreq"
)

// The RF export carries the test-cell identifier in the third column of its
// second data row.
const (
	cellIDRow    = 1
	cellIDColumn = 2
)

// timestampLayouts are tried in order when parsing created_at.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"2006-01-02",
}

// Batch is the joined output of one RF/BLE file pair.
type Batch struct {
	// CellID identifies the test cell that produced the RF file.
	CellID string

	// Records has one entry per RF device row, in RF file order.
	Records []DeviceRecord
}

// table is a parsed CSV with a header index.
type table struct {
	header map[string]int
	rows   [][]string
}

func (t *table) get(row []string, col string) string {
	if idx, ok := t.header[col]; ok && idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

// JoinFiles opens the RF and BLE exports at the given paths and joins them.
func JoinFiles(rfPath, blePath string) (*Batch, error) {
	rf, err := os.Open(rfPath)
	if err != nil {
		return nil, fmt.Errorf("record: open rf file: %w", err)
	}
	defer rf.Close()

	ble, err := os.Open(blePath)
	if err != nil {
		return nil, fmt.Errorf("record: open ble file: %w", err)
	}
	defer ble.Close()

	return Join(rf, ble)
}

// Join reads the RF and BLE CSV streams and left-joins BLE onto RF by
// deviceName. Every RF row yields exactly one DeviceRecord; devices without a
// BLE row get a nil BLE field. When the BLE export holds several rows for one
// device, the last one wins.
func Join(rf, ble io.Reader) (*Batch, error) {
	rfTab, err := readTable(rf)
	if err != nil {
		return nil, fmt.Errorf("record: read rf: %w", err)
	}
	if err := rfTab.require(colDeviceName, colCreatedAt); err != nil {
		return nil, fmt.Errorf("record: rf: %w", err)
	}

	bleTab, err := readTable(ble)
	if err != nil {
		return nil, fmt.Errorf("record: read ble: %w", err)
	}
	if err := bleTab.require(colDeviceName); err != nil {
		return nil, fmt.Errorf("record: ble: %w", err)
	}

	byDevice := make(map[string]*BLEMeasurements, len(bleTab.rows))
	for _, row := range bleTab.rows {
		name := bleTab.get(row, colDeviceName)
		if name == "" {
			continue
		}
		if _, dup := byDevice[name]; dup {
			slog.Warn("record: duplicate ble row, keeping last", "device", name)
		}
		byDevice[name] = parseBLE(bleTab, row)
	}

	batch := &Batch{Records: make([]DeviceRecord, 0, len(rfTab.rows))}
	if len(rfTab.rows) > cellIDRow && len(rfTab.rows[cellIDRow]) > cellIDColumn {
		batch.CellID = strings.TrimSpace(rfTab.rows[cellIDRow][cellIDColumn])
	}

	for _, row := range rfTab.rows {
		rec := DeviceRecord{
			DeviceName: rfTab.get(row, colDeviceName),
			CreatedAt:  parseTimestamp(rfTab.get(row, colCreatedAt)),
			RF:         parseRF(rfTab, row),
			BLE:        byDevice[rfTab.get(row, colDeviceName)],
		}
		if rec.CreatedAt.IsZero() {
			slog.Warn("record: unparseable created_at",
				"device", rec.DeviceName, "value", rfTab.get(row, colCreatedAt))
		}
		rec.VBattDelta = deriveDelta(rec.BLE)
		batch.Records = append(batch.Records, rec)
	}

	return batch, nil
}

// readTable reads a whole CSV stream, indexing the header and dropping rows
// whose cells are all empty.
func readTable(r io.Reader) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, fmt.Errorf("header: %w", err)
	}

	t := &table{header: make(map[string]int, len(headers))}
	for i, h := range headers {
		t.header[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if blankRow(row) {
			continue
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *table) require(cols ...string) error {
	for _, c := range cols {
		if _, ok := t.header[c]; !ok {
			return fmt.Errorf("missing required column %q", c)
		}
	}
	return nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseRF(t *table, row []string) RFMeasurements {
	var m RFMeasurements
	for i, ch := range Channels {
		m.TXPower[i] = parseValue(t.get(row, fmt.Sprintf("ch%d_TX_Power", ch)))
		m.TXModulation[i] = parseValue(t.get(row, fmt.Sprintf("ch%d_TX_MOD", ch)))
		m.RXSpot[i] = ParseSpot(t.get(row, fmt.Sprintf("ch%d_RX_SPOT", ch)))
	}
	return m
}

func parseBLE(t *table, row []string) *BLEMeasurements {
	return &BLEMeasurements{
		ReferenceVoltage: parseValue(t.get(row, colReferenceVoltage)),
		W1Leakage:        parseValue(t.get(row, colW1Leakage)),
		W1Accuracy10nA:   parseValue(t.get(row, colW1Accuracy10nA)),
		W1Accuracy100nA:  parseValue(t.get(row, colW1Accuracy100nA)),
		VBattUnloaded:    parseValue(t.get(row, colVBattUnloaded)),
		VBattLoaded:      parseValue(t.get(row, colVBattLoaded)),
		CrystalFreq:      parseValue(t.get(row, colCrystalFreq)),
	}
}

// parseValue returns an unset Value for empty, NaN, or non-numeric cells.
func parseValue(s string) Value {
	if s == "" {
		return Value{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return Value{}
	}
	return Some(v)
}

// parseTimestamp returns the zero time when s matches none of the known layouts.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
