package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/devicetest/dltcos/internal/alerts"
	"github.com/devicetest/dltcos/internal/config"
	"github.com/devicetest/dltcos/internal/store"
	"github.com/devicetest/dltcos/internal/ws"
)

const rfCSV = `id,deviceName,cell,created_at,ch37_TX_Power,ch38_TX_Power,ch39_TX_Power,ch37_TX_MOD,ch38_TX_MOD,ch39_TX_MOD,ch37_RX_SPOT,ch38_RX_SPOT,ch39_RX_SPOT
1,A,CEL07,2024-03-04 10:00:00,10,0,0,0,0,0,PASS,PASS,PASS
2,B,CEL07,2024-03-12 10:00:00,0,0,0,0,0,0,FAIL,FAIL,PASS
`

const bleCSV = `deviceName,referenceVoltage,W1Leakage,W1Accuracy10nA,W1Accuracy100nA,VBattUnloaded_afe,VBattLoaded_afe,crystalFreq
A,850,0,0,0,3200,3100,3276800
B,850,0,0,0,3200,3100,3276800
`

func writeInputs(t *testing.T) (dir, rf, ble string) {
	t.Helper()
	dir = t.TempDir()
	rf = filepath.Join(dir, "rf.csv")
	ble = filepath.Join(dir, "ble.csv")
	if err := os.WriteFile(rf, []byte(rfCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ble, []byte(bleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, rf, ble
}

func execute(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err = root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReport_JSONFromFlags(t *testing.T) {
	_, rf, ble := writeInputs(t)

	out, err := execute(t, "report", "--rf", rf, "--ble", ble, "--format", "json", "--cell", "line-3")
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	var rep struct {
		CellID       string `json:"cell_id"`
		InputDevices int    `json:"input_devices"`
		Weeks        []struct {
			End         string `json:"end"`
			Devices     int    `json:"devices"`
			RXSpotMulti int    `json:"rx_spot_multi"`
		} `json:"weeks"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if rep.CellID != "line-3" || rep.InputDevices != 2 {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Weeks) != 2 || rep.Weeks[0].End != "2024-03-10" || rep.Weeks[1].RXSpotMulti != 1 {
		t.Errorf("weeks = %+v", rep.Weeks)
	}
}

func TestReport_WeekEndFlag(t *testing.T) {
	_, rf, ble := writeInputs(t)

	// With weeks ending on Wednesday, 2024-03-04 falls in the week ending
	// 2024-03-06 and 2024-03-12 in the week ending 2024-03-13.
	out, err := execute(t, "report", "--rf", rf, "--ble", ble, "--week-end", "wednesday")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	for _, want := range []string{"2024-03-06", "2024-03-13", "CEL07"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestReport_FromConfigToFile(t *testing.T) {
	dir, _, _ := writeInputs(t)
	cfgPath := filepath.Join(dir, "dltcos.yaml")
	cfgYAML := "inputs:\n  - rf_file: rf.csv\n    ble_file: ble.csv\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dir, "report.prom")

	stdout, err := execute(t, "report", "--config", cfgPath, "--format", "prom", "--output", outPath)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if stdout != "" {
		t.Errorf("stdout should be empty when --output is set, got:\n%s", stdout)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `dltcos_input_devices{cell="CEL07"} 2`) {
		t.Errorf("exposition missing input devices:\n%s", data)
	}
}

func TestReport_Errors(t *testing.T) {
	_, rf, ble := writeInputs(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no inputs", []string{"report"}},
		{"rf without ble", []string{"report", "--rf", rf}},
		{"bad format", []string{"report", "--rf", rf, "--ble", ble, "--format", "xml"}},
		{"bad week end", []string{"report", "--rf", rf, "--ble", ble, "--week-end", "someday"}},
		{"negative workers", []string{"report", "--rf", rf, "--ble", ble, "--workers", "-2"}},
		{"missing file", []string{"report", "--rf", rf + ".gone", "--ble", ble}},
		{"bad log level", []string{"--log-level", "loud", "report", "--rf", rf, "--ble", ble}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := execute(t, tc.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInputPathsAndLookup(t *testing.T) {
	inputs := []config.InputConfig{
		{CellID: "a", RFFile: "/data/a/rf.csv", BLEFile: "/data/shared/ble.csv"},
		{CellID: "b", RFFile: "/data/b/rf.csv", BLEFile: "/data/shared/ble.csv"},
	}

	want := []string{"/data/a/rf.csv", "/data/shared/ble.csv", "/data/b/rf.csv"}
	if diff := cmp.Diff(want, inputPaths(inputs)); diff != "" {
		t.Errorf("inputPaths mismatch (-want +got):\n%s", diff)
	}

	if got := inputsFor(inputs, "/data/shared/./ble.csv"); len(got) != 2 {
		t.Errorf("shared BLE file: got %d inputs, want 2", len(got))
	}
	if got := inputsFor(inputs, "/data/b/rf.csv"); len(got) != 1 || got[0].CellID != "b" {
		t.Errorf("rf file b: got %+v", got)
	}
	if got := inputsFor(inputs, "/data/c/rf.csv"); len(got) != 0 {
		t.Errorf("unknown file: got %+v", got)
	}
}

func TestService_ProcessAndReload(t *testing.T) {
	_, rf, ble := writeInputs(t)

	cfg := config.Defaults()
	cfg.Inputs = []config.InputConfig{{CellID: "line-1", RFFile: rf, BLEFile: ble}}
	eng, err := alerts.New(config.AlertsConfig{})
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(time.Hour)
	svc := &service{
		st:      st,
		alerts:  eng,
		hub:     ws.New(st, time.Second),
		restart: make(chan struct{}, 1),
		cfg:     cfg,
	}

	svc.process(context.Background(), cfg.Inputs[0])
	e, ok := st.Get("line-1")
	if !ok {
		t.Fatal("report not stored")
	}
	if e.Report.InputDevices != 2 || len(e.Report.Weeks) != 2 {
		t.Errorf("report = %+v", e.Report)
	}

	// A broken input keeps the previous report.
	svc.process(context.Background(), config.InputConfig{CellID: "line-1", RFFile: rf + ".gone", BLEFile: ble})
	if e2, _ := st.Get("line-1"); e2.Report.BatchID != e.Report.BatchID {
		t.Error("failed run replaced the stored report")
	}

	next := config.Defaults()
	next.Engine.Workers = 4
	next.Server.Alerts.Rules = []config.AlertRule{{Name: "rx", Condition: "rx_spot_multi > 0"}}
	svc.reload(next)
	svc.reload(next) // a pending restart is not duplicated

	if len(svc.restart) != 1 {
		t.Errorf("restart queue = %d, want 1", len(svc.restart))
	}
	svc.process(context.Background(), cfg.Inputs[0])
	if n := eng.FiringCount(); n != 1 {
		t.Errorf("firing alerts after reload = %d, want 1", n)
	}
}
