package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/devicetest/dltcos/internal/config"
	"github.com/devicetest/dltcos/internal/pipeline"
	"github.com/devicetest/dltcos/internal/report"
)

type reportFlags struct {
	configPath string
	rf, ble    string
	cell       string
	format     string
	weekEnd    string
	workers    int
	output     string
}

func newReportCmd() *cobra.Command {
	var f reportFlags

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Process one batch per input and print the weekly report",
		Long: `Joins the RF and BLE exports of each input, classifies every device
and prints per-week failure counts.

Inputs come either from --rf/--ble or from the inputs list of --config.
Flags given on the command line override the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "path to config file")
	fl.StringVar(&f.rf, "rf", "", "RF test export (CSV)")
	fl.StringVar(&f.ble, "ble", "", "BLE calibration export (CSV)")
	fl.StringVar(&f.cell, "cell", "", "cell ID, overriding the one in the RF file")
	fl.StringVarP(&f.format, "format", "f", string(report.FormatTable), fmt.Sprintf("output format %v", report.Formats))
	fl.StringVar(&f.weekEnd, "week-end", "", "last day of the reporting week (default sunday)")
	fl.IntVar(&f.workers, "workers", 0, "goroutines evaluating devices (0 = sequential)")
	fl.StringVarP(&f.output, "output", "o", "", "write the report to this file instead of stdout")
	cmd.MarkFlagsRequiredTogether("rf", "ble")
	return cmd
}

func runReport(cmd *cobra.Command, f reportFlags) error {
	format, err := report.ParseFormat(f.format)
	if err != nil {
		return err
	}

	cfg := config.Defaults()
	if f.configPath != "" {
		if cfg, err = config.Load(f.configPath); err != nil {
			return err
		}
	}

	inputs := cfg.Inputs
	if f.rf != "" {
		inputs = []config.InputConfig{{CellID: f.cell, RFFile: f.rf, BLEFile: f.ble}}
	}
	if len(inputs) == 0 {
		return errors.New("no inputs: pass --rf and --ble, or a --config with inputs")
	}

	opts := engineOptions(cfg.Engine)
	if f.weekEnd != "" {
		if opts.WeekEnd, err = config.ParseWeekday(f.weekEnd); err != nil {
			return fmt.Errorf("--week-end: %w", err)
		}
	}
	if cmd.Flags().Changed("workers") {
		if f.workers < 0 {
			return errors.New("--workers must not be negative")
		}
		opts.Workers = f.workers
	}

	reps := make([]*pipeline.Report, 0, len(inputs))
	for _, in := range inputs {
		o := opts
		o.CellID = in.CellID
		rep, err := pipeline.ProcessFiles(cmd.Context(), in.RFFile, in.BLEFile, o)
		if err != nil {
			return fmt.Errorf("%s: %w", in.Name(), err)
		}
		reps = append(reps, rep)
	}

	if f.output == "" {
		return report.Write(cmd.OutOrStdout(), format, reps...)
	}

	file, err := os.Create(f.output)
	if err != nil {
		return err
	}
	if err := report.Write(file, format, reps...); err != nil {
		file.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	slog.Info("report written", "path", f.output, "format", string(format), "cells", len(reps))
	return nil
}

func engineOptions(e config.EngineConfig) pipeline.Options {
	return pipeline.Options{
		Thresholds: e.Thresholds,
		WeekEnd:    time.Weekday(e.WeekEnd),
		Workers:    e.Workers,
	}
}
