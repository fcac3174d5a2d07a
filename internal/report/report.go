package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/devicetest/dltcos/internal/pipeline"
)

// Format selects a renderer.
type Format string

const (
	FormatTable  Format = "table"
	FormatJSON   Format = "json"
	FormatProm   Format = "prom"
	FormatPareto Format = "pareto"
)

// Formats lists every supported format.
var Formats = []Format{FormatTable, FormatJSON, FormatProm, FormatPareto}

// ParseFormat maps a user-supplied name onto a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("report: unknown format %q", s)
}

// Write renders reps to w in format f.
func Write(w io.Writer, f Format, reps ...*pipeline.Report) error {
	switch f {
	case FormatTable:
		for i, r := range reps {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := WriteTable(w, r); err != nil {
				return err
			}
		}
		return nil
	case FormatJSON:
		return WriteJSON(w, reps...)
	case FormatProm:
		return WriteExposition(w, reps...)
	case FormatPareto:
		for i, r := range reps {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := BuildPareto(r).Render(w, DefaultBarWidth); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("report: unknown format %q", f)
	}
}

// WriteJSON writes a single report as an object and several as an array.
func WriteJSON(w io.Writer, reps ...*pipeline.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(reps) == 1 {
		return enc.Encode(reps[0])
	}
	if reps == nil {
		reps = []*pipeline.Report{}
	}
	return enc.Encode(reps)
}
