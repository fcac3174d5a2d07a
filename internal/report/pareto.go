package report

import (
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/devicetest/dltcos/internal/pipeline"
	"github.com/devicetest/dltcos/internal/weekly"
)

// DefaultBarWidth is the length in characters of the longest bar.
const DefaultBarWidth = 40

// paretoSeries are the headline failure modes, in legend order.
var paretoSeries = []struct {
	name string
	key  string
}{
	{"W1Leakage", "w1_leakage"},
	{"RX_SPOT", "rx_spot_multi"},
	{"VBattUnloaded_VBattDelta", "vbatt_combined"},
	{"TX_PWR", "tx_power_multi"},
}

// Series is one failure mode's weekly counts.
type Series struct {
	Name   string `json:"name"`
	Values []int  `json:"values"`
}

// Pareto is the grouped per-week view of the headline failure modes.
type Pareto struct {
	Title  string       `json:"title"`
	Labels []civil.Date `json:"labels"`
	Series []Series     `json:"series"`
}

// BuildPareto extracts the headline series from r, one value per week.
func BuildPareto(r *pipeline.Report) Pareto {
	p := Pareto{
		Title:  r.CellID,
		Labels: make([]civil.Date, 0, len(r.Weeks)),
		Series: make([]Series, 0, len(paretoSeries)),
	}
	for _, wk := range r.Weeks {
		p.Labels = append(p.Labels, wk.Label())
	}
	for _, s := range paretoSeries {
		f, ok := weekly.Lookup(s.key)
		if !ok {
			continue
		}
		vals := make([]int, 0, len(r.Weeks))
		for _, wk := range r.Weeks {
			vals = append(vals, f.Get(wk.Counts))
		}
		p.Series = append(p.Series, Series{Name: s.name, Values: vals})
	}
	return p
}

// Max returns the largest value across all series.
func (p Pareto) Max() int {
	m := 0
	for _, s := range p.Series {
		for _, v := range s.Values {
			if v > m {
				m = v
			}
		}
	}
	return m
}

// Render draws p as text: one block per week, one bar per series, bars
// scaled so the largest value spans width characters.
func (p Pareto) Render(w io.Writer, width int) error {
	if width < 1 {
		width = DefaultBarWidth
	}
	nameWidth := 0
	for _, s := range p.Series {
		if len(s.Name) > nameWidth {
			nameWidth = len(s.Name)
		}
	}
	max := p.Max()

	if _, err := fmt.Fprintf(w, "%s\n", orDash(p.Title)); err != nil {
		return err
	}
	for i, label := range p.Labels {
		if _, err := fmt.Fprintf(w, "%s\n", label); err != nil {
			return err
		}
		for _, s := range p.Series {
			v := s.Values[i]
			n := 0
			if max > 0 {
				n = v * width / max
			}
			if v > 0 && n == 0 {
				n = 1
			}
			if _, err := fmt.Fprintf(w, "  %-*s %s %d\n", nameWidth, s.Name, strings.Repeat("#", n), v); err != nil {
				return err
			}
		}
	}
	return nil
}
