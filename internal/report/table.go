package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/devicetest/dltcos/internal/pipeline"
	"github.com/devicetest/dltcos/internal/weekly"
)

// WriteTable writes r as an aligned table: a header line naming the cell,
// one row per week labelled with the week's last day, and a total row.
func WriteTable(w io.Writer, r *pipeline.Report) error {
	if _, err := fmt.Fprintf(w, "cell %s  batch %s  devices %d  excluded %d\n",
		orDash(r.CellID), r.BatchID, r.InputDevices, len(r.Diagnostics)); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	cols := []string{"week", "devices"}
	for _, f := range weekly.Fields {
		cols = append(cols, f.Column)
	}
	fmt.Fprintln(tw, strings.Join(cols, "\t")+"\t")

	for _, wk := range r.Weeks {
		fmt.Fprintln(tw, row(wk.Label().String(), wk))
	}
	if len(r.Weeks) > 0 {
		fmt.Fprintln(tw, row("total", r.Total))
	}
	return tw.Flush()
}

func row(label string, wk weekly.Week) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%d\t", label, wk.Devices)
	for _, f := range weekly.Fields {
		fmt.Fprintf(&b, "%d\t", f.Get(wk.Counts))
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
