package report

import (
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/devicetest/dltcos/internal/pipeline"
	"github.com/devicetest/dltcos/internal/weekly"
)

// MetricPrefix namespaces every exported family.
const MetricPrefix = "dltcos_"

// Families converts reps into gauge families. Per-week counts carry cell and
// week labels; batch-level values carry only cell. Families and their
// metrics are sorted so the output is stable.
func Families(reps ...*pipeline.Report) []*dto.MetricFamily {
	byName := make(map[string]*dto.MetricFamily)
	add := func(name, help string, v float64, labels ...string) {
		mf, ok := byName[name]
		if !ok {
			mf = &dto.MetricFamily{
				Name: proto.String(name),
				Help: proto.String(help),
				Type: dto.MetricType_GAUGE.Enum(),
			}
			byName[name] = mf
		}
		m := &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(v)}}
		for i := 0; i+1 < len(labels); i += 2 {
			m.Label = append(m.Label, &dto.LabelPair{
				Name:  proto.String(labels[i]),
				Value: proto.String(labels[i+1]),
			})
		}
		mf.Metric = append(mf.Metric, m)
	}

	for _, r := range reps {
		cell := r.CellID
		add(MetricPrefix+"input_devices", "Devices read from the batch input.",
			float64(r.InputDevices), "cell", cell)
		add(MetricPrefix+"excluded_devices", "Devices excluded from aggregation by a per-device error.",
			float64(len(r.Diagnostics)), "cell", cell)
		add(MetricPrefix+"generated_timestamp_seconds", "Unix time the batch was processed.",
			float64(r.GeneratedAt.Unix()), "cell", cell)

		for _, wk := range r.Weeks {
			week := wk.Label().String()
			add(MetricPrefix+"week_devices", "Devices aggregated into the week.",
				float64(wk.Devices), "cell", cell, "week", week)
			for _, f := range weekly.Fields {
				add(MetricPrefix+"week_"+f.Key, f.Help, float64(f.Get(wk.Counts)), "cell", cell, "week", week)
			}
		}
	}

	out := make([]*dto.MetricFamily, 0, len(byName))
	for _, mf := range byName {
		sort.SliceStable(mf.Metric, func(i, j int) bool {
			return labelKey(mf.Metric[i]) < labelKey(mf.Metric[j])
		})
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// WriteExposition writes reps in the Prometheus text format.
func WriteExposition(w io.Writer, reps ...*pipeline.Report) error {
	enc := expfmt.NewEncoder(w, ExpositionFormat)
	for _, mf := range Families(reps...) {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// ExpositionFormat is the content type written by WriteExposition.
var ExpositionFormat = expfmt.NewFormat(expfmt.TypeTextPlain)

func labelKey(m *dto.Metric) string {
	var k string
	for _, lp := range m.GetLabel() {
		k += lp.GetName() + "=" + lp.GetValue() + ","
	}
	return k
}
