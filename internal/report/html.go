package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"chemviz/internal/schema"
)

// WriteHTML renders a page with a bar chart of mean/min/max per parameter and
// a pie chart of the equipment type distribution.
func WriteHTML(w io.Writer, in Input) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s: %s", Title, in.Dataset.Filename)
	page.AddCharts(parameterBar(in), typePie(in))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}

func parameterBar(in Input) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Parameter Summary",
			Subtitle: fmt.Sprintf("%s, %d records", in.Dataset.Filename, in.Statistics.Count),
		}),
		charts.WithLegendOpts(opts.Legend{Top: "bottom"}),
	)

	labels := make([]string, 0, len(schema.NumericFields))
	var mean, lo, hi []opts.BarData
	for _, f := range schema.NumericFields {
		s := in.Statistics.Column(f)
		labels = append(labels, parameterLabels[f])
		mean = append(mean, opts.BarData{Value: s.Mean})
		lo = append(lo, opts.BarData{Value: s.Min})
		hi = append(hi, opts.BarData{Value: s.Max})
	}

	bar.SetXAxis(labels).
		AddSeries("Average", mean).
		AddSeries("Minimum", lo).
		AddSeries("Maximum", hi)
	return bar
}

func typePie(in Input) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Equipment Type Distribution"}),
	)

	shares := TypeShares(in.Statistics.TypeDistribution)
	data := make([]opts.PieData, 0, len(shares))
	for _, ts := range shares {
		data = append(data, opts.PieData{Name: DisplayType(ts.Type), Value: ts.Count})
	}
	pie.AddSeries("Equipment Types", data)
	return pie
}
