package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Render writes an HTML page charting actuals against every model's forecasts followed by
// one bar chart per accuracy metric.
func Render(w io.Writer, r *Report) error {
	page := components.NewPage()
	page.PageTitle = "Forecast report"
	page.AddCharts(
		LineForecasts(r),
		BarAccuracy(r, "Mean Absolute Error", func(a Accuracy) float64 { return a.MAE }),
		BarAccuracy(r, "Root Mean Squared Error", func(a Accuracy) float64 { return a.RMSE }),
		BarAccuracy(r, "Mean Absolute Percent Error", func(a Accuracy) float64 { return a.MAPE }),
	)
	return page.Render(w)
}

// chartValue maps missing values to null so the series shows a gap.
func chartValue(v float64, ok bool) any {
	if !ok || math.IsNaN(v) {
		return nil
	}
	return v
}

// LineForecasts generates an echart line chart of the observed series with each model's
// forecasts over the same months.
func LineForecasts(r *Report) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(
			opts.Title{
				Title:    "Actual vs Forecast",
				Subtitle: fmt.Sprintf("observed through %s", r.Latest),
			},
		),
	)

	x := make([]string, 0, len(r.Periods))
	actual := make([]opts.LineData, 0, len(r.Periods))
	for _, p := range r.Periods {
		x = append(x, p.String())
		v, ok := r.Actuals[p]
		actual = append(actual, opts.LineData{Value: chartValue(v, ok)})
	}

	line = line.SetXAxis(x).AddSeries("Actual", actual)
	for _, model := range r.Models {
		data := make([]opts.LineData, 0, len(r.Periods))
		for _, p := range r.Periods {
			v, ok := r.Forecasts[model][p]
			data = append(data, opts.LineData{Value: chartValue(v, ok)})
		}
		line = line.AddSeries(model, data)
	}
	return line
}

// BarAccuracy generates an echart bar chart of one metric per trailing window with a series
// per model.
func BarAccuracy(r *Report, title string, metric func(Accuracy) float64) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(
			opts.Title{
				Title: title,
			},
		),
	)

	x := make([]string, 0, len(r.Windows))
	for _, w := range r.Windows {
		x = append(x, fmt.Sprintf("%dm", w))
	}
	bar = bar.SetXAxis(x)
	for _, model := range r.Models {
		data := make([]opts.BarData, 0, len(r.Windows))
		for _, w := range r.Windows {
			acc, ok := r.Lookup(model, w)
			data = append(data, opts.BarData{Value: chartValue(metric(acc), ok && acc.N > 0)})
		}
		bar = bar.AddSeries(model, data)
	}
	return bar
}
