package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/trainkit/pkg/metrics"
)

// ROCChart builds an interactive ROC curve with the chance diagonal.
func ROCChart(points []metrics.ROCPoint, auc metrics.Value) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "ROC curve",
			Subtitle: "AUC " + auc.String(),
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    opts.Bool(true),
			Trigger: "item",
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "5px"}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "False positive rate",
			Type: "value",
			Min:  0,
			Max:  1,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "True positive rate",
			Type: "value",
			Min:  0,
			Max:  1,
		}),
	)

	curve := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		curve = append(curve, opts.LineData{
			Name:  fmt.Sprintf("threshold %.4f", p.Threshold),
			Value: []float64{p.FPR, p.TPR},
		})
	}

	line.AddSeries("ROC", curve)
	line.AddSeries("chance", []opts.LineData{
		{Value: []float64{0, 0}},
		{Value: []float64{1, 1}},
	}, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))

	return line
}

// RenderROC writes the ROC chart as a standalone HTML page.
func RenderROC(w io.Writer, points []metrics.ROCPoint, auc metrics.Value) error {
	err := ROCChart(points, auc).Render(w)
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	return nil
}
