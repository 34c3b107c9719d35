package export

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"senhts/internal/tasks"
)

// PixelSeries returns the interval labels and values of base band at pixel
// (col, row) across the stack, in interval order.
func PixelSeries(s tasks.OutputStack, base string, col, row int) ([]string, []float64, error) {
	idx, ok := s.Grid.Index(col, row)
	if !ok {
		return nil, nil, fmt.Errorf("pixel (%d,%d) outside %dx%d grid", col, row, s.Grid.Width, s.Grid.Height)
	}
	labels := make([]string, 0, len(s.Intervals))
	values := make([]float64, 0, len(s.Intervals))
	for i, ti := range s.Intervals {
		b, ok := s.Band(tasks.BandName(base, i))
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", tasks.ErrUnknownBand, tasks.BandName(base, i))
		}
		v, _ := b.At(idx)
		labels = append(labels, ti.Label())
		values = append(values, v)
	}
	return labels, values, nil
}

// RenderChart writes an HTML line chart of base band at pixel (col, row).
func RenderChart(w io.Writer, s tasks.OutputStack, title, base string, col, row int) error {
	labels, values, err := PixelSeries(s, base, col, row)
	if err != nil {
		return err
	}
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		data[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%s at pixel (%d,%d)", base, col, row)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: base}),
	)
	line.SetXAxis(labels).AddSeries(base, data)
	return line.Render(w)
}
