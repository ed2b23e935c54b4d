package patient

import (
	"context"
	"errors"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// ErrUnknownMarker is returned for a lab marker that is not tracked.
var ErrUnknownMarker = errors.New("unknown lab marker")

// chartHistory is the number of panels plotted on a trend chart.
const chartHistory = 24

// LabTrend is a marker's history, oldest first.
type LabTrend struct {
	Target LabTarget
	Dates  []string
	Values []float64
}

// LabTrend collects the history of one marker. Panels that did not measure
// it are skipped.
func (s *Service) LabTrend(ctx context.Context, mrn, marker string) (*LabTrend, error) {
	target, ok := LookupLabTarget(marker)
	if !ok {
		return nil, ErrUnknownMarker
	}
	labs, err := s.repo.LabHistory(ctx, mrn, chartHistory)
	if err != nil {
		return nil, err
	}
	trend := &LabTrend{Target: target}
	for i := range labs {
		v := target.Value(&labs[i])
		if v == nil {
			continue
		}
		trend.Dates = append(trend.Dates, labs[i].TestDate.Format("Jan 2, 2006"))
		trend.Values = append(trend.Values, *v)
	}
	return trend, nil
}

// RenderLabChart writes an HTML line chart of a marker with its target
// range drawn as dashed reference lines.
func (s *Service) RenderLabChart(ctx context.Context, mrn, marker string, w io.Writer) error {
	trend, err := s.LabTrend(ctx, mrn, marker)
	if err != nil {
		return err
	}
	return renderTrend(trend, w)
}

func renderTrend(trend *LabTrend, w io.Writer) error {
	t := trend.Target

	yData := make([]opts.LineData, 0, len(trend.Values))
	lo, hi := t.Min, t.Max
	for _, v := range trend.Values {
		yData = append(yData, opts.LineData{Value: v})
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	padding := (hi - lo) * 0.1

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    t.Name,
			Subtitle: "Target " + formatNumber(t.Min) + "-" + formatNumber(t.Max) + " " + t.Unit,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show: opts.Bool(true),
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(false),
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: t.Unit,
			Min:  lo - padding,
			Max:  hi + padding,
		}),
	)

	seriesOpts := []charts.SeriesOpts{
		charts.WithLineChartOpts(opts.LineChart{
			Smooth:     opts.Bool(true),
			ShowSymbol: opts.Bool(true),
		}),
		charts.WithMarkPointNameTypeItemOpts(
			opts.MarkPointNameTypeItem{Name: "Max", Type: "max"},
			opts.MarkPointNameTypeItem{Name: "Min", Type: "min"},
		),
		func(s *charts.SingleSeries) {
			s.MarkLines = &opts.MarkLines{
				Data: []interface{}{
					opts.MarkLineNameYAxisItem{Name: "Target Min", YAxis: t.Min},
					opts.MarkLineNameYAxisItem{Name: "Target Max", YAxis: t.Max},
				},
				MarkLineStyle: opts.MarkLineStyle{
					Symbol: []string{"none", "none"},
					LineStyle: &opts.LineStyle{
						Color: "rgba(128, 128, 128, 0.6)",
						Type:  "dashed",
						Width: 1.5,
					},
				},
			}
		},
	}

	line.SetXAxis(trend.Dates).
		AddSeries(t.Name, yData).
		SetSeriesOptions(seriesOpts...)

	return line.Render(w)
}
