package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scopae/internal/eyes"
)

// historyChart renders blink closure and pupil offset over the retained
// history, one series per panel.
func (s *Server) historyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	history := s.model.History()
	snap := s.model.Snapshot()
	names := make([]string, s.model.PanelCount())
	for i := range names {
		names[i] = fmt.Sprintf("panel %d", i)
		if i < len(snap.Panels) && snap.Panels[i].Name != "" {
			names[i] = snap.Panels[i].Name
		}
	}

	x := make([]string, len(history))
	for i, h := range history {
		x[i] = fmt.Sprintf("%.2f", h.Now)
	}

	closure := newHistoryLine("Blink closure", fmt.Sprintf("%d samples", len(history)), x)
	closure.SetGlobalOptions(charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "closure"}))
	offset := newHistoryLine("Pupil offset", "render units from panel centre", x)
	for p, name := range names {
		closure.AddSeries(name, historySeries(history, p, func(s eyes.Sample) []float64 { return s.Closure }))
		offset.AddSeries(name, historySeries(history, p, func(s eyes.Sample) []float64 { return s.Offset }))
	}

	page := components.NewPage()
	page.PageTitle = "Scopae history"
	page.AddCharts(closure, offset)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func newHistoryLine(title, subtitle string, x []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
	)
	line.SetXAxis(x)
	return line
}

func historySeries(history []eyes.Sample, panel int, field func(eyes.Sample) []float64) []opts.LineData {
	data := make([]opts.LineData, len(history))
	for i, h := range history {
		vals := field(h)
		if panel < len(vals) {
			data[i] = opts.LineData{Value: vals[panel]}
		}
	}
	return data
}
