package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/shapemodel/internal/editor"
	"github.com/banshee-data/shapemodel/internal/httputil"
)

// echartsAssetsPrefix serves the echarts bundle from the CDN.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// renderHTML writes a rendered chart or page as HTML.
func renderHTML(w http.ResponseWriter, r interface{ Render(io.Writer) error }) {
	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSpectrumChart renders the explained variance of each mode as bars
// with the cumulative fraction overlaid as a line.
func (s *Server) handleSpectrumChart(w http.ResponseWriter, id string) {
	model, rec, err := s.db.LoadModel(id)
	if err != nil {
		writeError(w, err)
		return
	}
	fraction, cumulative := model.ExplainedVariance()

	modes := make([]string, len(fraction))
	bars := make([]opts.BarData, len(fraction))
	line := make([]opts.LineData, len(cumulative))
	for i := range fraction {
		modes[i] = strconv.Itoa(i + 1)
		bars[i] = opts.BarData{Value: fraction[i]}
		line[i] = opts.LineData{Value: cumulative[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Mode spectrum", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: rec.Name, Subtitle: fmt.Sprintf("points=%d modes=%d", rec.PointCount, rec.ModeCount)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Mode", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Explained variance", Min: 0, Max: 1}),
	)
	bar.SetXAxis(modes).AddSeries("explained", bars)

	cum := charts.NewLine()
	cum.SetXAxis(modes).AddSeries("cumulative", line)
	bar.Overlap(cum)

	renderHTML(w, bar)
}

// handleSessionChart renders the session's coefficients and an x/y view of
// its points, with landmarks and moved points drawn as separate series.
func (s *Server) handleSessionChart(w http.ResponseWriter, sess *editor.Session) {
	snap := sess.Snapshot()

	modes := make([]string, len(snap.Coefficients))
	coeffs := make([]opts.BarData, len(snap.Coefficients))
	for i, a := range snap.Coefficients {
		modes[i] = strconv.Itoa(i + 1)
		coeffs[i] = opts.BarData{Value: a}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Coefficients", Subtitle: snap.ID}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(modes).AddSeries("alpha", coeffs)

	special := make(map[int]bool, len(snap.Landmarks)+len(snap.Moved))
	landmarks := make([]opts.ScatterData, 0, len(snap.Landmarks))
	for _, l := range snap.Landmarks {
		special[l.Point] = true
		landmarks = append(landmarks, opts.ScatterData{Value: []interface{}{l.Position[0], l.Position[1], l.Point}})
	}
	moved := make([]opts.ScatterData, 0, len(snap.Moved))
	for _, p := range snap.Moved {
		if special[p] {
			continue
		}
		special[p] = true
		moved = append(moved, opts.ScatterData{Value: []interface{}{snap.Shape[3*p], snap.Shape[3*p+1], p}})
	}
	points := make([]opts.ScatterData, 0, len(snap.Shape)/3)
	for p := 0; p < len(snap.Shape)/3; p++ {
		if special[p] {
			continue
		}
		points = append(points, opts.ScatterData{Value: []interface{}{snap.Shape[3*p], snap.Shape[3*p+1], p}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "720px", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Shape (x/y)", Subtitle: fmt.Sprintf("landmarks=%d moved=%d", len(landmarks), len(moved))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("points", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("landmarks", landmarks, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	scatter.AddSeries("moved", moved, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar, scatter)
	renderHTML(w, page)
}
