// Package report renders static summaries of a shape model: scree and
// cumulative variance plots, an x/y view of a shape, and a JSON summary.
package report

import (
	"encoding/json"
	"fmt"
	"image/color"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/shapemodel/internal/fsutil"
	"github.com/banshee-data/shapemodel/internal/security"
	"github.com/banshee-data/shapemodel/internal/ssm"
)

// Spectrum is the per-mode variance breakdown of a model.
type Spectrum struct {
	Name       string    `json:"name"`
	PointCount int       `json:"point_count"`
	Variance   []float64 `json:"variance"`
	Explained  []float64 `json:"explained_variance"`
	Cumulative []float64 `json:"cumulative_variance"`
}

// SpectrumFromModel computes the Spectrum of m.
func SpectrumFromModel(name string, m *ssm.ShapeModel) Spectrum {
	fraction, cumulative := m.ExplainedVariance()
	return Spectrum{
		Name:       name,
		PointCount: m.PointCount(),
		Variance:   m.Variance(),
		Explained:  fraction,
		Cumulative: cumulative,
	}
}

// ModesFor returns the number of leading modes whose cumulative explained
// variance reaches fraction, or len(cumulative) if none does.
func ModesFor(cumulative []float64, fraction float64) int {
	for i, c := range cumulative {
		if c >= fraction {
			return i + 1
		}
	}
	return len(cumulative)
}

// Summary is written as summary.json next to the plots.
type Summary struct {
	Spectrum
	Modes      int `json:"modes"`
	ModesFor90 int `json:"modes_for_90"`
	ModesFor95 int `json:"modes_for_95"`
	ModesFor99 int `json:"modes_for_99"`
}

// Writer renders reports onto a FileSystem.
type Writer struct {
	FS     fsutil.FileSystem
	Width  vg.Length
	Height vg.Length
}

// NewWriter returns a Writer with the default 10×5 inch page.
func NewWriter(fsys fsutil.FileSystem) *Writer {
	return &Writer{FS: fsys, Width: 10 * vg.Inch, Height: 5 * vg.Inch}
}

func (w *Writer) save(p *plot.Plot, name string) error {
	wt, err := p.WriterTo(w.Width, w.Height, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(name), err)
	}
	return fsutil.WriteTo(w.FS, name, wt)
}

// WriteSpectrum writes scree.png, cumulative.png and summary.json into dir
// and returns the paths written.
func (w *Writer) WriteSpectrum(dir string, s Spectrum) ([]string, error) {
	if len(s.Variance) == 0 {
		return nil, fmt.Errorf("model %q has no modes", s.Name)
	}
	if err := w.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	labels := make([]string, len(s.Variance))
	for i := range labels {
		labels[i] = strconv.Itoa(i + 1)
	}

	// Scree: raw variance per mode.
	scree := plot.New()
	scree.Title.Text = fmt.Sprintf("%s - Mode Variance", s.Name)
	scree.X.Label.Text = "Mode"
	scree.Y.Label.Text = "Variance"
	bars, err := plotter.NewBarChart(plotter.Values(s.Variance), vg.Points(12))
	if err != nil {
		return nil, fmt.Errorf("scree bars: %w", err)
	}
	bars.Color = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	scree.Add(bars, plotter.NewGrid())
	scree.NominalX(labels...)

	// Cumulative explained variance with 90/95% guides.
	cum := plot.New()
	cum.Title.Text = fmt.Sprintf("%s - Cumulative Explained Variance", s.Name)
	cum.X.Label.Text = "Modes"
	cum.Y.Label.Text = "Fraction"
	cum.Y.Min, cum.Y.Max = 0, 1
	pts := make(plotter.XYs, len(s.Cumulative))
	for i, c := range s.Cumulative {
		pts[i] = plotter.XY{X: float64(i + 1), Y: c}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("cumulative line: %w", err)
	}
	line.Width = vg.Points(1.5)
	line.Color = color.RGBA{R: 53, G: 183, B: 121, A: 255}
	cum.Add(line, plotter.NewGrid())
	cum.Legend.Add("cumulative", line)
	for _, guide := range []float64{0.9, 0.95} {
		g, err := plotter.NewLine(plotter.XYs{{X: 1, Y: guide}, {X: float64(len(s.Cumulative)), Y: guide}})
		if err != nil {
			return nil, err
		}
		g.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		g.Color = color.Gray{Y: 128}
		cum.Add(g)
	}
	cum.Legend.Top = true
	cum.Legend.Left = false
	cum.Legend.XOffs = -10
	cum.Legend.YOffs = -10

	screeFile := filepath.Join(dir, "scree.png")
	if err := w.save(scree, screeFile); err != nil {
		return nil, fmt.Errorf("save scree plot: %w", err)
	}
	cumFile := filepath.Join(dir, "cumulative.png")
	if err := w.save(cum, cumFile); err != nil {
		return nil, fmt.Errorf("save cumulative plot: %w", err)
	}

	summary := Summary{
		Spectrum:   s,
		Modes:      len(s.Variance),
		ModesFor90: ModesFor(s.Cumulative, 0.90),
		ModesFor95: ModesFor(s.Cumulative, 0.95),
		ModesFor99: ModesFor(s.Cumulative, 0.99),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, err
	}
	summaryFile := filepath.Join(dir, "summary.json")
	if err := w.FS.WriteFile(summaryFile, data, 0o644); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	return []string{screeFile, cumFile, summaryFile}, nil
}

// WriteShape plots the x/y projection of shape into dir/name.png, drawing
// the highlighted points in a second series. name may hold subdirectories
// but must stay inside dir.
func (w *Writer) WriteShape(dir, name string, shape []float64, highlight []int) (string, error) {
	if len(shape) == 0 || len(shape)%3 != 0 {
		return "", fmt.Errorf("%w: shape length %d", ssm.ErrDimensionMismatch, len(shape))
	}
	out, err := security.ContainedPath(dir, name+".png")
	if err != nil {
		return "", err
	}
	if err := w.FS.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	marked := make(map[int]bool, len(highlight))
	for _, p := range highlight {
		marked[p] = true
	}
	var all, hi plotter.XYs
	for p := 0; p < len(shape)/3; p++ {
		xy := plotter.XY{X: shape[3*p], Y: shape[3*p+1]}
		if marked[p] {
			hi = append(hi, xy)
		} else {
			all = append(all, xy)
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (x/y)", name)
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	if len(all) > 0 {
		sc, err := plotter.NewScatter(all)
		if err != nil {
			return "", err
		}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("points", sc)
	}
	if len(hi) > 0 {
		sc, err := plotter.NewScatter(hi)
		if err != nil {
			return "", err
		}
		sc.GlyphStyle.Radius = vg.Points(3)
		sc.GlyphStyle.Color = color.RGBA{R: 253, G: 231, B: 37, A: 255}
		p.Add(sc)
		p.Legend.Add("landmarks", sc)
	}
	p.Add(plotter.NewGrid())

	if err := w.save(p, out); err != nil {
		return "", fmt.Errorf("save shape plot: %w", err)
	}
	return out, nil
}
