package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/httputil"
	"github.com/fieldguide/guidance/internal/pipeline"
	"github.com/fieldguide/guidance/internal/plan"
)

const (
	lineSamples   = 40
	circleSamples = 72
	pngWidth      = 8 * vg.Inch
	pngHeight     = 8 * vg.Inch
)

// samplePrimitive returns points along p for drawing. Lines are drawn between
// their two defining points.
func samplePrimitive(p plan.Primitive) []geom.Point2 {
	var from, to geom.Point2
	switch p.Kind() {
	case plan.KindLine:
		l, _ := p.Line()
		from, to = l.P, l.Q
	case plan.KindSegment:
		s, _ := p.Segment()
		from, to = s.Source, s.Target
	case plan.KindCircle:
		c, _ := p.Circle()
		pts := make([]geom.Point2, 0, circleSamples+1)
		for i := 0; i <= circleSamples; i++ {
			a := 2 * math.Pi * float64(i) / circleSamples
			pts = append(pts, r2.Add(c.Center, geom.FromPolar(c.Radius, a)))
		}
		return pts
	default:
		return nil
	}
	pts := make([]geom.Point2, 0, lineSamples+1)
	for i := 0; i <= lineSamples; i++ {
		t := float64(i) / lineSamples
		pts = append(pts, r2.Add(from, r2.Scale(t, r2.Sub(to, from))))
	}
	return pts
}

func passLabel(p plan.Primitive) string {
	return fmt.Sprintf("pass %d", p.PassNumber)
}

// handlePlanChart renders the current plan, the active pass and the tow
// point as an interactive scatter chart.
func (s *Server) handlePlanChart(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Guidance plan", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Guidance plan",
			Subtitle: fmt.Sprintf("run=%d passes=%d state=%s", snap.Plan.RunNumber(), snap.Plan.Len(), snap.State),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	for _, prim := range snap.Plan.Primitives() {
		scatter.AddSeries(passLabel(prim), scatterData(samplePrimitive(prim)),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	if snap.Active.Len() == 1 {
		scatter.AddSeries("active", scatterData(samplePrimitive(snap.Active.At(0))),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}
	if snap.PoseCount > 0 {
		scatter.AddSeries("tow", scatterData([]geom.Point2{snap.Poses.Tow.Position2D()}),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func scatterData(pts []geom.Point2) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(pts))
	for _, p := range pts {
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	return data
}

func (s *Server) handlePlanPNG(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := WritePlanPNG(&buf, s.engine.Snapshot()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// WritePlanPNG draws the snapshot's plan, active pass and tow point as a
// PNG.
func WritePlanPNG(w io.Writer, snap pipeline.Snapshot) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %d - %d passes", snap.Plan.RunNumber(), snap.Plan.Len())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	for i, prim := range snap.Plan.Primitives() {
		l, err := plotter.NewLine(xys(samplePrimitive(prim)))
		if err != nil {
			return fmt.Errorf("pass %d: %w", prim.PassNumber, err)
		}
		l.Width = vg.Points(1)
		l.Color = plotutil.Color(i)
		p.Add(l)
	}

	if snap.Active.Len() == 1 {
		l, err := plotter.NewLine(xys(samplePrimitive(snap.Active.At(0))))
		if err != nil {
			return fmt.Errorf("active pass: %w", err)
		}
		l.Width = vg.Points(3)
		l.Color = color.RGBA{R: 220, G: 30, B: 30, A: 255}
		p.Add(l)
		p.Legend.Add("active", l)
	}

	if snap.PoseCount > 0 {
		sc, err := plotter.NewScatter(xys([]geom.Point2{snap.Poses.Tow.Position2D()}))
		if err != nil {
			return fmt.Errorf("tow point: %w", err)
		}
		sc.GlyphStyle.Radius = vg.Points(4)
		sc.GlyphStyle.Color = color.Black
		p.Add(sc)
		p.Legend.Add("tow", sc)
	}

	wt, err := p.WriterTo(pngWidth, pngHeight, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

func xys(pts []geom.Point2) plotter.XYs {
	out := make(plotter.XYs, len(pts))
	for i, p := range pts {
		out[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return out
}
