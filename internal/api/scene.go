package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/precog/internal/geom"
)

// outlineSegments is the number of points used to draw a circular zone.
const outlineSegments = 72

// zoneOutline samples the zone boundary as a closed polyline.
func zoneOutline(z geom.Zone) []geom.Point {
	switch zz := z.(type) {
	case geom.Circle:
		pts := make([]geom.Point, 0, outlineSegments+1)
		for i := 0; i <= outlineSegments; i++ {
			a := 2 * math.Pi * float64(i) / outlineSegments
			pts = append(pts, geom.Pt(zz.Center.X+zz.Radius*math.Cos(a), zz.Center.Y+zz.Radius*math.Sin(a)))
		}
		return pts
	case geom.Rect:
		hw, hh := zz.Width/2, zz.Height/2
		c := zz.Center
		return []geom.Point{
			geom.Pt(c.X-hw, c.Y-hh), geom.Pt(c.X+hw, c.Y-hh),
			geom.Pt(c.X+hw, c.Y+hh), geom.Pt(c.X-hw, c.Y+hh),
			geom.Pt(c.X-hw, c.Y-hh),
		}
	default:
		return []geom.Point{z.Centre()}
	}
}

// boxOutline returns the corners of b as a closed polyline, or nil for a
// box without area.
func boxOutline(b geom.BBox) []geom.Point {
	if b.Width <= 0 || b.Height <= 0 {
		return nil
	}
	lo, hi := b.Min(), b.Max()
	return []geom.Point{lo, geom.Pt(hi.X, lo.Y), hi, geom.Pt(lo.X, hi.Y), lo}
}

func scatterData(pts []geom.Point) []opts.ScatterData {
	data := make([]opts.ScatterData, len(pts))
	for i, p := range pts {
		data[i] = opts.ScatterData{Value: []interface{}{p.X, p.Y}}
	}
	return data
}

// handleScene renders the last frame as an HTML scatter plot: the
// protected zone outline, each track's position, its last detection box
// and its predicted path.
func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	subtitle := "no frame yet"
	fr := s.frames.Last()
	if fr != nil {
		subtitle = fmt.Sprintf("frame=%d tracks=%d mode=%s", fr.Frame, fr.Tracks.Len(), fr.Actuator.Mode)
		if fr.Verdict.Danger {
			subtitle += fmt.Sprintf(" threat=%d step=%d", fr.Verdict.ThreatTrackID, fr.Verdict.Step)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "precog scene", Theme: "dark", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracks and predicted paths", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y (px)", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("zone", scatterData(zoneOutline(s.frames.Zone())),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))

	if fr != nil {
		ids := fr.Tracks.IDs()
		current := make([]geom.Point, 0, len(ids))
		var boxes []geom.Point
		for _, id := range ids {
			t, _ := fr.Tracks.Get(id)
			current = append(current, t.Position())
			boxes = append(boxes, boxOutline(t.LastBox)...)
		}
		scatter.AddSeries("tracks", scatterData(current),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
		if len(boxes) > 0 {
			scatter.AddSeries("boxes", scatterData(boxes),
				charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
		}

		for _, id := range ids {
			path, ok := fr.Paths[id]
			if !ok {
				continue
			}
			scatter.AddSeries(fmt.Sprintf("path %d", id), scatterData(path),
				charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
		}
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
