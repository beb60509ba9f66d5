// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"cmp"
	"encoding/base64"
	"encoding/json"
	"html/template"
	"io"
	"os"
	"slices"

	grob "github.com/MetalBlueberry/go-plotly/generated/v2.34.0/graph_objects"
	ptypes "github.com/MetalBlueberry/go-plotly/pkg/types"
	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/janpfeifer/gonb/gonbui/plotly"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// tagOrder is the display order of the known tags. Other tags follow alphabetically.
var tagOrder = []string{"loss", "content_loss", "style_loss"}

func compareTags(a, b string) int {
	ia, ib := slices.Index(tagOrder, a), slices.Index(tagOrder, b)
	switch {
	case ia >= 0 && ib >= 0:
		return cmp.Compare(ia, ib)
	case ia >= 0:
		return -1
	case ib >= 0:
		return 1
	}
	return cmp.Compare(a, b)
}

// Line is the sequence of values of one tag in one run, sorted by epoch.
type Line struct {
	Run    string
	Epochs []float64
	Values []float64
}

// Series holds, for one tag, one Line per run.
type Series struct {
	Tag   string
	Lines []*Line
}

// GroupSeries groups the scalars by tag (in display order) and then by run (in order of first appearance).
// Within a line, values are sorted by epoch.
func GroupSeries(scalars []Scalar) []*Series {
	byTag := make(map[string]*Series)
	var tags []string
	for _, scalar := range scalars {
		series, found := byTag[scalar.Tag]
		if !found {
			series = &Series{Tag: scalar.Tag}
			byTag[scalar.Tag] = series
			tags = append(tags, scalar.Tag)
		}
		idx := slices.IndexFunc(series.Lines, func(l *Line) bool { return l.Run == scalar.Run })
		if idx == -1 {
			series.Lines = append(series.Lines, &Line{Run: scalar.Run})
			idx = len(series.Lines) - 1
		}
		line := series.Lines[idx]
		line.Epochs = append(line.Epochs, float64(scalar.Epoch))
		line.Values = append(line.Values, scalar.Value)
	}
	slices.SortFunc(tags, compareTags)

	result := make([]*Series, 0, len(tags))
	for _, tag := range tags {
		series := byTag[tag]
		for _, line := range series.Lines {
			sortByEpoch(line)
		}
		result = append(result, series)
	}
	return result
}

func sortByEpoch(line *Line) {
	indices := xslices.Iota(0, len(line.Epochs))
	slices.SortStableFunc(indices, func(i, j int) int { return cmp.Compare(line.Epochs[i], line.Epochs[j]) })
	epochs := make([]float64, len(indices))
	values := make([]float64, len(indices))
	for ii, idx := range indices {
		epochs[ii] = line.Epochs[idx]
		values[ii] = line.Values[idx]
	}
	line.Epochs, line.Values = epochs, values
}

// lineName is the run identifier shortened, or the tag if there is only one run.
func lineName(series *Series, line *Line) string {
	if len(series.Lines) == 1 {
		return series.Tag
	}
	if len(line.Run) > 8 {
		return line.Run[:8]
	}
	return line.Run
}

var (
	htmlPage = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="utf-8">
		<title>MST training losses</title>
		<script src="{{ .CDN }}"></script>
	</head>
	<body>
{{- range $i, $f := .Figures }}
		<div id="plot{{ $i }}"></div>
{{- end }}
	<script>
{{- range $i, $f := .Figures }}
		data = JSON.parse(atob('{{ $f }}'))
		Plotly.newPlot('plot{{ $i }}', data);
{{- end }}
	</script>
	</body>
</html>`
	htmlPageTmpl = template.Must(template.New("plotly").Parse(htmlPage))
)

// plotlyFigures returns one JSON serialized Plotly figure per series.
func plotlyFigures(series []*Series) ([][]byte, error) {
	figures := make([][]byte, 0, len(series))
	for _, s := range series {
		fig := &grob.Fig{
			Layout: &grob.Layout{
				Title: &grob.LayoutTitle{Text: ptypes.S(s.Tag)},
				Xaxis: &grob.LayoutXaxis{Showgrid: ptypes.B(true)},
				Yaxis: &grob.LayoutYaxis{Showgrid: ptypes.B(true)},
			},
		}
		for _, line := range s.Lines {
			fig.Data = append(fig.Data, &grob.Scatter{
				Name: ptypes.S(lineName(s, line)),
				Line: &grob.ScatterLine{Shape: grob.ScatterLineShapeLinear},
				Mode: "lines+markers",
				X:    ptypes.DataArray(line.Epochs),
				Y:    ptypes.DataArray(line.Values),
			})
		}
		figAsJSON, err := json.Marshal(fig)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal plotly figure for %q", s.Tag)
		}
		figures = append(figures, figAsJSON)
	}
	return figures, nil
}

// WriteHTML renders one Plotly chart per series in an HTML page.
func WriteHTML(w io.Writer, series []*Series) error {
	figures, err := plotlyFigures(series)
	if err != nil {
		return err
	}
	data := &struct {
		CDN     string
		Figures []string
	}{
		CDN:     plotly.PlotlySrc,
		Figures: xslices.Map(figures, func(fig []byte) string { return base64.StdEncoding.EncodeToString(fig) }),
	}
	if err = htmlPageTmpl.Execute(w, data); err != nil {
		return errors.Wrap(err, "failed to render plotly page")
	}
	return nil
}

// WriteHTMLChart writes the HTML page of WriteHTML to filePath.
func WriteHTMLChart(filePath string, series []*Series) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %q", filePath)
	}
	if err = WriteHTML(f, series); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}

// WritePNGChart draws one line chart per series, stacked vertically, into a PNG file.
func WritePNGChart(filePath string, series []*Series) error {
	if len(series) == 0 {
		return errors.New("no series to plot")
	}
	plots := make([][]*plot.Plot, len(series))
	for ii, s := range series {
		p := plot.New()
		p.Title.Text = s.Tag
		p.X.Label.Text = "epoch"
		p.Y.Label.Text = s.Tag
		p.Add(plotter.NewGrid())
		for lineIdx, line := range s.Lines {
			xys := make(plotter.XYs, len(line.Epochs))
			for jj := range line.Epochs {
				xys[jj].X, xys[jj].Y = line.Epochs[jj], line.Values[jj]
			}
			l, err := plotter.NewLine(xys)
			if err != nil {
				return errors.Wrapf(err, "invalid values for %q", s.Tag)
			}
			l.Color = plotutil.Color(lineIdx)
			p.Add(l)
			if len(s.Lines) > 1 {
				p.Legend.Add(lineName(s, line), l)
			}
		}
		plots[ii] = []*plot.Plot{p}
	}

	const rowHeight = 3 * vg.Inch
	img := vgimg.New(8*vg.Inch, vg.Length(len(plots))*rowHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: len(plots), Cols: 1, PadY: vg.Millimeter, PadX: vg.Millimeter}
	canvases := plot.Align(plots, tiles, dc)
	for ii := range plots {
		plots[ii][0].Draw(canvases[ii][0])
	}

	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %q", filePath)
	}
	if _, err = (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write PNG chart %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}

// csvRow is the CSV export layout of a Scalar.
type csvRow struct {
	Run      string  `dataframe:"run"`
	Tag      string  `dataframe:"tag"`
	Epoch    int     `dataframe:"epoch"`
	Value    float64 `dataframe:"value"`
	WallTime float64 `dataframe:"wall_time"`
}

// ScalarsDataFrame returns the scalars as a dataframe with columns run, tag, epoch, value and wall_time, in the
// recorded order.
func ScalarsDataFrame(scalars []Scalar) dataframe.DataFrame {
	rows := xslices.Map(scalars, func(s Scalar) csvRow {
		return csvRow{Run: s.Run, Tag: s.Tag, Epoch: s.Epoch, Value: s.Value, WallTime: s.WallTime}
	})
	return dataframe.LoadStructs(rows)
}

// WriteCSV exports the scalars to filePath, see ScalarsDataFrame.
func WriteCSV(filePath string, scalars []Scalar) error {
	df := ScalarsDataFrame(scalars)
	if df.Err != nil {
		return errors.Wrap(df.Err, "failed to build scalars dataframe")
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %q", filePath)
	}
	if err = df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write CSV %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}
