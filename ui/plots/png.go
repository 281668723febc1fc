// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/mlptrain/pkg/ml/train"
	"github.com/gomlx/mlptrain/pkg/support/fsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"k8s.io/klog/v2"
)

// PNGPlotter accumulates points and renders them as a PNG image, with one chart per metric type
// ("loss", "accuracy", ...) stacked vertically.
type PNGPlotter struct {
	points        []Point
	numIncomplete int

	// Width and Height of each chart.
	Width, Height vg.Length
}

var _ Plotter = (*PNGPlotter)(nil)

// NewPNGPlotter returns an empty PNGPlotter.
func NewPNGPlotter() *PNGPlotter {
	return &PNGPlotter{Width: 8 * vg.Inch, Height: 4 * vg.Inch}
}

// AddPoint implements Plotter.
func (p *PNGPlotter) AddPoint(point Point) {
	p.points = append(p.points, point)
}

// DynamicSampleDone implements Plotter.
func (p *PNGPlotter) DynamicSampleDone(incomplete bool) {
	if incomplete {
		p.numIncomplete++
	}
}

// Points collected so far.
func (p *PNGPlotter) Points() Points {
	return NewPoints(p.points)
}

// charts builds one plot.Plot per metric type.
func (p *PNGPlotter) charts() ([]*plot.Plot, error) {
	points := p.Points()
	var metricTypes []string
	byType := make(map[string][]string)
	for _, name := range points.MetricsNames() {
		var metricType string
		points.Map(func(pt *Point) {
			if pt.MetricName == name {
				metricType = pt.MetricType
			}
		})
		if _, found := byType[metricType]; !found {
			metricTypes = append(metricTypes, metricType)
		}
		byType[metricType] = append(byType[metricType], name)
	}

	charts := make([]*plot.Plot, 0, len(metricTypes))
	for _, metricType := range metricTypes {
		chart := plot.New()
		chart.Title.Text = metricType
		chart.X.Label.Text = "global step"
		chart.Y.Label.Text = metricType
		chart.Legend.Top = true
		var lines []any
		for _, name := range byType[metricType] {
			steps, values := points.Series(name)
			xys := make(plotter.XYs, len(steps))
			for ii := range steps {
				xys[ii].X, xys[ii].Y = steps[ii], values[ii]
			}
			lines = append(lines, name, xys)
		}
		if err := plotutil.AddLinePoints(chart, lines...); err != nil {
			return nil, errors.Wrapf(err, "failed to plot %q metrics", metricType)
		}
		charts = append(charts, chart)
	}
	return charts, nil
}

// WriteTo renders the PNG image to w.
func (p *PNGPlotter) WriteTo(w io.Writer) (int64, error) {
	charts, err := p.charts()
	if err != nil {
		return 0, err
	}
	if len(charts) == 0 {
		return 0, errors.New("no points to plot")
	}
	img := vgimg.New(p.Width, p.Height*vg.Length(len(charts)))
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: len(charts), Cols: 1, PadY: vg.Millimeter * 4, PadTop: vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2, PadLeft: vg.Millimeter * 2, PadRight: vg.Millimeter * 2}
	grid := make([][]*plot.Plot, len(charts))
	for ii, chart := range charts {
		grid[ii] = []*plot.Plot{chart}
	}
	canvases := plot.Align(grid, tiles, dc)
	for ii, chart := range charts {
		chart.Draw(canvases[ii][0])
	}
	png := vgimg.PngCanvas{Canvas: img}
	return png.WriteTo(w)
}

// Save renders the PNG image to filePath, atomically replacing any previous file.
func (p *PNGPlotter) Save(filePath string) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	if err = fsutil.EnsureParentDir(filePath); err != nil {
		return err
	}
	tmpPath := filepath.Join(filepath.Dir(filePath),
		fmt.Sprintf(".%s.%s.tmp", filepath.Base(filePath), uuid.NewString()))
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create plot file %q", tmpPath)
	}
	_, err = p.WriteTo(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, filePath)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithMessagef(err, "failed to save plot to %q", filePath)
	}
	klog.V(1).Infof("saved plot with %d points to %q", len(p.points), filePath)
	return nil
}

// AttachToLoop adds plot points at the end of every epoch: the epoch mean loss, the train metrics and
// the eval metrics on evalDatasets. At the end of each run of the loop the plot is saved to filePath.
//
// If filePath ends with ".png", the points are also appended, as JSON lines, to the file with the
// same name and extension ".json". Those can be read back with LoadPoints.
func AttachToLoop(loop *train.Loop, filePath string, evalDatasets ...train.Dataset) *PNGPlotter {
	p := NewPNGPlotter()
	recorder := &teePlotter{Plotter: p}
	base, isPNG := strings.CutSuffix(filePath, ".png")
	loop.OnStart("plots", 50, func(_ *train.Loop, _ train.Dataset) error {
		if isPNG {
			recorder.writer, recorder.errReport = CreatePointsWriter(base + ".json")
		}
		return nil
	})
	loop.OnEpoch("plots", 50, func(loop *train.Loop, stats train.EpochStats) error {
		recorder.AddPoint(Point{
			MetricName: "Train: Epoch Mean Loss",
			Short:      "T/epoch",
			MetricType: "loss",
			Step:       float64(loop.Trainer.GlobalStep()),
			Value:      stats.MeanLoss,
		})
		return AddTrainAndEvalMetrics(recorder, loop, evalDatasets)
	})
	loop.OnEnd("plots", 50, func(_ *train.Loop, _ []float64) error {
		if err := recorder.close(); err != nil {
			return err
		}
		return p.Save(filePath)
	})
	return p
}

// teePlotter forwards points to a Plotter and, if set, to a points writer.
type teePlotter struct {
	Plotter
	writer    chan<- Point
	errReport <-chan error
}

func (t *teePlotter) AddPoint(point Point) {
	t.Plotter.AddPoint(point)
	if t.writer != nil {
		t.writer <- point
	}
}

func (t *teePlotter) close() error {
	if t.writer == nil {
		return nil
	}
	close(t.writer)
	t.writer = nil
	return <-t.errReport
}
