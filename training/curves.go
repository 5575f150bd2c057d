/*
 *	Copyright 2025 The BrainTumor Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package training

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// File names of the plots written by PlotCurves.
const (
	LossCurveFile     = "loss_curve.png"
	AccuracyCurveFile = "accuracy_curve.png"
)

// PlotCurves writes the loss and accuracy curves of history to outDir, creating it if needed.
func PlotCurves(history History, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create results directory %q", outDir)
	}
	files := []string{filepath.Join(outDir, LossCurveFile), filepath.Join(outDir, AccuracyCurveFile)}
	if err := plotCurve("Loss", history.TrainLoss, history.ValLoss, files[0]); err != nil {
		return err
	}
	if err := plotCurve("Accuracy", history.TrainAcc, history.ValAcc, files[1]); err != nil {
		return err
	}
	klog.Infof("[PLOTS] Saved %s", strings.Join(files, " and "))
	return nil
}

// plotCurve plots the train and validation values of a metric per epoch into an 8x5 inches PNG.
func plotCurve(label string, train, validation []float64, path string) error {
	p := plot.New()
	p.Title.Text = label + " over Time"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = label

	grid := plotter.NewGrid()
	grid.Vertical.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	grid.Horizontal.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(grid)

	for ii, series := range []struct {
		name   string
		values []float64
	}{
		{"Train " + label, train},
		{"Val " + label, validation},
	} {
		points := make(plotter.XYs, len(series.values))
		for epoch, v := range series.values {
			points[epoch].X = float64(epoch + 1)
			points[epoch].Y = v
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return errors.Wrapf(err, "failed to plot %q", series.name)
		}
		line.LineStyle.Width = vg.Points(2)
		line.LineStyle.Color = plotutil.Color(ii)
		p.Add(line)
		p.Legend.Add(series.name, line)
	}
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save plot %q", path)
	}
	return nil
}
