// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// mlp_checkpoints inspects checkpoints saved by mlp_train (or by the checkpoints package).
//
// Examples:
//
//	mlp_checkpoints -summary -vars ~/work/fashion.ckpt
//	mlp_checkpoints -verify -hidden=256,128,64 ~/work/fashion.ckpt
//	mlp_checkpoints -metrics=~/work/plot.json -metrics_types=accuracy
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/mlptrain/pkg/ml/checkpoints"
	"github.com/gomlx/mlptrain/pkg/ml/model"
	"github.com/gomlx/mlptrain/pkg/support/fsutil"
	"github.com/gomlx/mlptrain/pkg/support/sets"
	"github.com/gomlx/mlptrain/pkg/support/xslices"
	"github.com/gomlx/mlptrain/ui/plots"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the checkpoint: architecture and sizes.")
	flagVars    = flag.Bool("vars", false, "Lists the parameters stored in the checkpoint.")
	flagVerify  = flag.Bool("verify", false, "Verifies that the checkpoint can be loaded into a model with the "+
		"hidden layers given by -hidden, and lists the parameters that don't match.")
	flagHidden = xslices.IntsFlag("hidden", nil, "Hidden layer sizes of the model to -verify against.")

	flagMetrics      = flag.String("metrics", "", "JSON file with the plot points saved by mlp_train -plot.")
	flagMetricsTypes = flag.String("metrics_types", "", "Comma-separated list of metric types to include in the "+
		"-metrics report. Default is all.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	needsCheckpoint := *flagSummary || *flagVars || *flagVerify
	if needsCheckpoint && len(args) != 1 {
		klog.Errorf("Expected exactly one checkpoint file to read from. See 'mlp_checkpoints -help'")
		os.Exit(1)
	}
	if !needsCheckpoint && *flagMetrics == "" {
		klog.Errorf("Nothing to do: use -summary, -vars, -verify or -metrics. See 'mlp_checkpoints -help'")
		os.Exit(1)
	}
	err := exceptions.TryCatch[error](func() {
		if needsCheckpoint {
			checkpointPath := must.M1(fsutil.ReplaceTildeInDir(args[0]))
			ckpt := must.M1(checkpoints.ReadFile(checkpointPath))
			if *flagSummary {
				must.M(reportSummary(os.Stdout, checkpointPath, ckpt))
			}
			if *flagVars {
				must.M(reportVars(os.Stdout, ckpt))
			}
			if *flagVerify {
				must.M(verify(os.Stdout, ckpt, *flagHidden))
			}
		}
		if *flagMetrics != "" {
			must.M(reportMetrics(os.Stdout, *flagMetrics, *flagMetricsTypes))
		}
	})
	if err != nil {
		klog.Errorf("Error:\n%+v", err)
		os.Exit(1)
	}
}

func reportSummary(w io.Writer, checkpointPath string, ckpt *checkpoints.Checkpoint) error {
	var numValues int
	dtypesUsed := sets.Make[string]()
	for _, p := range ckpt.Parameters {
		numValues += p.Shape().Size()
		dtypesUsed.Insert(p.DType.String())
	}
	table := newTable()
	table.Row("checkpoint", checkpointPath)
	table.Row("architecture", ckpt.Architecture.String())
	table.Row("# parameters", humanize.Comma(int64(len(ckpt.Parameters))))
	table.Row("# values", humanize.Comma(int64(numValues)))
	table.Row("dtype", strings.Join(xslices.SortedKeys(dtypesUsed), ", "))
	table.Row("data size", humanize.Bytes(uint64(ckpt.DataSize)))
	if info, err := os.Stat(checkpointPath); err == nil {
		table.Row("file size", humanize.Bytes(uint64(info.Size())))
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render("Summary"), table.Render())
	return err
}

func reportVars(w io.Writer, ckpt *checkpoints.Checkpoint) error {
	table := newTable("Name", "Dimensions", "DType", "Size", "Bytes")
	for _, p := range ckpt.Parameters {
		shape := p.Shape()
		table.Row(p.Name, fmt.Sprintf("%v", shape.Dimensions), p.DType.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(p.DType.SizeForDimensions(shape.Dimensions...))))
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render("Parameters"), table.Render())
	return err
}

// verify copies the checkpoint into a model with the given hidden layers, and reports the mismatches.
// It returns an error if the checkpoint doesn't fit the model.
func verify(w io.Writer, ckpt *checkpoints.Checkpoint, hiddenSizes []int) error {
	arch := model.Architecture{
		InputSize:   ckpt.Architecture.InputSize,
		OutputSize:  ckpt.Architecture.OutputSize,
		HiddenSizes: hiddenSizes,
	}
	m, err := model.New(arch)
	if err != nil {
		return err
	}
	err = ckpt.CopyTo(m)
	var mismatchErr *checkpoints.ShapeMismatchError
	if err != nil && !errors.As(err, &mismatchErr) {
		return err
	}
	mismatched := sets.Make[string]()
	if mismatchErr != nil {
		mismatched.Insert(mismatchErr.Names()...)
	}

	table := newTable("Name", "Stored", "Expected", "Status")
	for _, p := range ckpt.Parameters {
		expected := "-"
		if modelParam := m.Parameter(p.Name); modelParam != nil {
			expected = fmt.Sprintf("%v", modelParam.Shape().Dimensions)
		}
		status := "ok"
		if mismatched.Has(p.Name) {
			status = "mismatch"
		}
		table.RowRed(mismatched.Has(p.Name), p.Name, fmt.Sprintf("%v", p.Shape().Dimensions), expected, status)
	}
	for _, modelParam := range m.Parameters() {
		if _, found := ckpt.Parameter(modelParam.Name()); !found {
			table.RowRed(true, modelParam.Name(), "-", fmt.Sprintf("%v", modelParam.Shape().Dimensions), "missing")
		}
	}
	title := fmt.Sprintf("Verify against %s", arch)
	if _, printErr := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render(title), table.Render()); printErr != nil {
		return printErr
	}
	return err
}

func reportMetrics(w io.Writer, pointsPath, metricsTypes string) error {
	pointsPath, err := fsutil.ReplaceTildeInDir(pointsPath)
	if err != nil {
		return err
	}
	rawPoints, err := plots.LoadPoints(pointsPath)
	if err != nil {
		return err
	}
	if len(rawPoints) == 0 {
		return errors.Errorf("no metrics found in %q", pointsPath)
	}
	points := plots.NewPoints(rawPoints)
	if metricsTypes != "" {
		types := sets.MakeWith(strings.Split(metricsTypes, ",")...)
		points.Filter(func(p plots.Point) bool { return types.Has(p.MetricType) })
	}
	_, err = fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render("Metrics"), points.TableForMetrics())
	return err
}
