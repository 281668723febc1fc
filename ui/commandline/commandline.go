// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/mlptrain/pkg/ml/train"
)

// ReportEval reports on the command line the results of evaluating the datasets using trainer.Eval.
func ReportEval(trainer *train.Trainer, datasets ...train.Dataset) error {
	for _, ds := range datasets {
		fmt.Printf("Results on %s:\n", ds.Name())
		metricsValues, err := trainer.Eval(ds)
		if err != nil {
			return err
		}
		for metricIdx, metric := range trainer.EvalMetrics() {
			value := metricsValues[metricIdx]
			fmt.Printf("\t%s (%s): %s\n", metric.Name(), metric.ShortName(), metric.PrettyPrint(value))
		}
	}
	return nil
}

// ReportEvaluation prints to w a table with the mean loss and accuracy of the model on each dataset,
// as computed by train.Evaluate. If w is nil, it prints to os.Stdout.
func ReportEvaluation(w io.Writer, trainer *train.Trainer, datasets ...train.Dataset) error {
	if w == nil {
		w = os.Stdout
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers("Dataset", "Examples", "Mean Loss", "Accuracy").
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return normalStyle
			}
			return rightAlignedStyle
		})
	for _, ds := range datasets {
		result, err := train.Evaluate(trainer, ds)
		if err != nil {
			return err
		}
		table.Row(ds.Name(), humanize.Comma(int64(result.Examples)),
			fmt.Sprintf("%.4f", result.MeanLoss), fmt.Sprintf("%.2f%%", 100*result.Accuracy))
	}
	_, err := fmt.Fprintln(w, table.String())
	return err
}
