// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/mlptrain/pkg/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called each time the progress bar is updated, and it should return a name and the current value.
type ExtraMetricFn func() (name, value string)

// RefreshPeriod is the time between terminal updates.
var RefreshPeriod = time.Second * 3

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version, if the terminal supports its symbols.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "mlptrain.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the minimum time between redraws of the stats table.
const maxUpdateFrequency = time.Millisecond * 200

// progressBar holds a progressbar being displayed, along with a table of the training metrics.
type progressBar struct {
	numSteps, lastStepReported int
	bar                        *progressbar.ProgressBar

	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

type progressBarUpdate struct {
	amount, numSteps int
	epoch            int
	metrics          []string
}

// numStepsGuess is used while the number of steps is not known, during the first epoch.
const numStepsGuess = 1000

func (pBar *progressBar) onStart(loop *train.Loop, _ train.Dataset) error {
	pBar.lastStepReported = loop.LoopStep
	pBar.numSteps = numStepsGuess
	if loop.EndStep >= 0 {
		pBar.numSteps = loop.EndStep - loop.StartStep
	}
	pBar.bar = progressbar.NewOptions(pBar.numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(os.Stdout),
	)
	pBar.updates = make(chan progressBarUpdate, 100)
	pBar.isFirstOutput = true
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawUpdates(loop)
	return nil
}

func (pBar *progressBar) onStep(loop *train.Loop, metrics []float64) error {
	if pBar.bar == nil || pBar.bar.IsFinished() {
		return nil
	}
	// LoopStep is the step just finished.
	amount := loop.LoopStep + 1 - pBar.lastStepReported
	if amount <= 0 {
		return nil
	}
	update := progressBarUpdate{
		amount:   amount,
		numSteps: pBar.numSteps,
		epoch:    loop.Epoch,
		metrics:  make([]string, 0, len(metrics)+1),
	}
	if loop.EndStep >= 0 {
		update.numSteps = loop.EndStep - loop.StartStep
		update.metrics = append(update.metrics, fmt.Sprintf("%s of %s",
			humanize.Comma(int64(loop.LoopStep+1)), humanize.Comma(int64(loop.EndStep))))
	} else {
		update.metrics = append(update.metrics, humanize.Comma(int64(loop.LoopStep+1)))
	}
	for metricIdx, metricObj := range loop.Trainer.TrainMetrics() {
		update.metrics = append(update.metrics, metricObj.PrettyPrint(metrics[metricIdx]))
	}
	pBar.updates <- update
	pBar.lastStepReported = loop.LoopStep + 1
	return nil
}

// drawUpdates asynchronously draws the updates, so training is not slowed down by a slow terminal.
func (pBar *progressBar) drawUpdates(loop *train.Loop) {
	defer pBar.asyncUpdatesDone.Done()
	for update := range pBar.updates {
		// Exhaust the updates in the buffer.
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}
		if update.numSteps != pBar.numSteps {
			pBar.numSteps = update.numSteps
			pBar.bar.ChangeMax(pBar.numSteps)
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		pBar.statsTable.Row("Global Step", update.metrics[0])
		pBar.statsTable.Row("Epoch", humanize.Comma(int64(update.epoch+1)))
		pBar.statsTable.Row("Median train step duration", FormatDuration(loop.MedianTrainStepDuration()))
		for metricIdx, metricObj := range loop.Trainer.TrainMetrics() {
			pBar.statsTable.Row(metricObj.Name(), update.metrics[1+metricIdx])
		}
		for _, extraMetric := range pBar.extraMetricFns {
			name, value := extraMetric()
			pBar.statsTable.Row(name, value)
		}

		// Move the cursor back over the previous table, so it gets overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			numLinesToBackup := len(update.metrics) + 3 + 2 + len(pBar.extraMetricFns)
			pBar.termenv.CursorPrevLine(numLinesToBackup)
		}
		pBar.isFirstOutput = false
		fmt.Println(pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount)
		fmt.Print("\033[J\n")
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

func (pBar *progressBar) onEnd(_ *train.Loop, _ []float64) error {
	if pBar.updates != nil {
		close(pBar.updates)
		pBar.updates = nil
	}
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
	fmt.Println()
	return nil
}

// AttachProgressBar creates a command-line progress bar and attaches it to the Loop, so that
// every time the Loop is run it displays the progression and a table with the train metrics.
//
// Optionally, one can provide extraMetrics: functions called at every update of
// the progress bar that return a name and a value to be included in the table.
func AttachProgressBar(loop *train.Loop, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		extraMetricFns: extraMetrics,
		termenv:        termenv.NewOutput(os.Stdout),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	// Update at least 1000 times during the loop, or at least every RefreshPeriod.
	train.NTimesDuringLoop(loop, 1000, ProgressBarName, 0, pBar.onStep)
	train.PeriodicCallback(loop, RefreshPeriod, false, ProgressBarName, 0, pBar.onStep)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}
