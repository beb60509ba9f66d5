// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ui/notebooks"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/exp/constraints"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each update of the progress bar and returns a name and the current value.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version, if the terminal supports the symbols.
var ProgressbarStyle = progressbar.ThemeASCII

// RefreshPeriod is the minimum time between updates of the display. The last step of each epoch is always
// displayed, so the epoch report is printed below an up-to-date bar.
var RefreshPeriod = time.Millisecond * 200

// ProgressBarName is the name of the trainer hooks registered by AttachProgressBar.
const ProgressBarName = "mst.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// progressBar displays the progress of the whole run (all epochs) and the running means of the current epoch.
type progressBar struct {
	out        io.Writer
	inNotebook bool
	bar        *progressbar.ProgressBar
	totalSteps int
	suffix     string

	termenv      *termenv.Output
	statsStyle   lipgloss.Style
	statsTable   *lgtable.Table
	linesToClear int

	pending    int
	lastUpdate time.Time

	extraMetricFns []ExtraMetricFn
}

// Write implements io.Writer, appending the current suffix to each write of the enclosed progress bar: this
// keeps the bar and its metrics in the same write, otherwise Jupyter notebooks may display them in different lines.
func (pBar *progressBar) Write(data []byte) (n int, err error) {
	n, err = pBar.out.Write(data)
	if err != nil {
		return n, err
	}
	if _, err = io.WriteString(pBar.out, pBar.suffix); err != nil {
		return 0, err
	}
	return
}

func (pBar *progressBar) onStep(t *trainer.Trainer, _ trainer.StepResult) error {
	if pBar.bar.IsFinished() {
		return nil
	}
	pBar.pending++
	state := t.State()
	lastStepOfEpoch := state.Step == t.Config().StepsPerEpoch-1
	if !lastStepOfEpoch && time.Since(pBar.lastUpdate) < RefreshPeriod {
		return nil
	}
	pBar.lastUpdate = time.Now()
	amount := pBar.pending
	pBar.pending = 0

	if pBar.inNotebook {
		parts := []string{fmt.Sprintf(" [epoch=%d]", state.Epoch)}
		for _, metric := range state.Metrics.All() {
			parts = append(parts, fmt.Sprintf(" [%s=%s]", metric.Name(), metric.PrettyPrint()))
		}
		// Erase to an end-of-line escape sequence ("\033[J") is not supported in Jupyter notebooks.
		parts = append(parts, "        ")
		pBar.suffix = strings.Join(parts, "")
		_ = pBar.bar.Add(amount)
	} else {
		pBar.suffix = "\033[J"
		pBar.render(t, amount)
	}

	if lastStepOfEpoch {
		// The trainer prints the epoch report next: it goes below the display, which is not overwritten anymore.
		_, _ = fmt.Fprintln(pBar.out)
		pBar.linesToClear = 0
	}
	return nil
}

// render redraws the stats table and the bar in the terminal, over the previous display.
func (pBar *progressBar) render(t *trainer.Trainer, amount int) {
	state, cfg := t.State(), t.Config()
	pBar.statsTable.Data(lgtable.NewStringData())
	pBar.statsTable.Row("Epoch", fmt.Sprintf("%d of %d", state.Epoch+1, cfg.NumEpochs))
	pBar.statsTable.Row("Global Step", fmt.Sprintf("%s of %s",
		humanizeCount(state.GlobalStep), humanizeCount(pBar.totalSteps)))
	pBar.statsTable.Row("Median train step duration", FormatDuration(state.MedianStepDuration()))
	for _, metric := range state.Metrics.All() {
		pBar.statsTable.Row(metric.Name(), metric.PrettyPrint())
	}
	for _, extraMetric := range pBar.extraMetricFns {
		name, value := extraMetric()
		pBar.statsTable.Row(name, value)
	}

	pBar.termenv.HideCursor()
	if pBar.linesToClear > 0 {
		pBar.termenv.CursorPrevLine(pBar.linesToClear)
	}
	rendered := pBar.statsStyle.Render(pBar.statsTable.String())
	_, _ = fmt.Fprintln(pBar.out, rendered)
	_ = pBar.bar.Add(amount) // Prints the progress bar line.
	_, _ = fmt.Fprintln(pBar.out)
	pBar.termenv.ShowCursor()
	pBar.linesToClear = strings.Count(rendered, "\n") + 2
}

func (pBar *progressBar) onEnd(_ *trainer.Trainer) error {
	if pBar.termenv != nil {
		pBar.termenv.ShowCursor()
	}
	_, _ = fmt.Fprintln(pBar.out)
	return nil
}

// AttachProgressBar displays a progress bar of the training run on the command line (or in a notebook),
// along with the running means of the losses of the current epoch.
//
// Optionally, one can provide extraMetrics: functions called at every update of the progress bar that
// return a name (title) and a value to be included in the display.
func AttachProgressBar(t *trainer.Trainer, extraMetrics ...ExtraMetricFn) {
	attachProgressBar(t, os.Stdout, notebooks.IsNotebook(), extraMetrics...)
}

func attachProgressBar(t *trainer.Trainer, out io.Writer, inNotebook bool, extraMetrics ...ExtraMetricFn) {
	cfg := t.Config()
	pBar := &progressBar{
		out:            out,
		inNotebook:     inNotebook,
		totalSteps:     cfg.NumEpochs * cfg.StepsPerEpoch,
		extraMetricFns: extraMetrics,
	}
	if pBar.totalSteps <= 0 {
		return
	}
	pBar.bar = progressbar.NewOptions(pBar.totalSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar),
	)
	if !inNotebook {
		pBar.termenv = termenv.NewOutput(out)
		pBar.statsStyle = lipgloss.NewStyle().PaddingLeft(8)
		pBar.statsTable = lgtable.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			})
	}
	t.OnStep(ProgressBarName, 0, pBar.onStep)
	t.OnEnd(ProgressBarName, 0, pBar.onEnd)
}

// humanizeCount formats n with thousands separators.
func humanizeCount[I constraints.Integer](n I) string {
	return humanize.Comma(int64(n))
}
