// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains the command-line UI of the MST trainer: hyperparameter flags, a progress bar
// and the final report.
package commandline

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/mst/pkg/trainer"
)

// ReportTraining prints a summary of a finished (or stopped) training run.
func ReportTraining(w io.Writer, state *trainer.TrainingState) {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	status := "completed"
	if state.Stopped {
		status = "stopped"
	}
	table.Row("Status", status)
	table.Row("Epochs", humanizeCount(state.Epoch+1))
	table.Row("Global Step", humanizeCount(state.GlobalStep))
	table.Row("Median train step duration", FormatDuration(state.MedianStepDuration()))
	for _, metric := range state.Metrics.All() {
		table.Row("Last epoch "+metric.Name(), metric.PrettyPrint())
	}
	if state.IOFailures > 0 {
		table.Row("Failed writes", humanizeCount(state.IOFailures))
	}
	_, _ = fmt.Fprintln(w, table.String())
}
