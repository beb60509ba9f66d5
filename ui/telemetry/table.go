// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

// Table returns a table with one row per epoch (and run, if the scalars come from more than one run),
// and one column per tag.
func Table(scalars []Scalar) string {
	var runs, tags []string
	type rowKey struct {
		run   string
		epoch int
	}
	values := make(map[rowKey]map[string]float64)
	for _, s := range scalars {
		if !slices.Contains(runs, s.Run) {
			runs = append(runs, s.Run)
		}
		if !slices.Contains(tags, s.Tag) {
			tags = append(tags, s.Tag)
		}
		key := rowKey{s.Run, s.Epoch}
		if values[key] == nil {
			values[key] = make(map[string]float64)
		}
		values[key][s.Tag] = s.Value
	}
	slices.SortFunc(tags, compareTags)
	multiRun := len(runs) > 1

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	headers := []string{"Epoch"}
	if multiRun {
		headers = append(headers, "Run")
	}
	table.Headers(append(headers, tags...)...)

	keys := make([]rowKey, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b rowKey) int {
		if c := cmp.Compare(slices.Index(runs, a.run), slices.Index(runs, b.run)); c != 0 {
			return c
		}
		return cmp.Compare(a.epoch, b.epoch)
	})
	for _, key := range keys {
		row := []string{fmt.Sprintf("%d", key.epoch)}
		if multiRun {
			row = append(row, key.run)
		}
		for _, tag := range tags {
			if v, found := values[key][tag]; found {
				row = append(row, fmt.Sprintf("%f", v))
			} else {
				row = append(row, "")
			}
		}
		table.Row(row...)
	}
	return table.String()
}
