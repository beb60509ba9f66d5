// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"time"
)

// FormatDuration pretty prints duration with at most 2 decimal places in its largest unit.
func FormatDuration(d time.Duration) string {
	var unit time.Duration
	switch abs := d.Abs(); {
	case abs >= time.Minute:
		// Hours and minutes are printed as "1h2m3.45s".
		return d.Round(10 * time.Millisecond).String()
	case abs >= time.Second:
		unit = time.Second
	case abs >= time.Millisecond:
		unit = time.Millisecond
	case abs >= time.Microsecond:
		unit = time.Microsecond
	default:
		return d.String()
	}
	return d.Round(unit / 100).String()
}
