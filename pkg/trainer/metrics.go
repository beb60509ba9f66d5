// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import "fmt"

// Metric names, also used as the tags of the scalar summaries.
const (
	MetricLoss        = "loss"
	MetricContentLoss = "content_loss"
	MetricStyleLoss   = "style_loss"
)

// MeanMetric keeps the running mean of the values folded into it since the last Reset.
//
// The zero value is ready to use (with an empty name).
type MeanMetric struct {
	name   string
	sum    float64
	count  int
	resets int
}

// NewMeanMetric creates a running mean with the given name.
func NewMeanMetric(name string) *MeanMetric {
	return &MeanMetric{name: name}
}

// Name of the metric.
func (m *MeanMetric) Name() string { return m.name }

// Update folds value into the running mean.
func (m *MeanMetric) Update(value float64) {
	m.sum += value
	m.count++
}

// Result returns the mean of the values seen since the last Reset, or 0 if there were none.
func (m *MeanMetric) Result() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Count of values folded since the last Reset.
func (m *MeanMetric) Count() int { return m.count }

// Reset clears the accumulated sum and count.
func (m *MeanMetric) Reset() {
	m.sum = 0
	m.count = 0
	m.resets++
}

// Resets returns how many times Reset was called since creation.
func (m *MeanMetric) Resets() int { return m.resets }

// PrettyPrint the current mean with 3 decimal places.
func (m *MeanMetric) PrettyPrint() string {
	return fmt.Sprintf("%.3f", m.Result())
}

// Metrics groups the three running means tracked by the training loop.
type Metrics struct {
	Loss, ContentLoss, StyleLoss *MeanMetric
}

// NewMetrics creates the loss, content_loss and style_loss running means.
func NewMetrics() *Metrics {
	return &Metrics{
		Loss:        NewMeanMetric(MetricLoss),
		ContentLoss: NewMeanMetric(MetricContentLoss),
		StyleLoss:   NewMeanMetric(MetricStyleLoss),
	}
}

// All returns the metrics in reporting order.
func (m *Metrics) All() []*MeanMetric {
	return []*MeanMetric{m.Loss, m.ContentLoss, m.StyleLoss}
}

// Reset all metrics.
func (m *Metrics) Reset() {
	for _, metric := range m.All() {
		metric.Reset()
	}
}

// Update all metrics with the losses of one step.
func (m *Metrics) Update(result StepResult) {
	m.Loss.Update(result.Loss)
	m.ContentLoss.Update(result.ContentLoss)
	m.StyleLoss.Update(result.StyleLoss)
}

// Scalars returns the current means as scalar summaries.
func (m *Metrics) Scalars() []Scalar {
	all := m.All()
	scalars := make([]Scalar, 0, len(all))
	for _, metric := range all {
		scalars = append(scalars, Scalar{Tag: metric.Name(), Value: metric.Result()})
	}
	return scalars
}
