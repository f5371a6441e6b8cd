// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package scorer computes the per-label confusion matrix and the weighted
OOB+validation combined score that drives grid search, for an arbitrary
number of classes.
*/
package scorer

import (
	"fmt"

	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
)

// Matrix is a num_labels x num_labels confusion matrix: Counts[actual][predicted].
type Matrix struct {
	NumLabels int
	Counts    [][]int
	excluded  int // predictions below unity_threshold, tallied but not counted
}

// New returns an empty matrix sized for numLabels classes.
func New(numLabels int) *Matrix {
	counts := make([][]int, numLabels)
	for i := range counts {
		counts[i] = make([]int, numLabels)
	}
	return &Matrix{NumLabels: numLabels, Counts: counts}
}

// Add records one (actual, predicted) pair. predicted == 255 ("unknown",
// below unity_threshold) is excluded from the tally entirely rather than
// counted as a miss.
func (m *Matrix) Add(actual, predicted uint8) {
	if predicted == 255 {
		m.excluded++
		return
	}
	if int(actual) >= m.NumLabels || int(predicted) >= m.NumLabels {
		return
	}
	m.Counts[actual][predicted]++
}

// total returns the number of tallied (non-excluded) predictions.
func (m *Matrix) total() int {
	n := 0
	for _, row := range m.Counts {
		for _, c := range row {
			n += c
		}
	}
	return n
}

// TruePositive, FalsePositive and FalseNegative for label l.
func (m *Matrix) truePositive(l int) int { return m.Counts[l][l] }

func (m *Matrix) falsePositive(l int) int {
	fp := 0
	for actual := 0; actual < m.NumLabels; actual++ {
		if actual == l {
			continue
		}
		fp += m.Counts[actual][l]
	}
	return fp
}

func (m *Matrix) falseNegative(l int) int {
	fn := 0
	for predicted := 0; predicted < m.NumLabels; predicted++ {
		if predicted == l {
			continue
		}
		fn += m.Counts[l][predicted]
	}
	return fn
}

// Precision returns TP/(TP+FP) for label l, or 0 if undefined.
func (m *Matrix) Precision(l int) float64 {
	tp, fp := m.truePositive(l), m.falsePositive(l)
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

// Recall returns TP/(TP+FN) for label l, or 0 if undefined.
func (m *Matrix) Recall(l int) float64 {
	tp, fn := m.truePositive(l), m.falseNegative(l)
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

// F1 returns the harmonic mean of precision and recall for label l.
func (m *Matrix) F1(l int) float64 {
	p, r := m.Precision(l), m.Recall(l)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy returns the overall tallied accuracy across all labels.
func (m *Matrix) Accuracy() float64 {
	total := m.total()
	if total == 0 {
		return 0
	}
	correct := 0
	for l := 0; l < m.NumLabels; l++ {
		correct += m.truePositive(l)
	}
	return float64(correct) / float64(total)
}

// macroAverage returns the mean of metric(l) over every label that has
// at least one tallied prediction or ground-truth occurrence.
func (m *Matrix) macroAverage(metric func(int) float64) float64 {
	sum, n := 0.0, 0
	for l := 0; l < m.NumLabels; l++ {
		if m.truePositive(l)+m.falsePositive(l)+m.falseNegative(l) == 0 {
			continue
		}
		sum += metric(l)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Metric evaluates the mean over whichever bits of cfg.MetricScore are
// enabled.
func (m *Matrix) Metric(cfg *mlconfig.Config) float64 {
	sum, n := 0.0, 0
	if cfg.HasMetric(mlconfig.MetricAccuracy) {
		sum += m.Accuracy()
		n++
	}
	if cfg.HasMetric(mlconfig.MetricPrecision) {
		sum += m.macroAverage(m.Precision)
		n++
	}
	if cfg.HasMetric(mlconfig.MetricRecall) {
		sum += m.macroAverage(m.Recall)
		n++
	}
	if cfg.HasMetric(mlconfig.MetricF1) {
		sum += m.macroAverage(m.F1)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Combined computes the weighted OOB+validation score gridsearch
// optimizes against. valid may be nil when no validation set is in use,
// in which case the combined score degenerates to the OOB score alone.
func Combined(cfg *mlconfig.Config, oob, valid *Matrix) float64 {
	oobScore := oob.Metric(cfg)
	if valid == nil {
		return oobScore
	}
	validScore := valid.Metric(cfg)
	return oobScore*(1-cfg.CombineRatio) + validScore*cfg.CombineRatio
}

func (m *Matrix) String() string {
	s := "Confusion Matrix:\n"
	for actual := 0; actual < m.NumLabels; actual++ {
		s += fmt.Sprintf("%d\t%v\n", actual, m.Counts[actual])
	}
	return s
}
