// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scorer_test

import (
	"math"
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
	"github.com/viettran-edgeAI/mcu-forest/scorer"
)

func closeEnough(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAccuracyAndPerLabelMetrics(t *testing.T) {
	m := scorer.New(2)
	m.Add(0, 0)
	m.Add(0, 0)
	m.Add(0, 1)
	m.Add(1, 1)
	m.Add(1, 1)

	if !closeEnough(m.Accuracy(), 4.0/5.0) {
		t.Fatalf("accuracy = %v", m.Accuracy())
	}
	if !closeEnough(m.Precision(0), 1.0) {
		t.Fatalf("precision(0) = %v", m.Precision(0))
	}
	if !closeEnough(m.Recall(0), 2.0/3.0) {
		t.Fatalf("recall(0) = %v", m.Recall(0))
	}
}

func TestExcludedBelowUnityThreshold(t *testing.T) {
	m := scorer.New(2)
	m.Add(0, 0)
	m.Add(0, 255)
	m.Add(1, 255)

	if !closeEnough(m.Accuracy(), 1.0) {
		t.Fatalf("excluded predictions should not count against accuracy, got %v", m.Accuracy())
	}
}

func TestCombinedScoreWeighting(t *testing.T) {
	cfg := &mlconfig.Config{MetricScore: mlconfig.MetricAccuracy, CombineRatio: 0.5}

	oob := scorer.New(2)
	oob.Add(0, 0)
	oob.Add(1, 1)

	valid := scorer.New(2)
	valid.Add(0, 1)
	valid.Add(1, 0)

	got := scorer.Combined(cfg, oob, valid)
	if !closeEnough(got, 0.5) {
		t.Fatalf("combined score = %v, want 0.5", got)
	}
}

func TestCombinedWithoutValidationIsOOBOnly(t *testing.T) {
	cfg := &mlconfig.Config{MetricScore: mlconfig.MetricAccuracy}
	oob := scorer.New(2)
	oob.Add(0, 0)
	oob.Add(0, 0)

	if got := scorer.Combined(cfg, oob, nil); !closeEnough(got, 1.0) {
		t.Fatalf("combined score = %v, want 1.0", got)
	}
}
