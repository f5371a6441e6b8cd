// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mlconfig_test

import (
	"reflect"
	"runtime/debug"
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/internal/memstore"
	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
)

func assert(t *testing.T, exp, got interface{}, equal bool) {
	if reflect.DeepEqual(exp, got) != equal {
		debug.PrintStack()
		t.Fatalf("\n"+
			">>> Expecting '%v'\n"+
			"          got '%v'\n", exp, got)
	}
}

func TestNormalizeRescales(t *testing.T) {
	c := &mlconfig.Config{TrainRatio: 7, TestRatio: 2, ValidRatio: 1}
	c.Normalize()
	assert(t, 0.7, c.TrainRatio, true)
	assert(t, 0.2, c.TestRatio, true)
	assert(t, 0.1, c.ValidRatio, true)
}

func TestConfigRoundTrip(t *testing.T) {
	store := memstore.New()
	c := mlconfig.Default()
	c.NumSamples = 500
	c.Timestamp = "2026-01-01T00:00:00Z"
	c.Author = "bench"

	if err := mlconfig.Save(store, "/m_config.json", c); err != nil {
		t.Fatal(err)
	}
	got, err := mlconfig.Load(store, "/m_config.json")
	if err != nil {
		t.Fatal(err)
	}
	assert(t, c.NumTrees, got.NumTrees, true)
	assert(t, c.Timestamp, got.Timestamp, true)
	assert(t, c.Author, got.Author, true)
}

func TestHasMetric(t *testing.T) {
	c := &mlconfig.Config{MetricScore: mlconfig.MetricAccuracy | mlconfig.MetricF1}
	assert(t, true, c.HasMetric(mlconfig.MetricAccuracy), true)
	assert(t, false, c.HasMetric(mlconfig.MetricPrecision), true)
}

func TestDataParamsRoundTrip(t *testing.T) {
	store := memstore.New()
	dp := &mlconfig.DataParams{
		QuantizationCoefficient: 0.25,
		MaxFeatureValue:         3,
		FeaturesPerByte:         4,
		NumFeatures:             10,
		NumSamples:              200,
		NumLabels:               3,
		SamplesPerLabel:         []int{60, 70, 70},
	}
	if err := mlconfig.SaveDataParams(store, "/m_dp.csv", dp); err != nil {
		t.Fatal(err)
	}
	got, err := mlconfig.LoadDataParams(store, "/m_dp.csv")
	if err != nil {
		t.Fatal(err)
	}
	assert(t, dp.NumSamples, got.NumSamples, true)
	assert(t, dp.SamplesPerLabel, got.SamplesPerLabel, true)
}

func TestAutoConfigureDisabled(t *testing.T) {
	c := &mlconfig.Config{EnableAutoConfig: false, MinSplit: 5, MaxDepth: 8}
	ms, md := c.AutoConfigure()
	assert(t, []int{5}, ms, true)
	assert(t, []int{8}, md, true)
}

func TestAutoConfigureBounded(t *testing.T) {
	c := &mlconfig.Config{EnableAutoConfig: true, NumSamples: 10000, NumFeatures: 40}
	ms, md := c.AutoConfigure()
	if len(ms) == 0 || len(ms) > 6 {
		t.Fatalf("unexpected min_split_range length %d", len(ms))
	}
	if len(md) == 0 || len(md) > 6 {
		t.Fatalf("unexpected max_depth_range length %d", len(md))
	}
}
