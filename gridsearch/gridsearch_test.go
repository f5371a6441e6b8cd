// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gridsearch_test

import (
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/dataset"
	"github.com/viettran-edgeAI/mcu-forest/forest"
	"github.com/viettran-edgeAI/mcu-forest/gridsearch"
	"github.com/viettran-edgeAI/mcu-forest/internal/memstore"
	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
	"github.com/viettran-edgeAI/mcu-forest/resource"
)

func buildSeparableDataset(t *testing.T) (*dataset.Dataset, *memstore.Store) {
	store := memstore.New()
	d, err := dataset.CreateEmpty(store, "/m_nml.bin", 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}

	samples := make([]dataset.Sample, 60)
	for i := 0; i < 30; i++ {
		samples[i] = dataset.NewSample(0, []uint8{0, 0, 0, 0})
	}
	for i := 30; i < 60; i++ {
		samples[i] = dataset.NewSample(1, []uint8{3, 3, 3, 3})
	}
	if _, err := d.Append(samples, true); err != nil {
		t.Fatal(err)
	}
	return d, store
}

func TestSearchPicksAscendingTieBreak(t *testing.T) {
	d, store := buildSeparableDataset(t)
	cfg := mlconfig.Default()
	cfg.NumTrees = 5

	idx := resource.New(store, "m")
	eval := gridsearch.BuildOOBEvaluator(d, nil, 2, 42, idx, false)

	result, err := gridsearch.Search(cfg, []int{2, 3}, []int{3, 4}, eval)
	if err != nil {
		t.Fatal(err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
	if result.Score < 0.9 {
		t.Fatalf("expected near-perfect separation, got score %v", result.Score)
	}
	// Every combination builds the same trees from the same seed on this
	// separable data, so the scores tie and the first combination wins.
	if result.MinSplit != 2 || result.MaxDepth != 3 {
		t.Fatalf("tie went to (min_split=%d, max_depth=%d), want (2, 3)", result.MinSplit, result.MaxDepth)
	}
}

func TestSearchEmptyRangesYieldsNilResult(t *testing.T) {
	cfg := mlconfig.Default()
	result, err := gridsearch.Search(cfg, nil, nil, func(c *mlconfig.Config) (float64, *forest.Forest, error) {
		t.Fatal("evaluator should not be called for empty ranges")
		return 0, nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != nil {
		t.Fatalf("expected nil result for empty ranges, got %+v", result)
	}
}
