// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package gridsearch drives the outer training loop across the Cartesian
product of min_split_range x max_depth_range, keeping the best-scoring
forest.
*/
package gridsearch

import (
	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/dataset"
	"github.com/viettran-edgeAI/mcu-forest/forest"
	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
	"github.com/viettran-edgeAI/mcu-forest/prng"
	"github.com/viettran-edgeAI/mcu-forest/resource"
	"github.com/viettran-edgeAI/mcu-forest/scorer"
)

// Result describes the best (min_split, max_depth) combination found and
// its score.
type Result struct {
	MinSplit int
	MaxDepth int
	Score    float64
	Forest   *forest.Forest
}

// Evaluator builds, scores and optionally persists a forest for one
// (min_split, max_depth) combination. It is injected so gridsearch stays
// free of the engine's wiring concerns (dataset loading, oob/validation
// set selection).
type Evaluator func(cfg *mlconfig.Config) (score float64, f *forest.Forest, err error)

// Search iterates the ranges in ascending order, keeping the first
// combination to achieve a given best score: ties favor the
// earlier (smaller min_split, then smaller max_depth) combination.
func Search(cfg *mlconfig.Config, minSplitRange, maxDepthRange []int, eval Evaluator) (*Result, error) {
	var best *Result

	for _, ms := range minSplitRange {
		for _, md := range maxDepthRange {
			cfg.MinSplit = ms
			cfg.MaxDepth = md

			score, f, err := eval(cfg)
			if err != nil {
				return best, err
			}

			glog.V(1).Infof("gridsearch: min_split=%d max_depth=%d score=%.4f", ms, md, score)

			if best == nil || score > best.Score {
				best = &Result{MinSplit: ms, MaxDepth: md, Score: score, Forest: f}
			}
		}
	}

	if best == nil {
		return nil, nil
	}
	glog.V(1).Infof("gridsearch: best min_split=%d max_depth=%d score=%.4f", best.MinSplit, best.MaxDepth, best.Score)
	return best, nil
}

// BuildOOBEvaluator returns an Evaluator that builds a forest over train,
// scores it by out-of-bag voting (each sample judged only by trees whose
// bag excluded it), and combines that with a validation score if valid is
// non-nil.
func BuildOOBEvaluator(train, valid *dataset.Dataset, numLabels int, rngSeed uint64, idx *resource.Index, persistBest bool) Evaluator {
	return func(cfg *mlconfig.Config) (float64, *forest.Forest, error) {
		f := forest.New(numLabels)
		f.Unified = true
		rng := prng.NewFromSeed(rngSeed)
		if err := f.Build(train, cfg, rng); err != nil {
			return 0, nil, err
		}

		oob := scorer.New(numLabels)
		for i := 0; i < train.NumSamples(); i++ {
			excl := excludeTreesContaining(f, i)
			feature := func(j int) uint8 { return train.GetFeature(i, j) }
			predicted := f.PredictExcluding(feature, cfg.UnityThreshold, excl)
			oob.Add(train.GetLabel(i), predicted)
		}

		var validMatrix *scorer.Matrix
		if valid != nil && valid.NumSamples() > 0 {
			validMatrix = scorer.New(numLabels)
			for i := 0; i < valid.NumSamples(); i++ {
				feature := func(j int) uint8 { return valid.GetFeature(i, j) }
				predicted := f.Predict(feature, cfg.UnityThreshold)
				validMatrix.Add(valid.GetLabel(i), predicted)
			}
		}

		score := scorer.Combined(cfg, oob, validMatrix)

		if persistBest && idx != nil {
			if err := f.Save(idx); err != nil {
				return score, f, err
			}
		}

		return score, f, nil
	}
}

// excludeTreesContaining returns the set of tree indices whose bag
// contains sample id, so that sample is judged only by out-of-bag trees.
func excludeTreesContaining(f *forest.Forest, id int) map[int]bool {
	excl := make(map[int]bool)
	for t := range f.Trees {
		if f.BagContains(t, uint16(id)) {
			excl[t] = true
		}
	}
	return excl
}
