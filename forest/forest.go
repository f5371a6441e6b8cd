// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package forest builds and serves the random forest ensemble: bootstrap
or subsample construction per tree, duplicate-tree rejection via
Prng.HashIDs, and majority-vote prediction gated by a certainty
threshold.
*/
package forest

import (
	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/dataset"
	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
	"github.com/viettran-edgeAI/mcu-forest/mlerror"
	"github.com/viettran-edgeAI/mcu-forest/prng"
	"github.com/viettran-edgeAI/mcu-forest/resource"
	"github.com/viettran-edgeAI/mcu-forest/scorer"
	"github.com/viettran-edgeAI/mcu-forest/tree"
	"github.com/viettran-edgeAI/mcu-forest/treestore"
)

// Unknown is the sentinel label meaning "no prediction met the certainty
// threshold".
const Unknown uint8 = 255

// maxRebootstrapAttempts bounds the duplicate-tree rejection loop: after
// this many nonce bumps, the tree is accepted regardless. An unbounded
// loop on a degenerate dataset (e.g. num_samples=1) would never terminate.
const maxRebootstrapAttempts = 8

// Forest is an ordered collection of trees, built and served against a
// loaded training Dataset.
type Forest struct {
	Trees    [][]tree.Node
	Unified  bool
	NumLabel int

	// OOBCurve records the running OOB score after each tree is added,
	// useful for diagnosing how many trees are actually needed.
	OOBCurve []float64

	bagIDs [][]uint16 // per-tree sample ids used, for OOB bookkeeping
}

// New returns an empty Forest.
func New(numLabels int) *Forest {
	return &Forest{NumLabel: numLabels}
}

// Build grows cfg.NumTrees trees from the train dataset. For each tree it
// draws a bootstrap (with replacement, size num_samples_train) or
// subsample (without replacement, size num_samples_train*bootstrap_ratio)
// id set from rng, rejecting and re-deriving with a bumped nonce on a
// duplicate-hash collision with a previously accepted tree.
func (f *Forest) Build(train *dataset.Dataset, cfg *mlconfig.Config, rng *prng.Source) error {
	n := train.NumSamples()
	if n == 0 {
		return mlerror.New(mlerror.NotReady, "forest: empty training set")
	}

	seen := make(map[uint32]bool, cfg.NumTrees)
	f.Trees = make([][]tree.Node, 0, cfg.NumTrees)
	f.bagIDs = make([][]uint16, 0, cfg.NumTrees)

	for t := 0; t < cfg.NumTrees; t++ {
		var ids []uint16
		nonce := uint64(0)
		for attempt := 0; attempt < maxRebootstrapAttempts; attempt++ {
			treeRNG := rng.Derive(uint64(t), nonce)
			if cfg.UseBootstrap {
				ids = bootstrapSample(n, treeRNG)
			} else {
				ids = subsampleWithoutReplacement(n, cfg.BootstrapRatio, treeRNG)
			}
			h := prng.HashIDs(ids)
			if !seen[h] {
				seen[h] = true
				break
			}
			glog.V(2).Infof("forest: tree %d bootstrap collided on attempt %d, re-deriving", t, attempt)
			nonce++
		}

		b := &tree.Builder{
			DS:                train,
			NumLabels:         f.NumLabel,
			MinSplit:          cfg.MinSplit,
			MaxDepth:          cfg.MaxDepth,
			UseGini:           cfg.UseGini,
			ImpurityThreshold: cfg.ImpurityThreshold,
			RNG:               rng.Derive(uint64(t), nonce+1000),
		}
		nodes := b.Build(ids)
		f.Trees = append(f.Trees, nodes)
		f.bagIDs = append(f.bagIDs, ids)
		f.OOBCurve = append(f.OOBCurve, f.oobScoreSoFar(train, cfg.UnityThreshold))

		// Natural suspension point between full tree builds.
	}

	glog.V(1).Infof("forest: built %d trees over %d samples", len(f.Trees), n)
	return nil
}

// oobScoreSoFar computes the out-of-bag accuracy of the trees built so
// far: each sample is judged only by the trees among those already built
// whose bag excluded it.
func (f *Forest) oobScoreSoFar(train *dataset.Dataset, unityThreshold float64) float64 {
	m := scorer.New(f.NumLabel)
	for i := 0; i < train.NumSamples(); i++ {
		exclude := make(map[int]bool)
		for t := range f.Trees {
			if f.BagContains(t, uint16(i)) {
				exclude[t] = true
			}
		}
		feature := func(j int) uint8 { return train.GetFeature(i, j) }
		predicted := f.PredictExcluding(feature, unityThreshold, exclude)
		m.Add(train.GetLabel(i), predicted)
	}
	return m.Accuracy()
}

// bootstrapSample draws n indices from [0,n) with replacement.
func bootstrapSample(n int, rng *prng.Source) []uint16 {
	ids := make([]uint16, n)
	for i := range ids {
		ids[i] = uint16(rng.Bounded(uint32(n)))
	}
	return ids
}

// subsampleWithoutReplacement draws floor(n*ratio) unique indices from
// [0,n) via partial Fisher-Yates.
func subsampleWithoutReplacement(n int, ratio float64, rng *prng.Source) []uint16 {
	k := int(float64(n) * ratio)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	pool := make([]uint16, n)
	for i := range pool {
		pool[i] = uint16(i)
	}
	for i := 0; i < k; i++ {
		j := i + int(rng.Bounded(uint32(n-i)))
		pool[i], pool[j] = pool[j], pool[i]
	}
	return append([]uint16(nil), pool[:k]...)
}

// Predict walks every loaded tree against feature and returns the
// majority label, or Unknown if no tree is loaded or the winning share
// falls below unityThreshold.
func (f *Forest) Predict(feature func(j int) uint8, unityThreshold float64) uint8 {
	return f.PredictExcluding(feature, unityThreshold, nil)
}

// PredictExcluding is Predict, but skips any tree index set in exclude —
// used for out-of-bag evaluation, where a sample must not be judged by
// trees that trained on it.
func (f *Forest) PredictExcluding(feature func(j int) uint8, unityThreshold float64, exclude map[int]bool) uint8 {
	if len(f.Trees) == 0 {
		return Unknown
	}
	votes := make([]int, f.NumLabel)
	total := 0
	for i, nodes := range f.Trees {
		if exclude != nil && exclude[i] {
			continue
		}
		lbl := tree.Classify(nodes, feature)
		if int(lbl) < f.NumLabel {
			votes[lbl]++
			total++
		}
	}
	if total == 0 {
		return Unknown
	}
	best, bestCount := 0, -1
	for lbl, v := range votes {
		if v > bestCount {
			bestCount = v
			best = lbl
		}
	}
	if float64(bestCount)/float64(total) < unityThreshold {
		return Unknown
	}
	return uint8(best)
}

// BagContains reports whether tree t's bootstrap/subsample set contains
// sample id — used to build the out-of-bag exclusion set per sample.
func (f *Forest) BagContains(t int, id uint16) bool {
	if t >= len(f.bagIDs) {
		return false
	}
	for _, v := range f.bagIDs[t] {
		if v == id {
			return true
		}
	}
	return false
}

// Save persists the forest, unified or per-tree depending on f.Unified.
func (f *Forest) Save(idx *resource.Index) error {
	if f.Unified {
		entries := make([]treestore.ForestEntry, len(f.Trees))
		for i, nodes := range f.Trees {
			entries[i] = treestore.ForestEntry{Index: i, Nodes: nodes}
		}
		return treestore.SaveForest(idx.Store(), idx.Path(resource.SuffixUnifiedForest), entries)
	}
	for i, nodes := range f.Trees {
		if err := treestore.SaveTree(idx.Store(), idx.TreePath(i), nodes); err != nil {
			return err
		}
	}
	return nil
}

// Load restores the forest, unified or per-tree depending on f.Unified,
// claiming exactly numTrees indices.
func (f *Forest) Load(idx *resource.Index, numTrees int) error {
	f.Trees = make([][]tree.Node, 0, numTrees)
	if f.Unified {
		wanted := make(map[int]bool, numTrees)
		for i := 0; i < numTrees; i++ {
			wanted[i] = true
		}
		entries, err := treestore.LoadForest(idx.Store(), idx.Path(resource.SuffixUnifiedForest), wanted)
		if err != nil {
			return err
		}
		byIndex := make(map[int][]tree.Node, len(entries))
		for _, e := range entries {
			byIndex[e.Index] = e.Nodes
		}
		for i := 0; i < numTrees; i++ {
			nodes, ok := byIndex[i]
			if !ok {
				glog.Warningf("forest: tree index %d missing from unified file", i)
				continue
			}
			f.Trees = append(f.Trees, nodes)
		}
		return nil
	}

	for i := 0; i < numTrees; i++ {
		nodes, err := treestore.LoadTree(idx.Store(), idx.TreePath(i))
		if err != nil {
			return err
		}
		f.Trees = append(f.Trees, nodes)
	}
	return nil
}
