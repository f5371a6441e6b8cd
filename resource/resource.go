// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package resource implements ResourceIndex: a bitset describing which
on-disk artifacts exist for a model, path assembly, and the rename
cascade that moves every artifact when a model is renamed.
*/
package resource

import (
	"strconv"

	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/objectstore"
)

// Flag bits, one per artifact kind.
type Flag uint16

const (
	BaseDataBin Flag = 1 << iota
	BaseDataCSV
	Categorizer
	DPStats
	Config
	UnifiedForest
	NodePredictor
	NodePredictorLog
	InferenceLog
)

// suffix is the closed set of exactly 11 path suffixes this module's
// artifacts can take. Per-tree files use TreePath(i) rather than a
// fixed suffix, since the index varies.
const (
	SuffixBaseDataBin  = "_nml.bin"
	SuffixBaseDataCSV  = "_nml.csv"
	SuffixCategorizer  = "_ctg.csv"
	SuffixDPStats      = "_dp.csv"
	SuffixConfig       = "_config.json"
	SuffixUnifiedForest = "_forest.bin"
	SuffixNodePredBin  = "_node_pred.bin"
	SuffixNodePredLog  = "_node_log.csv"
	SuffixInferenceLog = "_infer_log.bin"
	SuffixTreePrefix   = "_tree_" // followed by index and ".bin"
	SuffixTreeSuffix   = ".bin"
)

// Index is the ResourceIndex for one model.
type Index struct {
	store     objectstore.Store
	modelName string
	flags     Flag
	treeCount int // number of per-tree files known to exist (non-unified mode)
}

// New returns an Index for modelName bound to store.
func New(store objectstore.Store, modelName string) *Index {
	return &Index{store: store, modelName: modelName}
}

// Path assembles "/" + model_name + suffix.
func (idx *Index) Path(suffix string) string {
	return "/" + idx.modelName + suffix
}

// TreePath assembles the per-tree file path for tree i.
func (idx *Index) TreePath(i int) string {
	return idx.Path(SuffixTreePrefix) + strconv.Itoa(i) + SuffixTreeSuffix
}

// Scan probes the store for every known artifact and rebuilds the flag
// set and tree count from scratch.
func (idx *Index) Scan(maxTrees int) {
	idx.flags = 0
	if idx.store.Exists(idx.Path(SuffixBaseDataBin)) {
		idx.flags |= BaseDataBin
	}
	if idx.store.Exists(idx.Path(SuffixBaseDataCSV)) {
		idx.flags |= BaseDataCSV
	}
	if idx.store.Exists(idx.Path(SuffixCategorizer)) {
		idx.flags |= Categorizer
	}
	if idx.store.Exists(idx.Path(SuffixDPStats)) {
		idx.flags |= DPStats
	}
	if idx.store.Exists(idx.Path(SuffixConfig)) {
		idx.flags |= Config
	}
	if idx.store.Exists(idx.Path(SuffixUnifiedForest)) {
		idx.flags |= UnifiedForest
	}
	if idx.store.Exists(idx.Path(SuffixNodePredBin)) {
		idx.flags |= NodePredictor
	}
	if idx.store.Exists(idx.Path(SuffixNodePredLog)) {
		idx.flags |= NodePredictorLog
	}
	if idx.store.Exists(idx.Path(SuffixInferenceLog)) {
		idx.flags |= InferenceLog
	}

	idx.treeCount = 0
	for i := 0; i < maxTrees; i++ {
		if idx.store.Exists(idx.TreePath(i)) {
			idx.treeCount++
		}
	}
}

// Has reports whether flag f is set.
func (idx *Index) Has(f Flag) bool { return idx.flags&f != 0 }

// Set marks flag f present.
func (idx *Index) Set(f Flag) { idx.flags |= f }

// Clear marks flag f absent.
func (idx *Index) Clear(f Flag) { idx.flags &^= f }

// ReadyForInference reports whether a forest and categorizer both exist.
func (idx *Index) ReadyForInference() bool {
	return idx.Has(UnifiedForest) && idx.Has(Categorizer)
}

// ReadyForTraining reports whether base data and categorizer both exist.
func (idx *Index) ReadyForTraining() bool {
	return (idx.Has(BaseDataBin) || idx.Has(BaseDataCSV)) && idx.Has(Categorizer)
}

// allSuffixes lists every fixed-name artifact suffix, used by Rename.
var allSuffixes = []string{
	SuffixBaseDataBin, SuffixBaseDataCSV, SuffixCategorizer, SuffixDPStats,
	SuffixConfig, SuffixUnifiedForest, SuffixNodePredBin, SuffixNodePredLog,
	SuffixInferenceLog,
}

// Rename moves every artifact that exists under the old model name to the
// new one, including the unified forest or any per-tree files. Best
// effort per-artifact: a single failed rename is logged and does not
// unwind prior successful renames.
func (idx *Index) Rename(newName string, maxTrees int) error {
	oldName := idx.modelName
	var firstErr error

	for _, suffix := range allSuffixes {
		oldPath := "/" + oldName + suffix
		if !idx.store.Exists(oldPath) {
			continue
		}
		newPath := "/" + newName + suffix
		if err := idx.store.Rename(oldPath, newPath); err != nil {
			glog.Warningf("resource: rename %s -> %s: %v", oldPath, newPath, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for i := 0; i < maxTrees; i++ {
		oldPath := "/" + oldName + SuffixTreePrefix + strconv.Itoa(i) + SuffixTreeSuffix
		if !idx.store.Exists(oldPath) {
			continue
		}
		newPath := "/" + newName + SuffixTreePrefix + strconv.Itoa(i) + SuffixTreeSuffix
		if err := idx.store.Rename(oldPath, newPath); err != nil {
			glog.Warningf("resource: rename %s -> %s: %v", oldPath, newPath, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	idx.modelName = newName
	return firstErr
}

// ModelName returns the current model name.
func (idx *Index) ModelName() string { return idx.modelName }

// Store returns the object store this index is bound to.
func (idx *Index) Store() objectstore.Store { return idx.store }
