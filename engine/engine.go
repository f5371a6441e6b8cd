// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package engine wires dataset, categorizer, forest, treestore, scorer,
gridsearch, feedback, nodepredictor, resource and mlconfig into the
single programmatic surface a host calls: open a model, train it, serve
predictions, and fold delayed ground truth back into the training set.
Exactly one Engine should exist per model name in a process, since two
Engines over the same model name would race on the same on-disk
artifacts.
*/
package engine

import (
	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/categorizer"
	"github.com/viettran-edgeAI/mcu-forest/dataset"
	"github.com/viettran-edgeAI/mcu-forest/feedback"
	"github.com/viettran-edgeAI/mcu-forest/forest"
	"github.com/viettran-edgeAI/mcu-forest/gridsearch"
	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
	"github.com/viettran-edgeAI/mcu-forest/mlerror"
	"github.com/viettran-edgeAI/mcu-forest/nodepredictor"
	"github.com/viettran-edgeAI/mcu-forest/objectstore"
	"github.com/viettran-edgeAI/mcu-forest/prng"
	"github.com/viettran-edgeAI/mcu-forest/resource"
	"github.com/viettran-edgeAI/mcu-forest/scorer"
)

// splitSeed fixes the train/test/validation partition across repeated
// Train() calls against the same dataset, so re-training the same base
// data reuses the same split rather than drawing a new one each time.
const splitSeed = 0x5EED1D

// MaxWaitMS is the default elapsed-time threshold PendingFeedback uses to
// pad unanswered entries.
const MaxWaitMS = 30_000

// MaxTreeFiles bounds how many per-tree files ResourceIndex.Scan probes.
const MaxTreeFiles = 200

// Engine owns every artifact for one model name: the resource index,
// config, categorizer table, node predictor, and (while a phase is
// active) one or two loaded datasets and a forest.
type Engine struct {
	store      objectstore.Store
	idx        *resource.Index
	cfg        *mlconfig.Config
	categorize *categorizer.Table
	predictor  *nodepredictor.Predictor
	f          *forest.Forest
	pending    *feedback.Buffer
}

// Open loads (or lazily prepares to create) every artifact for modelName.
// A missing config or categorizer is not an error at open time — only an
// operation that requires it (train, predict) fails with mlerror.NotReady.
func Open(store objectstore.Store, modelName string) (*Engine, error) {
	idx := resource.New(store, modelName)
	idx.Scan(MaxTreeFiles)

	e := &Engine{
		store:   store,
		idx:     idx,
		pending: feedback.New(MaxWaitMS),
	}

	if idx.Has(resource.Config) {
		cfg, err := mlconfig.Load(store, idx.Path(resource.SuffixConfig))
		if err != nil {
			return nil, err
		}
		e.cfg = cfg
	} else {
		e.cfg = mlconfig.Default()
	}

	if idx.Has(resource.Categorizer) {
		table, err := categorizer.Load(store, idx.Path(resource.SuffixCategorizer))
		if err != nil {
			return nil, err
		}
		e.categorize = table
	}

	if idx.Has(resource.DPStats) {
		dp, err := mlconfig.LoadDataParams(store, idx.Path(resource.SuffixDPStats))
		if err != nil {
			return nil, err
		}
		if e.cfg.NumFeatures == 0 {
			e.cfg.NumFeatures = dp.NumFeatures
		}
		if e.cfg.NumLabels == 0 {
			e.cfg.NumLabels = dp.NumLabels
		}
		if e.cfg.NumSamples == 0 {
			e.cfg.NumSamples = dp.NumSamples
		}
		if len(e.cfg.SamplesPerLabel) == 0 {
			e.cfg.SamplesPerLabel = dp.SamplesPerLabel
		}
	}
	if e.cfg.NumFeatures == 0 && e.categorize != nil {
		e.cfg.NumFeatures = e.categorize.NumFeatures
	}

	if idx.Has(resource.NodePredictor) {
		p, err := nodepredictor.Load(store, idx.Path(resource.SuffixNodePredBin))
		if err != nil {
			return nil, err
		}
		e.predictor = p
	} else {
		e.predictor = nodepredictor.New()
	}

	if idx.Has(resource.NodePredictorLog) {
		logOnly, err := nodepredictor.LoadLog(store, idx.Path(resource.SuffixNodePredLog))
		if err != nil {
			return nil, err
		}
		e.predictor.ImportLog(logOnly.Log())
	}

	glog.V(1).Infof("engine: opened model %q (ready_for_training=%v ready_for_inference=%v)",
		modelName, idx.ReadyForTraining(), idx.ReadyForInference())
	return e, nil
}

// Config returns the engine's current hyperparameter/stats record.
func (e *Engine) Config() *mlconfig.Config { return e.cfg }

// Train runs grid search over the configured (or auto-derived)
// min_split/max_depth ranges and persists the best forest as the unified
// "_forest.bin" artifact, returning the best combined score.
func (e *Engine) Train() (float64, error) {
	if !e.idx.ReadyForTraining() {
		return 0, mlerror.New(mlerror.NotReady, "engine: base data or categorizer missing")
	}

	train, test, valid, err := e.splitDataset()
	if err != nil {
		return 0, err
	}
	// The train/test/valid split files are derived scratch, recreated fresh
	// on every Train() call — purge rather than keep them around.
	defer train.Purge()
	defer test.Purge()
	if valid != nil {
		defer valid.Purge()
	}

	minSplitRange, maxDepthRange := e.cfg.AutoConfigure()

	eval := gridsearch.BuildOOBEvaluator(train, valid, e.cfg.NumLabels, 0xC0FFEE, e.idx, false)
	best, err := gridsearch.Search(e.cfg, minSplitRange, maxDepthRange, eval)
	if err != nil {
		return 0, err
	}
	if best == nil {
		return 0, mlerror.New(mlerror.NotReady, "engine: grid search produced no result")
	}

	e.cfg.MinSplit = best.MinSplit
	e.cfg.MaxDepth = best.MaxDepth
	e.f = best.Forest

	if err := e.f.Save(e.idx); err != nil {
		return 0, err
	}
	e.idx.Set(resource.UnifiedForest)

	if glog.V(1) {
		testScore := scoreAgainst(e.f, test, e.cfg)
		glog.Infof("engine: held-out test accuracy for model %q: %.4f", e.idx.ModelName(), testScore)
	}

	if e.predictor != nil {
		totalNodes := 0
		for _, nodes := range e.f.Trees {
			totalNodes += len(nodes)
		}
		avgNodes := 0
		if len(e.f.Trees) > 0 {
			avgNodes = totalNodes / len(e.f.Trees)
		}
		e.predictor.AppendRow(nodepredictor.Row{MinSplit: best.MinSplit, MaxDepth: best.MaxDepth, NumNodes: avgNodes})
		if e.cfg.EnableRetrain {
			e.predictor.Retrain()
		}
		if err := e.predictor.Save(e.store, e.idx.Path(resource.SuffixNodePredBin)); err != nil {
			glog.Warningf("engine: saving node predictor: %v", err)
		}
		e.idx.Set(resource.NodePredictor)

		if err := e.predictor.SaveLog(e.store, e.idx.Path(resource.SuffixNodePredLog)); err != nil {
			glog.Warningf("engine: saving node predictor log: %v", err)
		} else {
			e.idx.Set(resource.NodePredictorLog)
		}
	}

	if err := mlconfig.Save(e.store, e.idx.Path(resource.SuffixConfig), e.cfg); err != nil {
		return 0, err
	}
	e.idx.Set(resource.Config)

	glog.V(1).Infof("engine: trained model %q, best score %.4f (min_split=%d max_depth=%d)",
		e.idx.ModelName(), best.Score, best.MinSplit, best.MaxDepth)
	return best.Score, nil
}

// scoreAgainst evaluates f's plain majority-vote accuracy over held-out
// data, reported for diagnostics only — it is not part of the combined
// OOB/validation score gridsearch optimizes against.
func scoreAgainst(f *forest.Forest, ds *dataset.Dataset, cfg *mlconfig.Config) float64 {
	m := scorer.New(cfg.NumLabels)
	for i := 0; i < ds.NumSamples(); i++ {
		feature := func(j int) uint8 { return ds.GetFeature(i, j) }
		predicted := f.Predict(feature, cfg.UnityThreshold)
		m.Add(ds.GetLabel(i), predicted)
	}
	return m.Accuracy()
}

// splitDataset loads the base dataset and partitions it into train/test/
// validation child datasets per cfg's ratios.
func (e *Engine) splitDataset() (train, test, valid *dataset.Dataset, err error) {
	base := dataset.New(e.store)
	if err := base.Init(e.idx.Path(resource.SuffixBaseDataBin), uint16(e.cfg.NumFeatures)); err != nil {
		return nil, nil, nil, err
	}
	if err := base.Load(); err != nil {
		return nil, nil, nil, err
	}
	defer base.Release(true)

	n := base.NumSamples()
	trainN := int(float64(n) * e.cfg.TrainRatio)
	testN := int(float64(n) * e.cfg.TestRatio)

	trainIDs, testIDs, validIDs := dataset.SplitIDs(n, trainN, testN, prng.NewFromSeed(splitSeed))

	train, err = dataset.CreateEmpty(e.store, e.idx.Path(resource.SuffixBaseDataBin)+".train", uint16(e.cfg.NumFeatures))
	if err != nil {
		return nil, nil, nil, err
	}
	if err := materializeSubset(train, base, trainIDs); err != nil {
		return nil, nil, nil, err
	}

	test, err = dataset.CreateEmpty(e.store, e.idx.Path(resource.SuffixBaseDataBin)+".test", uint16(e.cfg.NumFeatures))
	if err != nil {
		return nil, nil, nil, err
	}
	if err := materializeSubset(test, base, testIDs); err != nil {
		return nil, nil, nil, err
	}

	if len(validIDs) > 0 {
		valid, err = dataset.CreateEmpty(e.store, e.idx.Path(resource.SuffixBaseDataBin)+".valid", uint16(e.cfg.NumFeatures))
		if err != nil {
			return nil, nil, nil, err
		}
		if err := materializeSubset(valid, base, validIDs); err != nil {
			return nil, nil, nil, err
		}
	}

	return train, test, valid, nil
}

// materializeSubset loads dst (already CreateEmpty'd on disk) and fills it
// with the records named by ids from src.
func materializeSubset(dst, src *dataset.Dataset, ids []uint16) error {
	if err := dst.Load(); err != nil {
		return err
	}
	return dst.LoadSubset(src, ids, false)
}

// Predict categorizes a real-valued feature vector and walks the
// persisted forest. ok is false when the forest's winning vote falls
// below the certainty threshold, rather than an error — there's no
// ground truth to report, only an inconclusive prediction.
func (e *Engine) Predict(features []float64) (label string, ok bool, err error) {
	if e.categorize == nil {
		return "", false, mlerror.New(mlerror.NotReady, "engine: categorizer not loaded")
	}
	if e.f == nil {
		if !e.idx.ReadyForInference() {
			return "", false, mlerror.New(mlerror.NotReady, "engine: forest not ready")
		}
		e.f = forest.New(e.cfg.NumLabels)
		e.f.Unified = true
		if loadErr := e.f.Load(e.idx, e.cfg.NumTrees); loadErr != nil {
			return "", false, loadErr
		}
	}

	packed := e.categorize.CategorizeSample(features)
	feature := func(j int) uint8 { return packed.Get(j) }
	predicted := e.f.Predict(feature, e.cfg.UnityThreshold)

	rawFeatures := make([]uint8, len(features))
	for j := range rawFeatures {
		rawFeatures[j] = packed.Get(j)
	}
	e.pending.RecordPrediction(rawFeatures, predicted)

	if predicted == forest.Unknown {
		return "", false, nil
	}
	return e.categorize.OriginalLabel(predicted), true, nil
}

// RecordActual threads a delayed ground-truth label back to the
// PendingFeedback buffer. nowMS is the caller's wall-clock reading.
func (e *Engine) RecordActual(label uint8, nowMS int64) {
	e.pending.RecordActual(label, nowMS)
}

// FlushPending writes every resolved (features, actual) pair into the
// base dataset and the inference log.
func (e *Engine) FlushPending() (feedback.FlushResult, error) {
	base := dataset.New(e.store)
	if err := base.Init(e.idx.Path(resource.SuffixBaseDataBin), uint16(e.cfg.NumFeatures)); err != nil {
		return feedback.FlushResult{}, err
	}
	if err := base.Load(); err != nil {
		return feedback.FlushResult{}, err
	}

	result, err := feedback.Flush(e.store, base, e.idx.Path(resource.SuffixInferenceLog), e.cfg, e.pending)
	if err != nil {
		base.Release(false)
		return result, err
	}

	if err := base.Release(false); err != nil {
		return result, err
	}
	e.idx.Set(resource.InferenceLog)

	if err := mlconfig.Save(e.store, e.idx.Path(resource.SuffixConfig), e.cfg); err != nil {
		return result, err
	}
	e.idx.Set(resource.Config)

	return result, nil
}

// Rename cascades a model rename across every artifact.
func (e *Engine) Rename(newName string) error {
	return e.idx.Rename(newName, MaxTreeFiles)
}

// ModelName returns the engine's current model name.
func (e *Engine) ModelName() string { return e.idx.ModelName() }
