// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Command forestctl is an off-target smoke-test harness for the engine
package: it provisions a small synthetic dataset and categorizer table on
a plain filesystem, opens an Engine against them, trains, and runs a
handful of predictions. It is never built for or shipped to the
microcontroller target — the real host wires Engine against its own
flash/SD-backed objectstore.Store.
*/
package main

import (
	"flag"
	"fmt"

	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/dataset"
	"github.com/viettran-edgeAI/mcu-forest/engine"
	"github.com/viettran-edgeAI/mcu-forest/internal/fsstore"
	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
	"github.com/viettran-edgeAI/mcu-forest/resource"
)

var (
	dir       = flag.String("dir", "./forestctl-workspace", "filesystem directory backing the object store")
	modelName = flag.String("model", "demo", "model name to provision and train")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	store, err := fsstore.New(*dir)
	if err != nil {
		glog.Exitf("forestctl: open workspace: %v", err)
	}

	idx := resource.New(store, *modelName)
	idx.Scan(0)
	if !idx.Has(resource.Categorizer) {
		if err := provisionCategorizer(store, idx); err != nil {
			glog.Exitf("forestctl: provision categorizer: %v", err)
		}
	}
	if err := provisionDataset(store, idx); err != nil {
		glog.Exitf("forestctl: provision dataset: %v", err)
	}

	eng, err := engine.Open(store, *modelName)
	if err != nil {
		glog.Exitf("forestctl: open engine: %v", err)
	}

	cfg := eng.Config()
	cfg.NumTrees = 15

	score, err := eng.Train()
	if err != nil {
		glog.Exitf("forestctl: train: %v", err)
	}
	fmt.Printf("trained %q: combined score %.4f\n", *modelName, score)

	samples := [][]float64{{0, 0, 0, 0}, {3, 3, 3, 3}, {1, 1, 1, 1}}
	for _, xs := range samples {
		label, ok, err := eng.Predict(xs)
		if err != nil {
			glog.Exitf("forestctl: predict: %v", err)
		}
		if !ok {
			fmt.Printf("predict(%v) = <below certainty threshold>\n", xs)
			continue
		}
		fmt.Printf("predict(%v) = %s\n", xs, label)
	}

	eng.RecordActual(0, 1000)
	eng.RecordActual(1, 1500)
	result, err := eng.FlushPending()
	if err != nil {
		glog.Exitf("forestctl: flush: %v", err)
	}
	fmt.Printf("flushed %d pairs into the base dataset (log trimmed=%v)\n", result.Appended, result.LogTrimmed)
}

// provisionCategorizer writes a trivial discrete-full-range table: 4
// features, 4 bins each, 2 labels, no shared patterns.
func provisionCategorizer(store *fsstore.Store, idx *resource.Index) error {
	f, err := store.Create(idx.Path(resource.SuffixCategorizer))
	if err != nil {
		return err
	}
	defer f.Close()

	lines := []string{
		"CTG2,4,4,2,0,1",
		"L,0,idle",
		"L,1,active",
		"DF",
		"DF",
		"DF",
		"DF",
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return nil
}

// provisionDataset writes a small separable base dataset matching the
// categorizer's DF binning (raw values already fall in [0, 3]).
func provisionDataset(store *fsstore.Store, idx *resource.Index) error {
	path := idx.Path(resource.SuffixBaseDataBin)
	if store.Exists(path) {
		return nil
	}

	d, err := dataset.CreateEmpty(store, path, 4)
	if err != nil {
		return err
	}
	if err := d.Load(); err != nil {
		return err
	}

	samples := make([]dataset.Sample, 0, 60)
	for i := 0; i < 30; i++ {
		samples = append(samples, dataset.NewSample(0, []uint8{0, 0, 0, 0}))
	}
	for i := 0; i < 30; i++ {
		samples = append(samples, dataset.NewSample(1, []uint8{3, 3, 3, 3}))
	}
	if _, err := d.Append(samples, true); err != nil {
		return err
	}

	dp := &mlconfig.DataParams{
		QuantizationCoefficient: 1,
		MaxFeatureValue:         3,
		FeaturesPerByte:         4,
		NumFeatures:             4,
		NumSamples:              d.NumSamples(),
		NumLabels:               2,
		SamplesPerLabel:         []int{30, 30},
	}
	if err := mlconfig.SaveDataParams(store, idx.Path(resource.SuffixDPStats), dp); err != nil {
		return err
	}

	return d.Release(false)
}
