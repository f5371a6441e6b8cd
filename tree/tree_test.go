// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tree_test

import (
	"reflect"
	"runtime/debug"
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/dataset"
	"github.com/viettran-edgeAI/mcu-forest/internal/memstore"
	"github.com/viettran-edgeAI/mcu-forest/prng"
	"github.com/viettran-edgeAI/mcu-forest/tree"
)

func assert(t *testing.T, exp, got interface{}, equal bool) {
	if reflect.DeepEqual(exp, got) != equal {
		debug.PrintStack()
		t.Fatalf("\n"+
			">>> Expecting '%v'\n"+
			"          got '%v'\n", exp, got)
	}
}

func buildTinyDataset(t *testing.T) *dataset.Dataset {
	store := memstore.New()
	d, err := dataset.CreateEmpty(store, "/tiny_nml.bin", 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}

	samples := make([]dataset.Sample, 10)
	for i := 0; i < 5; i++ {
		samples[i] = dataset.NewSample(0, []uint8{0, 0, 0, 0})
	}
	for i := 5; i < 10; i++ {
		samples[i] = dataset.NewSample(1, []uint8{3, 3, 3, 3})
	}
	if _, err := d.Append(samples, true); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestTinyClassificationSingleSplit(t *testing.T) {
	d := buildTinyDataset(t)
	ids := make([]uint16, 10)
	for i := range ids {
		ids[i] = uint16(i)
	}

	b := &tree.Builder{
		DS:                d,
		NumLabels:         2,
		MinSplit:          2,
		MaxDepth:          3,
		UseGini:           true,
		ImpurityThreshold: 0,
		RNG:               prng.NewFromSeed(42),
	}
	nodes := b.Build(ids)

	assert(t, false, nodes[0].IsLeaf(), true)
	assert(t, true, nodes[nodes[0].LeftChild()].IsLeaf(), true)
	assert(t, true, nodes[nodes[0].RightChild()].IsLeaf(), true)

	feature0 := func(j int) uint8 { return 0 }
	feature3 := func(j int) uint8 { return 3 }
	assert(t, uint8(0), tree.Classify(nodes, feature0), true)
	assert(t, uint8(1), tree.Classify(nodes, feature3), true)
}

func TestTreeBounds(t *testing.T) {
	d := buildTinyDataset(t)
	ids := make([]uint16, 10)
	for i := range ids {
		ids[i] = uint16(i)
	}
	b := &tree.Builder{
		DS: d, NumLabels: 2, MinSplit: 2, MaxDepth: 5, UseGini: true,
		RNG: prng.NewFromSeed(1),
	}
	nodes := b.Build(ids)

	if len(nodes) > tree.MaxNodesPerTree {
		t.Fatalf("node count %d exceeds cap", len(nodes))
	}
	if tree.Depth(nodes) > 5 {
		t.Fatalf("depth %d exceeds max_depth", tree.Depth(nodes))
	}
	for _, n := range nodes {
		if n.IsLeaf() && n.Label() >= 2 {
			t.Fatalf("leaf label %d out of range", n.Label())
		}
	}
}

func TestBFSRightChildInvariant(t *testing.T) {
	d := buildTinyDataset(t)
	ids := make([]uint16, 10)
	for i := range ids {
		ids[i] = uint16(i)
	}
	b := &tree.Builder{DS: d, NumLabels: 2, MinSplit: 1, MaxDepth: 4, UseGini: true, RNG: prng.NewFromSeed(3)}
	nodes := b.Build(ids)
	for _, n := range nodes {
		if !n.IsLeaf() {
			assert(t, n.LeftChild()+1, n.RightChild(), true)
		}
	}
}

func TestEmptyIDsProduceNoNodes(t *testing.T) {
	d := buildTinyDataset(t)
	b := &tree.Builder{DS: d, NumLabels: 2, MinSplit: 1, MaxDepth: 4, UseGini: true, RNG: prng.NewFromSeed(3)}
	nodes := b.Build(nil)
	assert(t, 0, len(nodes), true)
}
