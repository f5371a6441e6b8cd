// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resource_test

import (
	"reflect"
	"runtime/debug"
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/internal/memstore"
	"github.com/viettran-edgeAI/mcu-forest/resource"
)

func assert(t *testing.T, exp, got interface{}, equal bool) {
	if reflect.DeepEqual(exp, got) != equal {
		debug.PrintStack()
		t.Fatalf("\n"+
			">>> Expecting '%v'\n"+
			"          got '%v'\n", exp, got)
	}
}

func touch(t *testing.T, store *memstore.Store, path, content string) {
	f, err := store.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func TestReadinessFlags(t *testing.T) {
	store := memstore.New()
	touch(t, store, "/m_nml.bin", "x")
	touch(t, store, "/m_ctg.csv", "x")

	idx := resource.New(store, "m")
	idx.Scan(10)

	assert(t, true, idx.ReadyForTraining(), true)
	assert(t, false, idx.ReadyForInference(), true)

	touch(t, store, "/m_forest.bin", "x")
	idx.Scan(10)
	assert(t, true, idx.ReadyForInference(), true)
}

func TestScanSetsNodePredictorLogFlag(t *testing.T) {
	store := memstore.New()
	touch(t, store, "/m_node_log.csv", "min_split,max_depth,total_nodes\n")

	idx := resource.New(store, "m")
	idx.Scan(10)

	assert(t, true, idx.Has(resource.NodePredictorLog), true)
}

func TestRenameCascade(t *testing.T) {
	store := memstore.New()
	touch(t, store, "/m_nml.bin", "data")
	touch(t, store, "/m_ctg.csv", "ctg")
	touch(t, store, "/m_forest.bin", "forest")
	touch(t, store, "/m_tree_0.bin", "tree0")

	idx := resource.New(store, "m")
	idx.Scan(10)

	if err := idx.Rename("n", 10); err != nil {
		t.Fatal(err)
	}

	assert(t, false, store.Exists("/m_nml.bin"), true)
	assert(t, false, store.Exists("/m_forest.bin"), true)
	assert(t, false, store.Exists("/m_tree_0.bin"), true)
	assert(t, true, store.Exists("/n_nml.bin"), true)
	assert(t, true, store.Exists("/n_forest.bin"), true)
	assert(t, true, store.Exists("/n_tree_0.bin"), true)
	assert(t, "n", idx.ModelName(), true)
}
