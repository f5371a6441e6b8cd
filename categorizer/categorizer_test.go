// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package categorizer_test

import (
	"reflect"
	"runtime/debug"
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/categorizer"
	"github.com/viettran-edgeAI/mcu-forest/internal/memstore"
)

func assert(t *testing.T, exp, got interface{}, equal bool) {
	if reflect.DeepEqual(exp, got) != equal {
		debug.PrintStack()
		t.Fatalf("\n"+
			">>> Expecting '%v'\n"+
			"          got '%v'\n", exp, got)
	}
}

const table = "CTG2,3,4,2,1,1\n" +
	"L,0,negative\n" +
	"L,1,positive\n" +
	"P,0,3,1,2,3\n" +
	"DF\n" +
	"CS,0\n" +
	"DC,2,5,10\n"

func writeTable(t *testing.T, content string) (*memstore.Store, string) {
	store := memstore.New()
	f, err := store.Create("/m_ctg.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return store, "/m_ctg.csv"
}

func TestLoadAndCategorize(t *testing.T) {
	store, path := writeTable(t, table)
	tbl, err := categorizer.Load(store, path)
	if err != nil {
		t.Fatal(err)
	}

	assert(t, 3, tbl.NumFeatures, true)
	assert(t, 4, tbl.GroupsPerFeature, true)

	// DF: clamp floor(x) into [0,3].
	assert(t, uint8(0), tbl.CategorizeFeature(0, 0.4), true)
	assert(t, uint8(3), tbl.CategorizeFeature(0, 99), true)

	// CS: thresholds [1,2,3], scale=1.
	assert(t, uint8(0), tbl.CategorizeFeature(1, 0.4), true)
	assert(t, uint8(3), tbl.CategorizeFeature(1, 10), true)

	// DC: values [5,10].
	assert(t, uint8(0), tbl.CategorizeFeature(2, 5), true)
	assert(t, uint8(1), tbl.CategorizeFeature(2, 10), true)
	assert(t, uint8(0), tbl.CategorizeFeature(2, 999), true)

	assert(t, "negative", tbl.OriginalLabel(0), true)
	assert(t, uint8(1), tbl.NormalizedLabel("positive"), true)
	assert(t, uint8(255), tbl.NormalizedLabel("unknown"), true)
}

func TestMalformedRowCountRejected(t *testing.T) {
	bad := "CTG2,1,4,1,0,1\n" +
		"L,0,a\n" +
		"DC,3,1,2\n" // declares 3 values but supplies 2

	store, path := writeTable(t, bad)
	if _, err := categorizer.Load(store, path); err == nil {
		t.Fatal("expected MalformedTable error")
	}
}

func TestCategorizeSample(t *testing.T) {
	store, path := writeTable(t, table)
	tbl, err := categorizer.Load(store, path)
	if err != nil {
		t.Fatal(err)
	}
	v := tbl.CategorizeSample([]float64{2, 2, 10})
	assert(t, 3, v.Size(), true)
	assert(t, uint8(2), v.Get(0), true)
}
