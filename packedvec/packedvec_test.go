// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package packedvec_test

import (
	"reflect"
	"runtime/debug"
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/packedvec"
)

func assert(t *testing.T, exp, got interface{}, equal bool) {
	if reflect.DeepEqual(exp, got) != equal {
		debug.PrintStack()
		t.Fatalf("\n"+
			">>> Expecting '%v'\n"+
			"          got '%v'\n", exp, got)
	}
}

func TestRoundTrip(t *testing.T) {
	xs := []uint8{0, 1, 2, 3, 1, 0, 3, 2, 1}
	v := packedvec.New()
	for _, x := range xs {
		v.PushBack(x)
	}

	assert(t, len(xs), v.Size(), true)
	for i, x := range xs {
		assert(t, x, v.Get(i), true)
	}
}

func TestOutOfRangeIsSafe(t *testing.T) {
	v := packedvec.NewWithSize(4)
	assert(t, uint8(0), v.Get(10), true)
	v.Set(10, 3) // must not panic or corrupt
	assert(t, uint8(0), v.Get(3), true)
}

func TestFitShrinksBacking(t *testing.T) {
	v := packedvec.NewWithSize(100)
	v.Resize(2)
	v.Fit()
	assert(t, 1, len(v.Bytes()), true)
}

func TestResizeZerosNewRange(t *testing.T) {
	v := packedvec.NewWithSize(4)
	v.Set(0, 3)
	v.Set(1, 3)
	v.Resize(1)
	v.Resize(4)
	assert(t, uint8(0), v.Get(1), true)
}
