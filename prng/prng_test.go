// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prng_test

import (
	"reflect"
	"runtime/debug"
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/prng"
)

func assert(t *testing.T, exp, got interface{}, equal bool) {
	if reflect.DeepEqual(exp, got) != equal {
		debug.PrintStack()
		t.Fatalf("\n"+
			">>> Expecting '%v'\n"+
			"          got '%v'\n", exp, got)
	}
}

func TestDeterministicSeed(t *testing.T) {
	a := prng.NewFromSeed(42)
	b := prng.NewFromSeed(42)

	for i := 0; i < 32; i++ {
		assert(t, a.Next(), b.Next(), true)
	}
}

func TestBoundedRange(t *testing.T) {
	s := prng.NewFromSeed(7)
	for i := 0; i < 1000; i++ {
		v := s.Bounded(5)
		if v >= 5 {
			t.Fatalf("Bounded(5) returned out-of-range value %d", v)
		}
	}
}

func TestDeriveSubstreamsDiffer(t *testing.T) {
	base := prng.NewFromSeed(1000)
	a := base.Derive(1, 0)
	b := base.Derive(2, 0)

	same := true
	for i := 0; i < 32; i++ {
		if a.Next() != b.Next() {
			same = false
			break
		}
	}
	assert(t, false, same, true)
}

func TestDeriveReproducible(t *testing.T) {
	base1 := prng.NewFromSeed(99)
	base2 := prng.NewFromSeed(99)

	a := base1.Derive(3, 5)
	b := base2.Derive(3, 5)

	for i := 0; i < 16; i++ {
		assert(t, a.Next(), b.Next(), true)
	}
}

func TestHashIDsOrderSensitive(t *testing.T) {
	h1 := prng.HashIDs([]uint16{1, 2, 3})
	h2 := prng.HashIDs([]uint16{1, 2, 3})
	h3 := prng.HashIDs([]uint16{3, 2, 1})

	assert(t, h1, h2, true)
	assert(t, h1, h3, false)
}
