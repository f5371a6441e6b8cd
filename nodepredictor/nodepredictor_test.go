// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nodepredictor_test

import (
	"math"
	"reflect"
	"runtime/debug"
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/internal/memstore"
	"github.com/viettran-edgeAI/mcu-forest/nodepredictor"
)

func assert(t *testing.T, exp, got interface{}, equal bool) {
	if reflect.DeepEqual(exp, got) != equal {
		debug.PrintStack()
		t.Fatalf("\n"+
			">>> Expecting '%v'\n"+
			"          got '%v'\n", exp, got)
	}
}

func linearRow(ms, md int) nodepredictor.Row {
	return nodepredictor.Row{MinSplit: ms, MaxDepth: md, NumNodes: 10 + 5*ms + 3*md}
}

func TestRetrainRecoversSlopes(t *testing.T) {
	p := nodepredictor.New()
	rows := []nodepredictor.Row{
		linearRow(2, 4), linearRow(6, 4), linearRow(2, 10),
		linearRow(6, 10), linearRow(2, 7), linearRow(6, 7),
	}
	for _, r := range rows {
		p.AppendRow(r)
	}
	p.Retrain()

	if !p.Trained() {
		t.Fatal("expected trained predictor")
	}
	if p.Accuracy() < 85 {
		t.Fatalf("expected accuracy >= 85, got %d", p.Accuracy())
	}

	est := float64(p.Estimate(2, 4))
	want := 32.0
	if math.Abs(est-want)/want > 0.15 {
		t.Fatalf("estimate(2,4)=%v too far from %v", est, want)
	}
}

func TestEstimateFallsBackUntrained(t *testing.T) {
	p := nodepredictor.New()
	v := p.Estimate(2, 4)
	if v == 0 {
		t.Fatal("expected nonzero heuristic estimate")
	}
}

func TestQueuePeakCapped(t *testing.T) {
	p := nodepredictor.New()
	for i := 0; i < 6; i++ {
		p.AppendRow(linearRow(2+i, 10))
	}
	p.Retrain()
	peak := p.QueuePeak(2, 10)
	if peak > 120 {
		t.Fatalf("queue peak %d exceeds cap", peak)
	}
}

func TestLogRoundTrip(t *testing.T) {
	store := memstore.New()
	p := nodepredictor.New()
	p.AppendRow(linearRow(2, 4))
	p.AppendRow(linearRow(6, 10))
	if err := p.SaveLog(store, "/m_node_log.csv"); err != nil {
		t.Fatal(err)
	}

	loaded, err := nodepredictor.LoadLog(store, "/m_node_log.csv")
	if err != nil {
		t.Fatal(err)
	}
	loaded.Retrain()
	assert(t, true, loaded.Trained(), true)
}

func TestCoeffRoundTrip(t *testing.T) {
	store := memstore.New()
	p := nodepredictor.New()
	for i := 0; i < 6; i++ {
		p.AppendRow(linearRow(2+i%3, 4+i))
	}
	p.Retrain()
	if err := p.Save(store, "/m_node_pred.bin"); err != nil {
		t.Fatal(err)
	}

	loaded, err := nodepredictor.Load(store, "/m_node_pred.bin")
	if err != nil {
		t.Fatal(err)
	}
	assert(t, p.Trained(), loaded.Trained(), true)
	assert(t, p.Accuracy(), loaded.Accuracy(), true)
	assert(t, p.Estimate(3, 5), loaded.Estimate(3, 5), true)
}
