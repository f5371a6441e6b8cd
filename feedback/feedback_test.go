// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feedback_test

import (
	"testing"

	"github.com/viettran-edgeAI/mcu-forest/dataset"
	"github.com/viettran-edgeAI/mcu-forest/feedback"
	"github.com/viettran-edgeAI/mcu-forest/internal/memstore"
	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
)

func newEmptyDataset(t *testing.T, numFeatures int) (*dataset.Dataset, *memstore.Store) {
	store := memstore.New()
	d, err := dataset.CreateEmpty(store, "/m_nml.bin", uint16(numFeatures))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}
	return d, store
}

func TestRecordActualOrderingAndPadding(t *testing.T) {
	b := feedback.New(1000)
	b.RecordPrediction([]uint8{0, 0}, 0)
	b.RecordPrediction([]uint8{1, 1}, 1)
	b.RecordPrediction([]uint8{2, 2}, 0)

	b.RecordActual(0, 0)
	// A 3000ms gap with max_wait_time=1000 pads 3 unanswered entries
	// before this call's label would land — consuming both remaining
	// pending slots, so the explicit label 5 has nowhere left to go.
	b.RecordActual(5, 3000)

	d, store := newEmptyDataset(t, 2)
	cfg := mlconfig.Default()
	cfg.ExtendBaseData = true

	result, err := feedback.Flush(store, d, "/m_infer_log.bin", cfg, b)
	if err != nil {
		t.Fatal(err)
	}
	if result.Appended != 1 {
		t.Fatalf("Appended = %d, want 1 (only the first entry got a real actual)", result.Appended)
	}
}

func TestRecordActualNoGapFillsInOrder(t *testing.T) {
	b := feedback.New(1000)
	b.RecordPrediction([]uint8{0, 0}, 0)
	b.RecordPrediction([]uint8{1, 1}, 1)

	b.RecordActual(0, 0)
	b.RecordActual(1, 500)

	d, store := newEmptyDataset(t, 2)
	cfg := mlconfig.Default()
	cfg.ExtendBaseData = true

	result, err := feedback.Flush(store, d, "/m_infer_log.bin", cfg, b)
	if err != nil {
		t.Fatal(err)
	}
	if result.Appended != 2 {
		t.Fatalf("Appended = %d, want 2", result.Appended)
	}
	if b.Len() != 0 {
		t.Fatalf("buffer should be cleared after flush, Len() = %d", b.Len())
	}
}

func TestFlushSkipsUnanswered(t *testing.T) {
	b := feedback.New(1000)
	b.RecordPrediction([]uint8{0, 0}, 0)
	b.RecordPrediction([]uint8{1, 1}, 1)
	b.RecordActual(0, 0) // only the first entry gets a real actual

	d, store := newEmptyDataset(t, 2)
	cfg := mlconfig.Default()
	cfg.ExtendBaseData = true

	result, err := feedback.Flush(store, d, "/m_infer_log.bin", cfg, b)
	if err != nil {
		t.Fatal(err)
	}
	if result.Appended != 1 {
		t.Fatalf("Appended = %d, want 1", result.Appended)
	}
}

func TestFlushUpdatesSamplesPerLabel(t *testing.T) {
	b := feedback.New(1000)
	b.RecordPrediction([]uint8{0, 0}, 0)
	b.RecordPrediction([]uint8{1, 1}, 0)
	b.RecordActual(2, 0)
	b.RecordActual(2, 10)

	d, store := newEmptyDataset(t, 2)
	cfg := mlconfig.Default()
	cfg.ExtendBaseData = true
	cfg.SamplesPerLabel = []int{0, 0, 0}

	if _, err := feedback.Flush(store, d, "/m_infer_log.bin", cfg, b); err != nil {
		t.Fatal(err)
	}
	if cfg.SamplesPerLabel[2] != 2 {
		t.Fatalf("SamplesPerLabel[2] = %d, want 2", cfg.SamplesPerLabel[2])
	}
}

func TestFlushAppendUpdatesNumSamples(t *testing.T) {
	b := feedback.New(1000)
	b.RecordPrediction([]uint8{0, 0}, 0)
	b.RecordPrediction([]uint8{1, 1}, 0)
	b.RecordActual(2, 0)
	b.RecordActual(2, 10)

	d, store := newEmptyDataset(t, 2)
	cfg := mlconfig.Default()
	cfg.ExtendBaseData = true
	cfg.NumSamples = 5
	cfg.SamplesPerLabel = []int{0, 0, 5}

	if _, err := feedback.Flush(store, d, "/m_infer_log.bin", cfg, b); err != nil {
		t.Fatal(err)
	}
	if cfg.NumSamples != 7 {
		t.Fatalf("NumSamples = %d, want 7 (5 existing + 2 newly confirmed)", cfg.NumSamples)
	}
	sum := 0
	for _, n := range cfg.SamplesPerLabel {
		sum += n
	}
	if sum != cfg.NumSamples {
		t.Fatalf("SamplesPerLabel sums to %d, want it to match NumSamples %d", sum, cfg.NumSamples)
	}
}

func TestFlushOverwriteLeavesNumSamplesUnchanged(t *testing.T) {
	b := feedback.New(1000)
	b.RecordPrediction([]uint8{0, 0}, 0)
	b.RecordActual(1, 0)

	d, store := newEmptyDataset(t, 2)
	cfg := mlconfig.Default()
	cfg.ExtendBaseData = false
	cfg.NumSamples = 3
	cfg.SamplesPerLabel = []int{3}

	if _, err := feedback.Flush(store, d, "/m_infer_log.bin", cfg, b); err != nil {
		t.Fatal(err)
	}
	if cfg.NumSamples != 3 {
		t.Fatalf("NumSamples = %d, want 3 unchanged (ring-overwrite doesn't grow the dataset)", cfg.NumSamples)
	}
}

func TestInferenceLogTrimKeepsMostRecentHalf(t *testing.T) {
	d, store := newEmptyDataset(t, 2)
	cfg := mlconfig.Default()
	cfg.ExtendBaseData = true

	// Each flush appends one pair. The 2048-byte cap holds 1020 pairs after
	// the 8-byte header, so the 1021st pair triggers a trim down to 510.
	const flushes = 1100
	trimmed := false
	for i := 0; i < flushes; i++ {
		b := feedback.New(1000)
		b.RecordPrediction([]uint8{0, 0}, 0)
		b.RecordActual(uint8(i%4), int64(i))
		result, err := feedback.Flush(store, d, "/m_infer_log.bin", cfg, b)
		if err != nil {
			t.Fatal(err)
		}
		if result.LogTrimmed {
			trimmed = true
		}
	}
	if !trimmed {
		t.Fatal("expected the inference log to be trimmed at least once")
	}

	if !store.Exists("/m_infer_log.bin") {
		t.Fatal("expected inference log to exist")
	}
	data, err := readAll(store, "/m_infer_log.bin")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) > feedback.MaxInferLogBytes {
		t.Fatalf("inference log size %d exceeds cap %d", len(data), feedback.MaxInferLogBytes)
	}
	// 510 pairs kept by the trim, plus one per flush after it.
	wantPairs := 510 + (flushes - 1021)
	if got := (len(data) - 8) / 2; got != wantPairs {
		t.Fatalf("inference log holds %d pairs, want %d", got, wantPairs)
	}
	if last := data[len(data)-1]; last != uint8((flushes-1)%4) {
		t.Fatalf("last stored actual = %d, want the most recent %d", last, (flushes-1)%4)
	}
}

func readAll(store *memstore.Store, path string) ([]byte, error) {
	f, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf []byte
	chunk := make([]byte, 256)
	for {
		n, err := f.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}
