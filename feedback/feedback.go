// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package feedback closes the loop between a prediction the forest made
in the field and the ground truth that arrives for it later, often long
after the prediction itself. Buffer pairs each prediction with its
eventual actual label, flushes confirmed pairs into the base dataset and
a capped on-disk inference log, and pads in "unknown" entries for
predictions nobody ever got around to confirming, so a slow or absent
operator can't stall the buffer indefinitely.
*/
package feedback

import (
	"encoding/binary"
	"io"

	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/dataset"
	"github.com/viettran-edgeAI/mcu-forest/mlconfig"
	"github.com/viettran-edgeAI/mcu-forest/mlerror"
	"github.com/viettran-edgeAI/mcu-forest/objectstore"
)

// Unanswered is the sentinel actual-label value meaning "no ground truth
// arrived for this prediction".
const Unanswered uint8 = 255

// InferenceLogMagic is "INFL" little-endian.
const InferenceLogMagic uint32 = 0x4C464E49

// MaxInferLogBytes bounds the inference log file; once exceeded, Flush
// trims it down to the most recent half of its pair budget.
const MaxInferLogBytes = 2048

// inferLogHeaderBytes is the fixed 8-byte header: magic u32 + count u32.
const inferLogHeaderBytes = 8

// Buffer owns the ordered predicted-sample / actual-label pairing.
// samples[i] corresponds to actuals[i].
type Buffer struct {
	samples      []dataset.Sample
	actuals      []uint8
	cursor       int // index of the next entry RecordActual will resolve
	maxWaitMS    int64
	lastRecordMS int64
	hasLast      bool
}

// New returns an empty Buffer. maxWaitMS is the elapsed-time threshold
// past which record_actual pads in unanswered entries.
func New(maxWaitMS int64) *Buffer {
	return &Buffer{maxWaitMS: maxWaitMS}
}

// RecordPrediction appends a new pending prediction with no actual yet.
func (b *Buffer) RecordPrediction(features []uint8, predicted uint8) {
	b.samples = append(b.samples, dataset.NewSample(predicted, features))
	b.actuals = append(b.actuals, Unanswered)
}

// Len reports the number of pending (sample, actual) pairs.
func (b *Buffer) Len() int { return len(b.samples) }

// RecordActual records the ground-truth label for the oldest
// not-yet-resolved entry, first skipping forward over entries the
// operator took too long to confirm: if more than max_wait_time ms have
// elapsed since the previous recording, elapsed/max_wait_time entries
// are left Unanswered and the cursor advances past them before this
// label is recorded. nowMS is the caller's wall-clock reading in
// milliseconds, threaded in rather than read from time.Now so the
// buffer stays deterministic under test.
func (b *Buffer) RecordActual(label uint8, nowMS int64) {
	if b.hasLast && b.maxWaitMS > 0 {
		elapsed := nowMS - b.lastRecordMS
		if elapsed > b.maxWaitMS {
			padCount := int(elapsed / b.maxWaitMS)
			for i := 0; i < padCount && b.cursor < len(b.actuals); i++ {
				b.actuals[b.cursor] = Unanswered
				b.cursor++
			}
			glog.V(2).Infof("feedback: padded %d unanswered entries after %dms gap", padCount, elapsed)
		}
	}

	if b.cursor < len(b.actuals) {
		b.actuals[b.cursor] = label
		b.cursor++
	}
	b.lastRecordMS = nowMS
	b.hasLast = true
}

// Clear empties both buffers and resets the resolution cursor.
func (b *Buffer) Clear() {
	b.samples = nil
	b.actuals = nil
	b.cursor = 0
}

// FlushResult summarizes what a Flush did, for the caller to log or test.
type FlushResult struct {
	Appended       int
	InferencePairs int
	LogTrimmed     bool
}

// Flush iterates the buffer and, for each entry with a known actual,
// appends (features, actual) to the base dataset (honoring
// cfg.ExtendBaseData), appends (predicted, actual) to the inference log,
// and updates cfg's sample-count bookkeeping. Both buffers are cleared on
// return regardless of partial failure, since a flush is a single
// best-effort sweep rather than an all-or-nothing transaction.
func Flush(store objectstore.Store, base *dataset.Dataset, inferLogPath string, cfg *mlconfig.Config, b *Buffer) (FlushResult, error) {
	var result FlushResult

	var confirmed []dataset.Sample
	var pairs [][2]uint8
	for i, actual := range b.actuals {
		if actual >= 255 {
			continue
		}
		features := make([]uint8, base.NumFeatures())
		for j := range features {
			features[j] = sampleFeature(b.samples[i], j)
		}
		confirmed = append(confirmed, dataset.NewSample(actual, features))
		pairs = append(pairs, [2]uint8{b.samples[i].Label, actual})
	}
	b.Clear()

	if len(confirmed) == 0 {
		return result, nil
	}

	overwritten, err := base.Append(confirmed, cfg.ExtendBaseData)
	if err != nil {
		return result, err
	}
	result.Appended = len(confirmed)

	if cfg.ExtendBaseData {
		for _, s := range confirmed {
			growSamplesPerLabel(cfg, int(s.Label))
			cfg.SamplesPerLabel[s.Label]++
		}
		cfg.NumSamples += len(confirmed)
	} else {
		for _, lbl := range overwritten {
			if int(lbl) < len(cfg.SamplesPerLabel) {
				cfg.SamplesPerLabel[lbl]--
			}
		}
		for _, s := range confirmed {
			growSamplesPerLabel(cfg, int(s.Label))
			cfg.SamplesPerLabel[s.Label]++
		}
		// Ring-overwrite replaces existing records in place: the total
		// sample count doesn't change, only which labels it's split across.
	}

	if cfg.NumSamples > mlconfig.MaxNumSamples {
		cfg.NumSamples = mlconfig.MaxNumSamples
	}

	if err := appendInferencePairs(store, inferLogPath, pairs); err != nil {
		return result, err
	}
	result.InferencePairs = len(pairs)

	trimmed, err := trimInferenceLogIfNeeded(store, inferLogPath)
	if err != nil {
		return result, err
	}
	result.LogTrimmed = trimmed

	return result, nil
}

func growSamplesPerLabel(cfg *mlconfig.Config, label int) {
	for len(cfg.SamplesPerLabel) <= label {
		cfg.SamplesPerLabel = append(cfg.SamplesPerLabel, 0)
	}
}

func sampleFeature(s dataset.Sample, j int) uint8 {
	if s.Features == nil {
		return 0
	}
	return s.Features.Get(j)
}

// appendInferencePairs reads the existing log (creating one with a fresh
// header if absent), appends pairs, and rewrites it in full.
func appendInferencePairs(store objectstore.Store, path string, pairs [][2]uint8) error {
	existing, err := readInferenceLog(store, path)
	if err != nil && !isErrNotExist(err) {
		return err
	}
	existing = append(existing, pairs...)
	return writeInferenceLog(store, path, existing)
}

func readInferenceLog(store objectstore.Store, path string) ([][2]uint8, error) {
	if !store.Exists(path) {
		return nil, errNotExist{}
	}
	f, err := store.Open(path)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "feedback: open inference log", err)
	}
	defer f.Close()

	var hdr [inferLogHeaderBytes]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, mlerror.Wrap(mlerror.Truncated, "feedback: short inference log header", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != InferenceLogMagic {
		return nil, mlerror.New(mlerror.HeaderMismatch, "feedback: bad inference log magic")
	}
	count := binary.LittleEndian.Uint32(hdr[4:8])

	pairs := make([][2]uint8, 0, count)
	var pair [2]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(f, pair[:]); err != nil {
			break
		}
		pairs = append(pairs, [2]uint8{pair[0], pair[1]})
	}
	return pairs, nil
}

type errNotExist struct{}

func (errNotExist) Error() string { return "feedback: inference log does not exist" }

func writeInferenceLog(store objectstore.Store, path string, pairs [][2]uint8) (err error) {
	f, cerr := store.Create(path)
	if cerr != nil {
		return mlerror.Wrap(mlerror.IoError, "feedback: create inference log", cerr)
	}
	defer func() {
		closeErr := f.Close()
		if err != nil {
			if rmErr := store.Remove(path); rmErr != nil {
				glog.Warningf("feedback: cleanup remove %s: %v", path, rmErr)
			}
			return
		}
		if closeErr != nil {
			err = mlerror.Wrap(mlerror.IoError, "feedback: close inference log", closeErr)
		}
	}()

	hdr := make([]byte, inferLogHeaderBytes)
	binary.LittleEndian.PutUint32(hdr[0:4], InferenceLogMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(pairs)))
	if _, err = f.Write(hdr); err != nil {
		err = mlerror.Wrap(mlerror.IoError, "feedback: write inference log header", err)
		return
	}
	body := make([]byte, len(pairs)*2)
	for i, p := range pairs {
		body[i*2] = p[0]
		body[i*2+1] = p[1]
	}
	if _, err = f.Write(body); err != nil {
		err = mlerror.Wrap(mlerror.IoError, "feedback: write inference log body", err)
	}
	return
}

// trimInferenceLogIfNeeded rewrites the log keeping only the most recent
// half of the pair budget when the file would exceed MaxInferLogBytes.
func trimInferenceLogIfNeeded(store objectstore.Store, path string) (bool, error) {
	pairs, err := readInferenceLog(store, path)
	if err != nil {
		if isErrNotExist(err) {
			return false, nil
		}
		return false, err
	}

	size := inferLogHeaderBytes + len(pairs)*2
	if size <= MaxInferLogBytes {
		return false, nil
	}

	maxPairs := (MaxInferLogBytes - inferLogHeaderBytes) / 2
	keep := maxPairs / 2
	if keep > len(pairs) {
		keep = len(pairs)
	}
	trimmed := pairs[len(pairs)-keep:]

	if err := writeInferenceLog(store, path, trimmed); err != nil {
		return false, err
	}
	glog.V(1).Infof("feedback: trimmed inference log from %d to %d pairs", len(pairs), len(trimmed))
	return true, nil
}

func isErrNotExist(err error) bool {
	_, ok := err.(errNotExist)
	return ok
}
