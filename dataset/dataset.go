// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package dataset implements the chunked, packed sample container this
module trains and predicts against: a little-endian binary file of
(label, 2-bit-packed features) records, loaded into RAM as a sequence of
fixed-size chunks plus one contiguous label array.

The chunking is purely an allocation strategy. It avoids per-sample heap
overhead (no Sample object per row) and avoids the single multi-kilobyte
contiguous allocation a flat packedvec.Vec over the whole dataset would
require, which tends to fail pre-flight on a fragmented microcontroller
heap well before the equivalent chunked request would.
*/
package dataset

import (
	"encoding/binary"
	"io"

	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/mlerror"
	"github.com/viettran-edgeAI/mcu-forest/objectstore"
	"github.com/viettran-edgeAI/mcu-forest/packedvec"
)

// Hard platform caps this package enforces regardless of configured
// geometry.
const (
	MaxNumSamples     = 65535
	MaxNumFeatures     = 1023
	DefaultMaxBytes    = 150_000
	DefaultChunkBytes  = 8192
	DefaultMaxBatch    = 2048
)

// State is the lifecycle of a Dataset's in-memory content.
type State int

const (
	// Initialized: path and geometry known, no RAM populated.
	Initialized State = iota
	// Loaded: RAM populated, random access available.
	Loaded
	// Released: RAM dropped, file intact.
	Released
	// Purged: RAM dropped, file removed.
	Purged
)

// chunk holds the packed features of a contiguous run of samples.
type chunk struct {
	features *packedvec.Vec // len() == count*numFeatures 2-bit values
	count    int
}

// Dataset is the chunked, packed, on-disk-backed sample container.
type Dataset struct {
	store objectstore.Store
	path  string

	numFeatures uint16
	numSamples  uint32

	maxFileBytes  int
	maxChunkBytes int
	maxBatchBytes int

	samplesPerChunk int

	allocator objectstore.Allocator
	memStats  objectstore.MemStats

	state  State
	chunks []*chunk
	labels []uint8
}

// recordSize returns the on-disk byte size of one (label + packed
// features) record for the current geometry.
func recordSize(numFeatures uint16) int {
	return 1 + int((numFeatures+3)/4)
}

// New returns a Dataset bound to store, uninitialized.
func New(store objectstore.Store) *Dataset {
	return &Dataset{
		store:         store,
		maxFileBytes:  DefaultMaxBytes,
		maxChunkBytes: DefaultChunkBytes,
		maxBatchBytes: DefaultMaxBatch,
		allocator:     objectstore.HeapAllocator{},
		state:         Initialized,
	}
}

// Store returns the object store this dataset is bound to.
func (d *Dataset) Store() objectstore.Store { return d.store }

// SetAllocator overrides the default heap-backed Allocator used for Load's
// batch decode buffer. A target-specific implementation can supply its own
// static arena here.
func (d *Dataset) SetAllocator(a objectstore.Allocator) { d.allocator = a }

// SetMemStats supplies a MemStats so Load can refuse to decode a dataset
// that wouldn't fit in currently available heap, rather than discovering
// that partway through allocChunks.
func (d *Dataset) SetMemStats(m objectstore.MemStats) { d.memStats = m }

// Init sets geometry and path without touching disk.
func (d *Dataset) Init(path string, numFeatures uint16) error {
	if numFeatures == 0 || numFeatures > MaxNumFeatures {
		return mlerror.New(mlerror.CapacityExceeded, "num_features out of range")
	}
	d.path = path
	d.numFeatures = numFeatures
	d.samplesPerChunk = (8 * d.maxChunkBytes) / (int(numFeatures) * 2)
	if d.samplesPerChunk < 1 {
		d.samplesPerChunk = 1
	}
	d.state = Initialized
	return nil
}

// CreateEmpty writes a fresh zero-sample header for a new file at path and
// returns a Dataset Initialized with the given geometry — the on-disk
// counterpart of Init for a dataset that doesn't exist on disk yet.
func CreateEmpty(store objectstore.Store, path string, numFeatures uint16) (*Dataset, error) {
	d := New(store)
	if err := d.Init(path, numFeatures); err != nil {
		return nil, err
	}

	f, err := store.Create(path)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "dataset: create", err)
	}
	hdr := make([]byte, 6)
	binary.LittleEndian.PutUint16(hdr[4:6], numFeatures)
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, mlerror.Wrap(mlerror.IoError, "dataset: write header", err)
	}
	if err := f.Close(); err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "dataset: close", err)
	}
	return d, nil
}

// State returns the dataset's current lifecycle state.
func (d *Dataset) State() State { return d.state }

// NumSamples returns the number of samples known (on disk or in RAM).
func (d *Dataset) NumSamples() int { return int(d.numSamples) }

// NumFeatures returns the configured feature count.
func (d *Dataset) NumFeatures() int { return int(d.numFeatures) }

// Path returns the backing file path.
func (d *Dataset) Path() string { return d.path }

// chunkOf returns the chunk index and intra-chunk offset for sample i.
func (d *Dataset) chunkOf(i int) (chunkIdx, offset int) {
	return i / d.samplesPerChunk, i % d.samplesPerChunk
}

// allocChunks allocates empty chunks sized for numSamples samples.
func (d *Dataset) allocChunks() {
	n := int(d.numSamples)
	numChunks := (n + d.samplesPerChunk - 1) / d.samplesPerChunk
	d.chunks = make([]*chunk, numChunks)
	for c := 0; c < numChunks; c++ {
		count := d.samplesPerChunk
		if c == numChunks-1 {
			count = n - c*d.samplesPerChunk
		}
		d.chunks[c] = &chunk{
			features: packedvec.NewWithSize(count * int(d.numFeatures)),
			count:    count,
		}
	}
	d.labels = make([]uint8, n)
}

// Load reads the header, validates geometry, allocates chunks, and
// decodes records in batches of at most maxBatchBytes.
func (d *Dataset) Load() error {
	f, err := d.store.Open(d.path)
	if err != nil {
		return mlerror.Wrap(mlerror.IoError, "dataset: open", err)
	}
	defer f.Close()

	var hdr [6]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return mlerror.Wrap(mlerror.Truncated, "dataset: short header", err)
	}
	fileSamples := binary.LittleEndian.Uint32(hdr[0:4])
	fileFeatures := binary.LittleEndian.Uint16(hdr[4:6])

	if fileFeatures != d.numFeatures {
		return mlerror.New(mlerror.HeaderMismatch, "dataset: num_features disagrees with geometry")
	}

	rsize := recordSize(d.numFeatures)
	if d.memStats != nil {
		estimatedRAM := int64(fileSamples) * int64(rsize)
		if !preflightHeap(d.memStats.FreeHeap(), estimatedRAM) {
			return mlerror.New(mlerror.InsufficientMemory, "dataset: insufficient free heap to load dataset")
		}
	}

	d.numSamples = fileSamples
	d.allocChunks()

	recsPerBatch := d.maxBatchBytes / rsize
	if recsPerBatch < 1 {
		recsPerBatch = 1
	}
	batch := d.allocator.Alloc(recsPerBatch * rsize)
	if batch == nil {
		// Allocator refused the preferred batch size; fall back to
		// decoding one record at a time before giving up entirely.
		recsPerBatch = 1
		batch = d.allocator.Alloc(rsize)
		if batch == nil {
			return mlerror.New(mlerror.InsufficientMemory, "dataset: allocator cannot satisfy even a single-record batch")
		}
	}

	remaining := int(fileSamples)
	idx := 0
	for remaining > 0 {
		n := recsPerBatch
		if n > remaining {
			n = remaining
		}
		chunkBuf := batch[:n*rsize]
		if _, err := io.ReadFull(f, chunkBuf); err != nil {
			return mlerror.Wrap(mlerror.Truncated, "dataset: truncated records", err)
		}
		for r := 0; r < n; r++ {
			rec := chunkBuf[r*rsize : (r+1)*rsize]
			d.decodeRecord(idx, rec)
			idx++
		}
		remaining -= n

		// Natural suspension point between batch reads: a cooperative
		// scheduler can preempt here without losing decode progress.
		glog.V(2).Infof("dataset: loaded %d/%d samples", idx, fileSamples)
	}

	d.state = Loaded
	glog.V(1).Infof("dataset: loaded %s (%d samples, %d features)", d.path, d.numSamples, d.numFeatures)
	return nil
}

// preflightHeap mirrors treestore.PreflightHeap's safety margin for this
// package's own RAM footprint check; kept local so dataset doesn't need to
// import treestore just for one formula.
func preflightHeap(freeHeap, estimatedRAM int64) bool {
	return freeHeap >= estimatedRAM+8000
}

// decodeRecord unpacks one on-disk record into chunk/label storage at
// logical sample index i.
func (d *Dataset) decodeRecord(i int, rec []byte) {
	d.labels[i] = rec[0]
	c, off := d.chunkOf(i)
	ch := d.chunks[c]
	base := off * int(d.numFeatures)
	featBytes := rec[1:]
	for j := 0; j < int(d.numFeatures); j++ {
		b := featBytes[j/4]
		shift := uint(2 * (j % 4))
		ch.features.Set(base+j, (b>>shift)&0x3)
	}
}

// encodeRecord packs logical sample index i into an on-disk record.
func (d *Dataset) encodeRecord(i int, rec []byte) {
	rec[0] = d.labels[i]
	c, off := d.chunkOf(i)
	ch := d.chunks[c]
	base := off * int(d.numFeatures)
	featBytes := rec[1:]
	for j := range featBytes {
		featBytes[j] = 0
	}
	for j := 0; j < int(d.numFeatures); j++ {
		v := ch.features.Get(base + j)
		featBytes[j/4] |= v << uint(2*(j%4))
	}
}

// GetLabel returns the label of sample i, or 0 if out of range or not
// loaded.
func (d *Dataset) GetLabel(i int) uint8 {
	if d.state != Loaded || i < 0 || i >= int(d.numSamples) {
		return 0
	}
	return d.labels[i]
}

// GetFeature returns the j-th feature of sample i, or 0 if out of range
// or not loaded.
func (d *Dataset) GetFeature(i, j int) uint8 {
	if d.state != Loaded || i < 0 || i >= int(d.numSamples) || j < 0 || j >= int(d.numFeatures) {
		return 0
	}
	c, off := d.chunkOf(i)
	return d.chunks[c].features.Get(off*int(d.numFeatures) + j)
}

// writeAll rewrites the full file from current in-memory content.
func (d *Dataset) writeAll() error {
	f, err := d.store.Create(d.path)
	if err != nil {
		return mlerror.Wrap(mlerror.IoError, "dataset: create", err)
	}
	defer f.Close()

	var hdr [6]byte
	binary.LittleEndian.PutUint32(hdr[0:4], d.numSamples)
	binary.LittleEndian.PutUint16(hdr[4:6], d.numFeatures)
	if _, err := f.Write(hdr[:]); err != nil {
		return mlerror.Wrap(mlerror.IoError, "dataset: write header", err)
	}

	rsize := recordSize(d.numFeatures)
	rec := make([]byte, rsize)
	for i := 0; i < int(d.numSamples); i++ {
		d.encodeRecord(i, rec)
		if _, err := f.Write(rec); err != nil {
			return mlerror.Wrap(mlerror.IoError, "dataset: write record", err)
		}
	}
	return nil
}

// Release drops chunks and labels from RAM. If keepFile is false, current
// in-memory content is persisted back to disk first (this is also how a
// brand-new in-memory dataset is first materialized onto disk).
func (d *Dataset) Release(keepFile bool) error {
	if d.state != Loaded {
		return nil
	}
	if !keepFile {
		if err := d.writeAll(); err != nil {
			return err
		}
	}
	d.chunks = nil
	d.labels = nil
	d.state = Released
	return nil
}

// Purge drops RAM and deletes the backing file.
func (d *Dataset) Purge() error {
	d.chunks = nil
	d.labels = nil
	d.state = Purged
	if err := d.store.Remove(d.path); err != nil {
		glog.Warningf("dataset: purge remove %s: %v", d.path, err)
		return mlerror.Wrap(mlerror.IoError, "dataset: purge", err)
	}
	return nil
}

// LoadSubset copies the records named by the ascending id list from
// source's file into d, starting at destination index 0. source's RAM is
// optionally released for the duration (saveRAM) and its prior loaded
// state is restored on return.
func (d *Dataset) LoadSubset(source *Dataset, ids []uint16, saveRAM bool) error {
	wasLoaded := source.state == Loaded
	if saveRAM && wasLoaded {
		if err := source.Release(false); err != nil {
			return err
		}
	}
	defer func() {
		if saveRAM && wasLoaded && source.state != Loaded {
			_ = source.Load()
		}
	}()

	f, err := source.store.Open(source.path)
	if err != nil {
		return mlerror.Wrap(mlerror.IoError, "dataset: load_subset open", err)
	}
	defer f.Close()

	rsize := recordSize(source.numFeatures)
	headerSize := int64(6)

	d.numSamples = uint32(len(ids))
	d.allocChunks()

	rec := make([]byte, rsize)
	var lastID int64 = -1
	for i, id := range ids {
		if int64(id) <= lastID {
			return mlerror.New(mlerror.IoError, "dataset: load_subset ids must be ascending")
		}
		lastID = int64(id)

		off := headerSize + int64(id)*int64(rsize)
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return mlerror.Wrap(mlerror.IoError, "dataset: load_subset seek", err)
		}
		if _, err := io.ReadFull(f, rec); err != nil {
			return mlerror.Wrap(mlerror.Truncated, "dataset: load_subset read", err)
		}
		d.decodeRecord(i, rec)
	}

	d.state = Loaded
	return nil
}

// LoadChunk is a convenience wrapper over LoadSubset for the contiguous
// range covered by chunk chunkIndex of source's geometry.
func (d *Dataset) LoadChunk(source *Dataset, chunkIndex int, saveRAM bool) error {
	begin := chunkIndex * source.samplesPerChunk
	end := begin + source.samplesPerChunk
	if end > int(source.numSamples) {
		end = int(source.numSamples)
	}
	if begin >= end {
		return mlerror.New(mlerror.IoError, "dataset: load_chunk out of range")
	}
	ids := make([]uint16, 0, end-begin)
	for i := begin; i < end; i++ {
		ids = append(ids, uint16(i))
	}
	return d.LoadSubset(source, ids, saveRAM)
}

// Append writes samples into the dataset. If extend is true, new records
// are written past the end and numSamples grows (capped at MaxNumSamples
// and the file size budget). If extend is false, records are rewritten
// starting at the beginning without changing numSamples (ring-overwrite),
// and the labels that were overwritten are returned so the caller can
// adjust its per-label counters.
func (d *Dataset) Append(samples []Sample, extend bool) (overwritten []uint8, err error) {
	if d.state != Loaded {
		return nil, mlerror.New(mlerror.NotLoaded, "dataset: append requires Loaded state")
	}

	rsize := recordSize(d.numFeatures)

	if extend {
		for _, s := range samples {
			if int(d.numSamples) >= MaxNumSamples {
				glog.Warningf("dataset: append truncated at MaxNumSamples")
				break
			}
			newCount := (int(d.numSamples)+1)*rsize + 6
			if newCount > d.maxFileBytes {
				glog.Warningf("dataset: append stopped at file size budget")
				break
			}
			i := int(d.numSamples)
			d.growForAppend(i + 1)
			d.labels[i] = s.Label
			c, off := d.chunkOf(i)
			base := off * int(d.numFeatures)
			for j := 0; j < int(d.numFeatures); j++ {
				d.chunks[c].features.Set(base+j, s.Features.Get(j))
			}
			d.numSamples++
		}
		return nil, nil
	}

	overwritten = make([]uint8, 0, len(samples))
	for i, s := range samples {
		if i >= int(d.numSamples) {
			break
		}
		overwritten = append(overwritten, d.labels[i])
		d.labels[i] = s.Label
		c, off := d.chunkOf(i)
		base := off * int(d.numFeatures)
		for j := 0; j < int(d.numFeatures); j++ {
			d.chunks[c].features.Set(base+j, s.Features.Get(j))
		}
	}
	return overwritten, nil
}

// growForAppend ensures chunk storage can hold logical index upto-1.
func (d *Dataset) growForAppend(upto int) {
	needChunks := (upto + d.samplesPerChunk - 1) / d.samplesPerChunk
	for len(d.chunks) < needChunks {
		d.chunks = append(d.chunks, &chunk{features: packedvec.New()})
	}
	c, off := d.chunkOf(upto - 1)
	ch := d.chunks[c]
	if off+1 > ch.count {
		ch.count = off + 1
		ch.features.Resize(ch.count * int(d.numFeatures))
	}
	if upto > len(d.labels) {
		grown := make([]uint8, upto)
		copy(grown, d.labels)
		d.labels = grown
	}
}
