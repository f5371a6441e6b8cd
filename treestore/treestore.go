// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package treestore serializes individual trees and the unified forest file.
Saves are atomic: a partial write is followed by file removal before
returning an error, so observers never see a mid-write file. When the
backing Store can report its remaining free space, a save first checks
that the write will actually fit rather than discovering that partway
through.
*/
package treestore

import (
	"encoding/binary"
	"io"

	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/mlerror"
	"github.com/viettran-edgeAI/mcu-forest/objectstore"
	"github.com/viettran-edgeAI/mcu-forest/tree"
)

// TreeMagic is the per-tree file tag, "TREE" little-endian.
const TreeMagic uint32 = 0x54524545

// ForestMagic is the unified forest file tag, "FORS" little-endian.
const ForestMagic uint32 = 0x464F5253

// MaxTrees bounds the tree_count u8 header field.
const MaxTrees = 100

// PreflightStorage reports whether free bytes suffice to write a tree of
// nodeCount nodes plus header overhead.
func PreflightStorage(freeBytes int64, nodeCount int) bool {
	return freeBytes >= int64(nodeCount)*4+100
}

// PreflightHeap reports whether free heap suffices to load a forest given
// its estimated RAM footprint, leaving headroom for everything else the
// host still needs to run.
func PreflightHeap(freeHeap int64, estimatedRAM int64) bool {
	return freeHeap >= estimatedRAM+8000
}

// checkStorage runs PreflightStorage against store when it reports free
// space, and is a no-op (always passes) when it doesn't. nodeCount covers
// every node about to be written, across however many trees.
func checkStorage(store objectstore.Store, nodeCount int) error {
	reporter, ok := store.(objectstore.SpaceReporter)
	if !ok {
		return nil
	}
	free, err := reporter.FreeBytes()
	if err != nil {
		return mlerror.Wrap(mlerror.IoError, "treestore: query free space", err)
	}
	if !PreflightStorage(free, nodeCount) {
		return mlerror.New(mlerror.InsufficientStorage, "treestore: insufficient free space for save")
	}
	return nil
}

// SaveTree writes one tree to its per-tree file, atomically: the file is
// written in full or removed on any failure before the error is returned.
func SaveTree(store objectstore.Store, path string, nodes []tree.Node) (err error) {
	if len(nodes) > tree.MaxNodesPerTree {
		return mlerror.New(mlerror.CapacityExceeded, "treestore: node count exceeds MaxNodesPerTree")
	}
	if err := checkStorage(store, len(nodes)); err != nil {
		return err
	}

	f, cerr := store.Create(path)
	if cerr != nil {
		return mlerror.Wrap(mlerror.IoError, "treestore: create", cerr)
	}
	defer func() {
		closeErr := f.Close()
		if err != nil {
			if rmErr := store.Remove(path); rmErr != nil {
				glog.Warningf("treestore: cleanup remove %s: %v", path, rmErr)
			}
			return
		}
		if closeErr != nil {
			err = mlerror.Wrap(mlerror.IoError, "treestore: close", closeErr)
			if rmErr := store.Remove(path); rmErr != nil {
				glog.Warningf("treestore: cleanup remove %s: %v", path, rmErr)
			}
		}
	}()

	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:4], TreeMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(nodes)))
	if _, err = f.Write(hdr); err != nil {
		err = mlerror.Wrap(mlerror.IoError, "treestore: write header", err)
		return
	}

	body := make([]byte, len(nodes)*4)
	for i, n := range nodes {
		binary.LittleEndian.PutUint32(body[i*4:], uint32(n))
	}
	if _, err = f.Write(body); err != nil {
		err = mlerror.Wrap(mlerror.IoError, "treestore: write nodes", err)
		return
	}
	return nil
}

// LoadTree reads one per-tree file, validating magic and node-count
// bounds.
func LoadTree(store objectstore.Store, path string) ([]tree.Node, error) {
	f, err := store.Open(path)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "treestore: open", err)
	}
	defer f.Close()

	var hdr [8]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, mlerror.Wrap(mlerror.Truncated, "treestore: short header", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != TreeMagic {
		return nil, mlerror.New(mlerror.HeaderMismatch, "treestore: bad tree magic")
	}
	count := binary.LittleEndian.Uint32(hdr[4:8])
	if count < 1 || count > tree.MaxNodesPerTree {
		return nil, mlerror.New(mlerror.HeaderMismatch, "treestore: node count out of bounds")
	}

	body := make([]byte, count*4)
	if _, err := io.ReadFull(f, body); err != nil {
		return nil, mlerror.Wrap(mlerror.Truncated, "treestore: short node payload", err)
	}

	nodes := make([]tree.Node, count)
	for i := range nodes {
		nodes[i] = tree.Node(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return nodes, nil
}

// ForestEntry is one tree's payload within a unified forest file.
type ForestEntry struct {
	Index int
	Nodes []tree.Node
}

// SaveForest writes every entry into one unified forest file, atomically.
func SaveForest(store objectstore.Store, path string, entries []ForestEntry) (err error) {
	if len(entries) > MaxTrees {
		return mlerror.New(mlerror.CapacityExceeded, "treestore: tree count exceeds MaxTrees")
	}
	totalNodes := 0
	for _, e := range entries {
		totalNodes += len(e.Nodes)
	}
	if err := checkStorage(store, totalNodes); err != nil {
		return err
	}

	f, cerr := store.Create(path)
	if cerr != nil {
		return mlerror.Wrap(mlerror.IoError, "treestore: create forest", cerr)
	}
	defer func() {
		closeErr := f.Close()
		if err != nil {
			if rmErr := store.Remove(path); rmErr != nil {
				glog.Warningf("treestore: cleanup remove %s: %v", path, rmErr)
			}
			return
		}
		if closeErr != nil {
			err = mlerror.Wrap(mlerror.IoError, "treestore: close forest", closeErr)
			if rmErr := store.Remove(path); rmErr != nil {
				glog.Warningf("treestore: cleanup remove %s: %v", path, rmErr)
			}
		}
	}()

	hdr := make([]byte, 5)
	binary.LittleEndian.PutUint32(hdr[0:4], ForestMagic)
	hdr[4] = byte(len(entries))
	if _, err = f.Write(hdr); err != nil {
		err = mlerror.Wrap(mlerror.IoError, "treestore: write forest header", err)
		return
	}

	for _, e := range entries {
		if len(e.Nodes) > tree.MaxNodesPerTree {
			err = mlerror.New(mlerror.CapacityExceeded, "treestore: node count exceeds MaxNodesPerTree")
			return
		}
		entryHdr := make([]byte, 5)
		entryHdr[0] = byte(e.Index)
		binary.LittleEndian.PutUint32(entryHdr[1:5], uint32(len(e.Nodes)))
		if _, err = f.Write(entryHdr); err != nil {
			err = mlerror.Wrap(mlerror.IoError, "treestore: write entry header", err)
			return
		}
		body := make([]byte, len(e.Nodes)*4)
		for i, n := range e.Nodes {
			binary.LittleEndian.PutUint32(body[i*4:], uint32(n))
		}
		if _, err = f.Write(body); err != nil {
			err = mlerror.Wrap(mlerror.IoError, "treestore: write entry nodes", err)
			return
		}
	}
	return nil
}

// LoadForest reads a unified forest file. wantedIndices, if non-nil,
// restricts which tree indices are decoded; a tree index present in the
// file but not claimed by the caller is skipped (its payload is still
// consumed so the stream stays aligned) rather than rejected.
func LoadForest(store objectstore.Store, path string, wantedIndices map[int]bool) ([]ForestEntry, error) {
	f, err := store.Open(path)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "treestore: open forest", err)
	}
	defer f.Close()

	var hdr [5]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, mlerror.Wrap(mlerror.Truncated, "treestore: short forest header", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != ForestMagic {
		return nil, mlerror.New(mlerror.HeaderMismatch, "treestore: bad forest magic")
	}
	treeCount := int(hdr[4])

	var entries []ForestEntry
	for t := 0; t < treeCount; t++ {
		var entryHdr [5]byte
		if _, err := io.ReadFull(f, entryHdr[:]); err != nil {
			return nil, mlerror.Wrap(mlerror.Truncated, "treestore: short entry header", err)
		}
		idx := int(entryHdr[0])
		count := binary.LittleEndian.Uint32(entryHdr[1:5])
		if count < 1 || count > tree.MaxNodesPerTree {
			return nil, mlerror.New(mlerror.HeaderMismatch, "treestore: entry node count out of bounds")
		}
		body := make([]byte, count*4)
		if _, err := io.ReadFull(f, body); err != nil {
			return nil, mlerror.Wrap(mlerror.Truncated, "treestore: short entry payload", err)
		}

		if wantedIndices != nil && !wantedIndices[idx] {
			glog.V(2).Infof("treestore: skipping unclaimed tree index %d", idx)
			continue
		}

		nodes := make([]tree.Node, count)
		for i := range nodes {
			nodes[i] = tree.Node(binary.LittleEndian.Uint32(body[i*4:]))
		}
		entries = append(entries, ForestEntry{Index: idx, Nodes: nodes})
	}
	return entries, nil
}
