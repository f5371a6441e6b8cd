// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tree

import (
	"math"

	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/dataset"
	"github.com/viettran-edgeAI/mcu-forest/prng"
)

// workItem is a BFS queue entry: the half-open slice [begin,end) of the
// shared indices array belonging to node nodeIndex, at the given depth.
type workItem struct {
	nodeIndex uint16
	begin     uint16
	end       uint16
	depth     uint8
}

// Builder builds one tree at a time from a loaded dataset.Dataset and a
// caller-supplied set of sample ids (the bootstrap or subsample set).
type Builder struct {
	DS                *dataset.Dataset
	NumLabels         int
	MinSplit          int
	MaxDepth          int
	UseGini           bool
	ImpurityThreshold float64
	RNG               *prng.Source
}

// Build grows a tree over the given ascending-or-arbitrary sample ids,
// operating in place over a single indices buffer sized to len(ids).
// Construction never fails: an empty id list yields zero nodes, and every
// other input terminates with a well-formed tree.
func (b *Builder) Build(ids []uint16) []Node {
	if len(ids) == 0 {
		return nil
	}

	indices := append([]uint16(nil), ids...)
	nodes := make([]Node, 1, 64)

	queue := make([]workItem, 0, 64)
	queue = append(queue, workItem{nodeIndex: 0, begin: 0, end: uint16(len(indices)), depth: 0})

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		queue = b.expand(item, indices, &nodes, queue)
	}

	glog.V(2).Infof("tree: built %d nodes from %d samples", len(nodes), len(ids))
	return nodes
}

// expand processes one BFS work item, writing into nodes[item.nodeIndex]
// and, if the node is split, appending two child placeholders and
// returning the work queue with the non-empty children enqueued.
func (b *Builder) expand(item workItem, indices []uint16, nodes *[]Node, queue []workItem) []workItem {
	begin, end := int(item.begin), int(item.end)
	total := end - begin

	labelCounts := make([]int, b.NumLabels)
	for i := begin; i < end; i++ {
		lbl := b.DS.GetLabel(int(indices[i]))
		if int(lbl) < b.NumLabels {
			labelCounts[lbl]++
		}
	}
	majority, distinctLabels := majorityAndDistinct(labelCounts)

	if distinctLabels <= 1 || total < b.MinSplit || int(item.depth) >= b.MaxDepth {
		(*nodes)[item.nodeIndex] = LeafNode(majority)
		return queue
	}

	numFeatures := b.DS.NumFeatures()
	k := int(math.Round(math.Sqrt(float64(numFeatures))))
	if k < 1 {
		k = 1
	}
	features := b.sampleFeatures(k, numFeatures)

	baseImpurity := impurity(labelCounts, total, b.UseGini)

	bestGain := -1.0
	bestFeature := -1
	bestThreshold := uint8(0)

	left := make([]int, b.NumLabels)
	right := make([]int, b.NumLabels)

	for _, f := range features {
		for threshold := uint8(0); threshold <= 2; threshold++ {
			for i := range left {
				left[i] = 0
				right[i] = 0
			}
			leftTotal, rightTotal := 0, 0
			for i := begin; i < end; i++ {
				v := b.DS.GetFeature(int(indices[i]), f)
				lbl := b.DS.GetLabel(int(indices[i]))
				if int(lbl) >= b.NumLabels {
					continue
				}
				if v <= threshold {
					left[lbl]++
					leftTotal++
				} else {
					right[lbl]++
					rightTotal++
				}
			}
			if leftTotal == 0 || rightTotal == 0 {
				continue
			}
			childImpurity := (float64(leftTotal)/float64(total))*impurity(left, leftTotal, b.UseGini) +
				(float64(rightTotal)/float64(total))*impurity(right, rightTotal, b.UseGini)
			gain := baseImpurity - childImpurity
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = threshold
			}
		}
	}

	effectiveThreshold := b.ImpurityThreshold
	if b.UseGini {
		effectiveThreshold /= 2
	}

	if bestFeature < 0 || bestGain <= effectiveThreshold {
		(*nodes)[item.nodeIndex] = LeafNode(majority)
		return queue
	}

	leftChildIndex := len(*nodes)
	(*nodes)[item.nodeIndex] = InternalNode(uint16(bestFeature), bestThreshold, uint16(leftChildIndex))
	*nodes = append(*nodes, Node(0), Node(0))

	mid := begin + b.partition(indices[begin:end], bestFeature, bestThreshold)

	if mid == begin || mid == end {
		// One side is empty: both children degenerate to the parent's
		// majority leaf immediately.
		(*nodes)[leftChildIndex] = LeafNode(majority)
		(*nodes)[leftChildIndex+1] = LeafNode(majority)
		return queue
	}

	queue = append(queue, workItem{nodeIndex: uint16(leftChildIndex), begin: uint16(begin), end: uint16(mid), depth: item.depth + 1})
	queue = append(queue, workItem{nodeIndex: uint16(leftChildIndex + 1), begin: uint16(mid), end: uint16(end), depth: item.depth + 1})
	return queue
}

// partition reorders idxs in place so that every sample with
// feature(threshold) <= threshold occupies the prefix, returning the
// split point (the count of samples routed left).
func (b *Builder) partition(idxs []uint16, feature int, threshold uint8) int {
	i := 0
	for j := 0; j < len(idxs); j++ {
		if b.DS.GetFeature(int(idxs[j]), feature) <= threshold {
			idxs[i], idxs[j] = idxs[j], idxs[i]
			i++
		}
	}
	return i
}

// sampleFeatures selects k distinct feature ids via partial Fisher-Yates
// backed by Prng.Bounded, returned in ascending order so that impurity
// evaluation order (feature, then threshold ascending) is stable.
func (b *Builder) sampleFeatures(k, numFeatures int) []int {
	if k > numFeatures {
		k = numFeatures
	}
	pool := make([]int, numFeatures)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + int(b.RNG.Bounded(uint32(numFeatures-i)))
		pool[i], pool[j] = pool[j], pool[i]
	}
	selected := append([]int(nil), pool[:k]...)
	insertionSort(selected)
	return selected
}

func insertionSort(s []int) {
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}

func majorityAndDistinct(counts []int) (majority uint8, distinct int) {
	best := -1
	for lbl, c := range counts {
		if c > 0 {
			distinct++
		}
		if c > best {
			best = c
			majority = uint8(lbl)
		}
	}
	return
}

// impurity computes Gini impurity (1 - sum p^2) or entropy
// (-sum p*log2 p) of a label distribution, with p = count/total.
func impurity(counts []int, total int, useGini bool) float64 {
	if total == 0 {
		return 0
	}
	if useGini {
		sum := 0.0
		for _, c := range counts {
			p := float64(c) / float64(total)
			sum += p * p
		}
		return 1 - sum
	}
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
