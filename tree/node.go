// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package tree implements the breadth-first node expansion, impurity split
search, and in-place partition that build one decision tree from a shared
sample-index slice.

A tree is a flat slice of packed 32-bit Nodes. There are no pointers
between nodes: the right child of an internal node is always at
left_child_index+1, so a single arena-backed slice with integer edges
suffices everywhere a pointer graph would otherwise be needed.
*/
package tree

import "fmt"

// Node is a single tree node packed into 32 bits so a whole forest fits
// in a flat byte arena with no pointer overhead.
//
//	bits 0-9:   feature_id       (0..1023)
//	bits 10-17: label            (0..255)
//	bits 18-19: threshold        (0..3)
//	bit  20:    is_leaf
//	bits 21-31: left_child_index (0..2047)
type Node uint32

// MaxNodesPerTree bounds the address space of left_child_index.
const MaxNodesPerTree = 2047

func packNode(featureID uint16, label uint8, threshold uint8, isLeaf bool, leftChild uint16) Node {
	var n uint32
	n |= uint32(featureID) & 0x3FF
	n |= (uint32(label) & 0xFF) << 10
	n |= (uint32(threshold) & 0x3) << 18
	if isLeaf {
		n |= 1 << 20
	}
	n |= (uint32(leftChild) & 0x7FF) << 21
	return Node(n)
}

// LeafNode builds a leaf carrying the given majority label.
func LeafNode(label uint8) Node {
	return packNode(0, label, 0, true, 0)
}

// InternalNode builds a split node.
func InternalNode(featureID uint16, threshold uint8, leftChild uint16) Node {
	return packNode(featureID, 0, threshold, false, leftChild)
}

// FeatureID returns the split feature id of an internal node.
func (n Node) FeatureID() uint16 { return uint16(n) & 0x3FF }

// Label returns the leaf's majority label.
func (n Node) Label() uint8 { return uint8((n >> 10) & 0xFF) }

// Threshold returns the split threshold of an internal node.
func (n Node) Threshold() uint8 { return uint8((n >> 18) & 0x3) }

// IsLeaf reports whether this node is a leaf.
func (n Node) IsLeaf() bool { return (n>>20)&1 == 1 }

// LeftChild returns the index of the left child; the right child is
// always LeftChild()+1.
func (n Node) LeftChild() uint16 { return uint16((n >> 21) & 0x7FF) }

// RightChild returns LeftChild()+1.
func (n Node) RightChild() uint16 { return n.LeftChild() + 1 }

func (n Node) String() string {
	if n.IsLeaf() {
		return fmt.Sprintf("leaf(label=%d)", n.Label())
	}
	return fmt.Sprintf("split(feature=%d,threshold=%d,left=%d)", n.FeatureID(), n.Threshold(), n.LeftChild())
}

// Dump renders the tree rooted at node 0 as an indented multi-line string,
// one node per line, children indented one level under their parent.
func Dump(nodes []Node) string {
	if len(nodes) == 0 {
		return ""
	}
	var buf []byte
	buf = dumpNode(buf, nodes, 0, 0)
	return string(buf)
}

func dumpNode(buf []byte, nodes []Node, idx uint16, depth int) []byte {
	for i := 0; i < depth; i++ {
		buf = append(buf, '\t')
	}
	buf = append(buf, []byte(nodes[idx].String())...)
	buf = append(buf, '\n')
	if nodes[idx].IsLeaf() {
		return buf
	}
	buf = dumpNode(buf, nodes, nodes[idx].LeftChild(), depth+1)
	buf = dumpNode(buf, nodes, nodes[idx].RightChild(), depth+1)
	return buf
}

// Depth returns the maximum root-to-leaf depth of the tree.
func Depth(nodes []Node) int {
	if len(nodes) == 0 {
		return 0
	}
	return depthOf(nodes, 0)
}

func depthOf(nodes []Node, idx uint16) int {
	if nodes[idx].IsLeaf() {
		return 0
	}
	l := depthOf(nodes, nodes[idx].LeftChild())
	r := depthOf(nodes, nodes[idx].RightChild())
	if l > r {
		return l + 1
	}
	return r + 1
}

// LeafCount returns the number of leaf nodes in the tree.
func LeafCount(nodes []Node) int {
	count := 0
	for _, n := range nodes {
		if n.IsLeaf() {
			count++
		}
	}
	return count
}

// Classify walks the tree for one sample's feature-getter and returns the
// predicted label.
func Classify(nodes []Node, feature func(j int) uint8) uint8 {
	if len(nodes) == 0 {
		return 255
	}
	idx := uint16(0)
	for {
		n := nodes[idx]
		if n.IsLeaf() {
			return n.Label()
		}
		v := feature(int(n.FeatureID()))
		if v <= n.Threshold() {
			idx = n.LeftChild()
		} else {
			idx = n.RightChild()
		}
	}
}
