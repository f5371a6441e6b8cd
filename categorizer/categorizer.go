// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package categorizer maps real-valued feature vectors to 2-bit bin indices
using a compact, shared-pattern binning table. The table is persisted as
a versioned textual "CTG2" record set (*_ctg.csv).
*/
package categorizer

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/viettran-edgeAI/mcu-forest/mlerror"
	"github.com/viettran-edgeAI/mcu-forest/objectstore"
	"github.com/viettran-edgeAI/mcu-forest/packedvec"
)

// FeatureKind tags how a feature's raw values are binned.
type FeatureKind int

const (
	// DF: discrete, full range — clamp floor(x) into [0, groupsPerFeature).
	DF FeatureKind = iota
	// DC: discrete, custom value list.
	DC
	// CS: continuous, shared pattern (thresholds looked up by pattern id).
	CS
	// CU: continuous, unique edges (thresholds stored inline per feature).
	CU
)

// FeatureRef describes how to bin one raw feature. It mirrors the 16-bit
// packed on-disk record, kept here as a plain struct for clarity;
// Pack/Unpack round-trip the compact form for on-disk use.
type FeatureRef struct {
	Kind FeatureKind
	// Aux is the pattern id (CS), edge/value count (DC, CU), or unused (DF).
	Aux int
	// Offset indexes into the discrete-values or unique-edges pool.
	Offset int
}

// Pack encodes a FeatureRef into the 16-bit on-disk word.
func (r FeatureRef) Pack() uint16 {
	return uint16(r.Kind&0x3)<<14 | uint16(r.Aux&0x3F)<<8 | uint16(r.Offset&0xFF)
}

// UnpackFeatureRef decodes a FeatureRef from its 16-bit on-disk word.
func UnpackFeatureRef(w uint16) FeatureRef {
	return FeatureRef{
		Kind:   FeatureKind((w >> 14) & 0x3),
		Aux:    int((w >> 8) & 0x3F),
		Offset: int(w & 0xFF),
	}
}

// Table is a loaded categorizer: header geometry, label mapping, shared
// patterns, and per-feature binning refs.
type Table struct {
	NumFeatures      int
	GroupsPerFeature int
	NumLabels        int
	NumSharedPats    int
	ScaleFactor      int

	labelByID   []string
	idByLabel   map[string]uint8
	patterns    [][]int // each pattern: groupsPerFeature-1 scaled thresholds
	discreteVals [][]int // pool of DC raw values, one list per DC feature use
	uniqueEdges [][]int // pool of CU thresholds, one list per CU feature use

	refs []FeatureRef
}

// Magic is the textual header tag of a categorizer table file.
const Magic = "CTG2"

// Load parses a *_ctg.csv-shaped table from store at path.
func Load(store objectstore.Store, path string) (*Table, error) {
	f, err := store.Open(path)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "categorizer: open", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, mlerror.New(mlerror.MalformedTable, "categorizer: empty file")
	}
	header := strings.Split(scanner.Text(), ",")
	if len(header) != 6 || header[0] != Magic {
		return nil, mlerror.New(mlerror.MalformedTable, "categorizer: bad magic/header")
	}
	nf, err1 := strconv.Atoi(header[1])
	gpf, err2 := strconv.Atoi(header[2])
	nl, err3 := strconv.Atoi(header[3])
	nsp, err4 := strconv.Atoi(header[4])
	scale, err5 := strconv.Atoi(header[5])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return nil, mlerror.New(mlerror.MalformedTable, "categorizer: bad header fields")
	}

	t := &Table{
		NumFeatures:      nf,
		GroupsPerFeature: gpf,
		NumLabels:        nl,
		NumSharedPats:    nsp,
		ScaleFactor:      scale,
		labelByID:        make([]string, nl),
		idByLabel:        make(map[string]uint8, nl),
	}

	for i := 0; i < nl; i++ {
		if !scanner.Scan() {
			return nil, mlerror.New(mlerror.MalformedTable, "categorizer: truncated label rows")
		}
		row := strings.Split(scanner.Text(), ",")
		if len(row) != 3 || row[0] != "L" {
			return nil, mlerror.New(mlerror.MalformedTable, "categorizer: bad label row")
		}
		id, err := strconv.Atoi(row[1])
		if err != nil || id < 0 || id >= nl {
			return nil, mlerror.New(mlerror.MalformedTable, "categorizer: bad label id")
		}
		t.labelByID[id] = row[2]
		t.idByLabel[row[2]] = uint8(id)
	}

	t.patterns = make([][]int, nsp)
	for i := 0; i < nsp; i++ {
		if !scanner.Scan() {
			return nil, mlerror.New(mlerror.MalformedTable, "categorizer: truncated pattern rows")
		}
		row := strings.Split(scanner.Text(), ",")
		if len(row) < 3 || row[0] != "P" {
			return nil, mlerror.New(mlerror.MalformedTable, "categorizer: bad pattern row")
		}
		edgeCount, err := strconv.Atoi(row[2])
		if err != nil || len(row) != 3+edgeCount || edgeCount != gpf-1 {
			return nil, mlerror.New(mlerror.MalformedTable, "categorizer: pattern edge count mismatch")
		}
		edges := make([]int, edgeCount)
		for e := 0; e < edgeCount; e++ {
			v, err := strconv.Atoi(row[3+e])
			if err != nil {
				return nil, mlerror.New(mlerror.MalformedTable, "categorizer: bad pattern edge")
			}
			edges[e] = v
		}
		t.patterns[i] = edges
	}

	t.refs = make([]FeatureRef, nf)
	for j := 0; j < nf; j++ {
		if !scanner.Scan() {
			return nil, mlerror.New(mlerror.MalformedTable, "categorizer: truncated feature rows")
		}
		row := strings.Split(scanner.Text(), ",")
		switch row[0] {
		case "DF":
			if len(row) != 1 {
				return nil, mlerror.New(mlerror.MalformedTable, "categorizer: DF row has extra tokens")
			}
			t.refs[j] = FeatureRef{Kind: DF}
		case "DC":
			count, err := strconv.Atoi(row[1])
			if err != nil || len(row) != 2+count {
				return nil, mlerror.New(mlerror.MalformedTable, "categorizer: DC count mismatch")
			}
			vals := make([]int, count)
			for v := 0; v < count; v++ {
				iv, err := strconv.Atoi(row[2+v])
				if err != nil {
					return nil, mlerror.New(mlerror.MalformedTable, "categorizer: bad DC value")
				}
				vals[v] = iv
			}
			t.refs[j] = FeatureRef{Kind: DC, Aux: count, Offset: len(t.discreteVals)}
			t.discreteVals = append(t.discreteVals, vals)
		case "CS":
			if len(row) != 2 {
				return nil, mlerror.New(mlerror.MalformedTable, "categorizer: CS row malformed")
			}
			pid, err := strconv.Atoi(row[1])
			if err != nil || pid < 0 || pid >= nsp {
				return nil, mlerror.New(mlerror.MalformedTable, "categorizer: bad CS pattern id")
			}
			t.refs[j] = FeatureRef{Kind: CS, Aux: pid}
		case "CU":
			count, err := strconv.Atoi(row[1])
			if err != nil || len(row) != 2+count || count != gpf-1 {
				return nil, mlerror.New(mlerror.MalformedTable, "categorizer: CU edge count mismatch")
			}
			edges := make([]int, count)
			for e := 0; e < count; e++ {
				iv, err := strconv.Atoi(row[2+e])
				if err != nil {
					return nil, mlerror.New(mlerror.MalformedTable, "categorizer: bad CU edge")
				}
				edges[e] = iv
			}
			t.refs[j] = FeatureRef{Kind: CU, Aux: count, Offset: len(t.uniqueEdges)}
			t.uniqueEdges = append(t.uniqueEdges, edges)
		default:
			return nil, mlerror.New(mlerror.MalformedTable, fmt.Sprintf("categorizer: unknown feature row tag %q", row[0]))
		}
	}

	return t, nil
}

// CategorizeFeature bins raw value x for feature j according to its
// configured FeatureKind.
func (t *Table) CategorizeFeature(j int, x float64) uint8 {
	if j < 0 || j >= len(t.refs) {
		return 0
	}
	ref := t.refs[j]
	switch ref.Kind {
	case DF:
		v := int(math.Floor(x))
		if v < 0 {
			v = 0
		}
		if v > t.GroupsPerFeature-1 {
			v = t.GroupsPerFeature - 1
		}
		return uint8(v)
	case DC:
		target := int(math.Floor(x))
		vals := t.discreteVals[ref.Offset]
		for i, v := range vals {
			if v == target {
				return uint8(i)
			}
		}
		return 0
	case CS:
		return binByThresholds(t.patterns[ref.Aux], x, t.ScaleFactor)
	case CU:
		return binByThresholds(t.uniqueEdges[ref.Offset], x, t.ScaleFactor)
	default:
		return 0
	}
}

// binByThresholds returns the first bin index whose threshold is strictly
// greater than round(x*scale), or the last bin if none is.
func binByThresholds(thresholds []int, x float64, scale int) uint8 {
	scaled := int(math.Round(x * float64(scale)))
	for i, th := range thresholds {
		if scaled < th {
			return uint8(i)
		}
	}
	return uint8(len(thresholds))
}

// CategorizeSample bins a full raw feature vector into a packed 2-bit
// vector of length NumFeatures.
func (t *Table) CategorizeSample(xs []float64) *packedvec.Vec {
	v := packedvec.NewWithSize(t.NumFeatures)
	for j := 0; j < t.NumFeatures && j < len(xs); j++ {
		v.Set(j, t.CategorizeFeature(j, xs[j]))
	}
	return v
}

// OriginalLabel maps a normalized label id back to its original name.
func (t *Table) OriginalLabel(id uint8) string {
	if int(id) >= len(t.labelByID) {
		return ""
	}
	return t.labelByID[id]
}

// NormalizedLabel maps an original label name to its id, or 255 if unknown.
func (t *Table) NormalizedLabel(name string) uint8 {
	if id, ok := t.idByLabel[name]; ok {
		return id
	}
	return 255
}
