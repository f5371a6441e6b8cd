// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package nodepredictor implements a tiny linear regressor estimating how
many nodes a tree will need given (min_split, max_depth), so the engine
can pre-size a tree's node buffer and the BFS work queue before building
it. It retrains from a rolling log capped at 50 rows.
*/
package nodepredictor

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/mlerror"
	"github.com/viettran-edgeAI/mcu-forest/objectstore"
)

// MaxLogRows caps the rolling log this predictor retrains from.
const MaxLogRows = 50

// Magic is the per-predictor file tag, "NODE" little-endian.
const Magic uint32 = 0x4E4F4445

// Row is one observation: a (min_split, max_depth) pair and the tree's
// resulting node count.
type Row struct {
	MinSplit  int
	MaxDepth  int
	NumNodes  int
}

// Predictor estimates node counts from a linear model of two parameters.
type Predictor struct {
	beta0, beta1, beta2 float64
	trained             bool
	accuracy            uint8 // 100 - MAPE, clamped to [0,100]
	peakPercent         uint8

	log []Row
}

// New returns an untrained Predictor with the default peak_percent of 30.
func New() *Predictor {
	return &Predictor{peakPercent: 30}
}

// AppendRow adds an observation to the rolling log, prepending it and
// evicting the oldest row once more than MaxLogRows are held.
func (p *Predictor) AppendRow(r Row) {
	p.log = append([]Row{r}, p.log...)
	if len(p.log) > MaxLogRows {
		p.log = p.log[:MaxLogRows]
	}
}

// Log returns the current rolling training-history log, newest row first.
func (p *Predictor) Log() []Row { return p.log }

// ImportLog replaces the rolling log wholesale, capped at MaxLogRows. It
// exists so a Predictor carrying trained coefficients (restored via Load)
// can absorb the log a standalone LoadLog call produced, rather than
// LoadLog having to construct and return a fully trained Predictor itself.
func (p *Predictor) ImportLog(log []Row) {
	if len(log) > MaxLogRows {
		log = log[:MaxLogRows]
	}
	p.log = log
}

// Trained reports whether Retrain has produced usable coefficients.
func (p *Predictor) Trained() bool { return p.trained }

// Accuracy returns the last reported 100-MAPE accuracy, clamped [0,100].
func (p *Predictor) Accuracy() uint8 { return p.accuracy }

// PeakPercent returns the calibrated max fraction of a tree's nodes ever
// simultaneously live in the BFS queue.
func (p *Predictor) PeakPercent() uint8 { return p.peakPercent }

// Retrain rebuilds (beta0, beta1, beta2) from the current log. Each
// parameter's effect is estimated as the difference in average observed
// node counts between the parameter's two extreme values, divided by the
// parameter's range; this falls back to 0 when fewer than two unique
// values of that parameter are present. The intercept is centered on the
// overall mean node count.
func (p *Predictor) Retrain() {
	if len(p.log) == 0 {
		p.trained = false
		return
	}

	minSplits := uniqueSorted(p.log, func(r Row) int { return r.MinSplit })
	maxDepths := uniqueSorted(p.log, func(r Row) int { return r.MaxDepth })

	meanAll := meanNodes(p.log, func(Row) bool { return true })

	beta1 := 0.0
	if len(minSplits) >= 2 {
		lo, hi := minSplits[0], minSplits[len(minSplits)-1]
		loMean := meanNodes(p.log, func(r Row) bool { return r.MinSplit == lo })
		hiMean := meanNodes(p.log, func(r Row) bool { return r.MinSplit == hi })
		beta1 = (hiMean - loMean) / float64(hi-lo)
	}

	beta2 := 0.0
	if len(maxDepths) >= 2 {
		lo, hi := maxDepths[0], maxDepths[len(maxDepths)-1]
		loMean := meanNodes(p.log, func(r Row) bool { return r.MaxDepth == lo })
		hiMean := meanNodes(p.log, func(r Row) bool { return r.MaxDepth == hi })
		beta2 = (hiMean - loMean) / float64(hi-lo)
	}

	meanMinSplit := meanOf(minSplits)
	meanMaxDepth := meanOf(maxDepths)
	beta0 := meanAll - beta1*meanMinSplit - beta2*meanMaxDepth

	p.beta0, p.beta1, p.beta2 = beta0, beta1, beta2
	p.trained = true
	p.accuracy = p.computeAccuracy()

	glog.V(1).Infof("nodepredictor: retrained beta=(%.3f,%.3f,%.3f) accuracy=%d", beta0, beta1, beta2, p.accuracy)
}

// computeAccuracy is 100 - MAPE over the current log, clamped to [0,100].
func (p *Predictor) computeAccuracy() uint8 {
	if len(p.log) == 0 {
		return 0
	}
	sumAPE := 0.0
	n := 0
	for _, r := range p.log {
		if r.NumNodes == 0 {
			continue
		}
		est := p.estimateRaw(r.MinSplit, r.MaxDepth)
		ape := math.Abs(float64(r.NumNodes)-est) / float64(r.NumNodes)
		sumAPE += ape
		n++
	}
	if n == 0 {
		return 0
	}
	mape := (sumAPE / float64(n)) * 100
	acc := 100 - mape
	if acc < 0 {
		acc = 0
	}
	if acc > 100 {
		acc = 100
	}
	return uint8(acc)
}

func (p *Predictor) estimateRaw(minSplit, maxDepth int) float64 {
	return p.beta0 + p.beta1*float64(minSplit) + p.beta2*float64(maxDepth)
}

// Estimate returns the predicted node count for (minSplit, maxDepth),
// falling back to a hand-rolled heuristic (2^(depth+1) capped at the tree
// node cap) when the model hasn't been trained.
func (p *Predictor) Estimate(minSplit, maxDepth int) uint16 {
	if !p.trained {
		heuristic := 1 << uint(maxDepth+1)
		if heuristic > 2047 {
			heuristic = 2047
		}
		return uint16(heuristic)
	}
	v := p.estimateRaw(minSplit, maxDepth)
	if v < 10 {
		v = 10
	}
	return uint16(v)
}

// QueuePeak estimates the maximum number of BFS work items ever
// simultaneously queued, capped at 120.
func (p *Predictor) QueuePeak(minSplit, maxDepth int) uint16 {
	est := p.Estimate(minSplit, maxDepth)
	peak := int(est) * int(p.peakPercent) / 100
	if peak > 120 {
		peak = 120
	}
	return uint16(peak)
}

func uniqueSorted(rows []Row, f func(Row) int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range rows {
		v := f(r)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for i := 1; i < len(out); i++ {
		v := out[i]
		j := i - 1
		for j >= 0 && out[j] > v {
			out[j+1] = out[j]
			j--
		}
		out[j+1] = v
	}
	return out
}

func meanNodes(rows []Row, pred func(Row) bool) float64 {
	sum, n := 0.0, 0
	for _, r := range rows {
		if pred(r) {
			sum += float64(r.NumNodes)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func meanOf(vals []int) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return float64(sum) / float64(len(vals))
}

// --- persistence ---

// LoadLog reads the *_node_log.csv rolling log (header + up to 50 rows).
func LoadLog(store objectstore.Store, path string) (*Predictor, error) {
	p := New()
	if !store.Exists(path) {
		return p, nil
	}
	f, err := store.Open(path)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "nodepredictor: open log", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return p, nil
	}
	if scanner.Text() != "min_split,max_depth,total_nodes" {
		return nil, mlerror.New(mlerror.MalformedTable, "nodepredictor: bad log header")
	}
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		if len(fields) != 3 {
			continue
		}
		ms, e1 := strconv.Atoi(fields[0])
		md, e2 := strconv.Atoi(fields[1])
		nn, e3 := strconv.Atoi(fields[2])
		if e1 != nil || e2 != nil || e3 != nil {
			continue
		}
		p.log = append(p.log, Row{MinSplit: ms, MaxDepth: md, NumNodes: nn})
	}
	if len(p.log) > MaxLogRows {
		p.log = p.log[:MaxLogRows]
	}
	return p, nil
}

// SaveLog rewrites the rolling log in full (newest row first).
func (p *Predictor) SaveLog(store objectstore.Store, path string) error {
	f, err := store.Create(path)
	if err != nil {
		return mlerror.Wrap(mlerror.IoError, "nodepredictor: create log", err)
	}
	defer f.Close()

	buf := strings.Builder{}
	buf.WriteString("min_split,max_depth,total_nodes\n")
	for _, r := range p.log {
		fmt.Fprintf(&buf, "%d,%d,%d\n", r.MinSplit, r.MaxDepth, r.NumNodes)
	}
	if _, err := f.Write([]byte(buf.String())); err != nil {
		return mlerror.Wrap(mlerror.IoError, "nodepredictor: write log", err)
	}
	return nil
}

// Load reads the binary *_node_pred.bin coefficient file.
func Load(store objectstore.Store, path string) (*Predictor, error) {
	f, err := store.Open(path)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "nodepredictor: open", err)
	}
	defer f.Close()

	var hdr [8]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, mlerror.Wrap(mlerror.Truncated, "nodepredictor: short header", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return nil, mlerror.New(mlerror.HeaderMismatch, "nodepredictor: bad magic")
	}
	trained := hdr[4]
	accuracy := hdr[5]
	peakPercent := hdr[6]
	numCoeffs := hdr[7]
	if numCoeffs != 3 {
		return nil, mlerror.New(mlerror.HeaderMismatch, "nodepredictor: unexpected coeff count")
	}

	var coeffs [12]byte
	if _, err := io.ReadFull(f, coeffs[:]); err != nil {
		return nil, mlerror.Wrap(mlerror.Truncated, "nodepredictor: short coefficients", err)
	}

	p := &Predictor{
		trained:     trained != 0,
		accuracy:    accuracy,
		peakPercent: peakPercent,
		beta0:       float64(math.Float32frombits(binary.LittleEndian.Uint32(coeffs[0:4]))),
		beta1:       float64(math.Float32frombits(binary.LittleEndian.Uint32(coeffs[4:8]))),
		beta2:       float64(math.Float32frombits(binary.LittleEndian.Uint32(coeffs[8:12]))),
	}
	return p, nil
}

// Save writes the binary *_node_pred.bin coefficient file.
func (p *Predictor) Save(store objectstore.Store, path string) error {
	f, err := store.Create(path)
	if err != nil {
		return mlerror.Wrap(mlerror.IoError, "nodepredictor: create", err)
	}
	defer f.Close()

	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	if p.trained {
		buf[4] = 1
	}
	buf[5] = p.accuracy
	buf[6] = p.peakPercent
	buf[7] = 3
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(p.beta0)))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(float32(p.beta1)))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(float32(p.beta2)))

	if _, err := f.Write(buf); err != nil {
		return mlerror.Wrap(mlerror.IoError, "nodepredictor: write", err)
	}
	return nil
}
