// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dataset

import "github.com/viettran-edgeAI/mcu-forest/packedvec"

// Sample pairs a label with its 2-bit quantized feature vector.
type Sample struct {
	Label    uint8
	Features *packedvec.Vec
}

// NewSample builds a Sample from a raw label and 2-bit feature slice.
func NewSample(label uint8, features []uint8) Sample {
	v := packedvec.NewWithSize(len(features))
	for i, f := range features {
		v.Set(i, f)
	}
	return Sample{Label: label, Features: v}
}
