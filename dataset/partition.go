// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dataset

import "github.com/viettran-edgeAI/mcu-forest/prng"

// SplitIDs partitions [0, n) into disjoint ascending id slices of sizes
// trainN, testN and the remainder as validation, using src to shuffle.
// Each returned slice is sorted ascending, as LoadSubset requires.
func SplitIDs(n int, trainN, testN int, src *prng.Source) (train, test, valid []uint16) {
	all := make([]uint16, n)
	for i := range all {
		all[i] = uint16(i)
	}
	// Fisher-Yates shuffle.
	for i := n - 1; i > 0; i-- {
		j := int(src.Bounded(uint32(i + 1)))
		all[i], all[j] = all[j], all[i]
	}

	if trainN > n {
		trainN = n
	}
	if testN > n-trainN {
		testN = n - trainN
	}

	train = append([]uint16(nil), all[:trainN]...)
	test = append([]uint16(nil), all[trainN:trainN+testN]...)
	valid = append([]uint16(nil), all[trainN+testN:]...)

	sortUint16(train)
	sortUint16(test)
	sortUint16(valid)
	return
}

func sortUint16(s []uint16) {
	// Insertion sort: partitions are small relative to MaxNumSamples and
	// this keeps the helper allocation-free.
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
