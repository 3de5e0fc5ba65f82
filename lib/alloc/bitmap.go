// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package alloc

import "math/bits"

// bitmap is an allocation bitmap, one bit per block, LSB-first within
// each byte. The raw byte form is exactly what gets persisted in the
// aspect's sealed state.
type bitmap []byte

func (b bitmap) test(n uint32) bool {
	return b[n/8]&(1<<(n%8)) != 0
}

func (b bitmap) set(n uint32) {
	b[n/8] |= 1 << (n % 8)
}

func (b bitmap) clear(n uint32) {
	b[n/8] &^= 1 << (n % 8)
}

// firstFree returns the lowest clear bit below limit, or -1 when all
// are set.
func (b bitmap) firstFree(limit uint32) int64 {
	for byteIndex, value := range b {
		if value == 0xFF {
			continue
		}
		n := uint32(byteIndex)*8 + uint32(bits.TrailingZeros8(^value))
		if n >= limit {
			return -1
		}
		return int64(n)
	}
	return -1
}

// used counts set bits below limit.
func (b bitmap) used(limit uint32) uint32 {
	var count uint32
	for byteIndex, value := range b {
		if uint32(byteIndex+1)*8 <= limit {
			count += uint32(bits.OnesCount8(value))
			continue
		}
		for n := uint32(byteIndex) * 8; n < limit; n++ {
			if b.test(n) {
				count++
			}
		}
	}
	return count
}
