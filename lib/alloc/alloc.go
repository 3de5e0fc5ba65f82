// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package alloc

import (
	"fmt"

	"github.com/pinoq-fs/pinoq/lib/aspect"
	"github.com/pinoq-fs/pinoq/lib/container"
	"github.com/pinoq-fs/pinoq/lib/secret"
)

// ErrOutOfSpace reports that the aspect's region has no free block
// left.
var ErrOutOfSpace = fmt.Errorf("no free blocks in aspect region")

// ErrOutOfRange is the container's bounds-check error, re-exported so
// callers depending on the allocator need only this package.
var ErrOutOfRange = container.ErrOutOfRange

// Allocator manages the block region of one aspect. Not safe for
// concurrent use; the mount session serializes access.
type Allocator struct {
	container *container.Container
	index     uint32
	blockKey  *secret.Buffer
	bitmap    bitmap
	blocks    uint32
	blockSize uint32
}

// New builds an allocator for aspect index from its decrypted state.
// The bitmap slice is adopted, not copied; the block key is borrowed
// for the allocator's lifetime and not closed.
func New(c *container.Container, index uint32, blockKey *secret.Buffer, bitmapBytes []byte) (*Allocator, error) {
	header := c.Header()
	if index >= header.AspectCount {
		return nil, fmt.Errorf("%w: aspect %d of %d", ErrOutOfRange, index, header.AspectCount)
	}
	if len(bitmapBytes) != aspect.BitmapLen(header.BlocksPerAspect) {
		return nil, fmt.Errorf("bitmap is %d bytes, region of %d blocks needs %d",
			len(bitmapBytes), header.BlocksPerAspect, aspect.BitmapLen(header.BlocksPerAspect))
	}
	return &Allocator{
		container: c,
		index:     index,
		blockKey:  blockKey,
		bitmap:    bitmap(bitmapBytes),
		blocks:    header.BlocksPerAspect,
		blockSize: header.BlockSize,
	}, nil
}

// Allocate reserves the lowest free block and returns its number.
func (a *Allocator) Allocate() (uint32, error) {
	n := a.bitmap.firstFree(a.blocks)
	if n < 0 {
		return 0, fmt.Errorf("%w (all %d used)", ErrOutOfSpace, a.blocks)
	}
	a.bitmap.set(uint32(n))
	return uint32(n), nil
}

// Free releases a block. Freeing an already-free block is an error:
// it means the index's ownership invariant broke somewhere.
func (a *Allocator) Free(n uint32) error {
	if n >= a.blocks {
		return fmt.Errorf("%w: block %d of %d", ErrOutOfRange, n, a.blocks)
	}
	if !a.bitmap.test(n) {
		return fmt.Errorf("freeing block %d which is not allocated", n)
	}
	a.bitmap.clear(n)
	return nil
}

// Allocated reports whether block n is currently allocated.
func (a *Allocator) Allocated(n uint32) bool {
	return n < a.blocks && a.bitmap.test(n)
}

// FreeBlocks returns the number of unallocated blocks.
func (a *Allocator) FreeBlocks() uint32 {
	return a.blocks - a.bitmap.used(a.blocks)
}

// Blocks returns the region size in blocks.
func (a *Allocator) Blocks() uint32 {
	return a.blocks
}

// BlockSize returns the plaintext payload size of one block.
func (a *Allocator) BlockSize() uint32 {
	return a.blockSize
}

// BitmapBytes returns the live bitmap for persistence into the sealed
// aspect state. The caller must not mutate it.
func (a *Allocator) BitmapBytes() []byte {
	return a.bitmap
}

// ReadBlock reads and opens block n, returning its BlockSize
// plaintext bytes. Reading an unallocated block is refused: nothing
// valid has ever been sealed there.
func (a *Allocator) ReadBlock(n uint32) ([]byte, error) {
	if n >= a.blocks {
		return nil, fmt.Errorf("%w: block %d of %d", ErrOutOfRange, n, a.blocks)
	}
	if !a.bitmap.test(n) {
		return nil, fmt.Errorf("reading block %d which is not allocated", n)
	}

	sealed, err := a.container.ReadRawBlock(a.index, n)
	if err != nil {
		return nil, err
	}
	plaintext, err := aspect.Open(sealed, a.blockKey, aspect.BlockAAD(a.index, n))
	if err != nil {
		return nil, fmt.Errorf("opening block %d: %w", n, err)
	}
	return plaintext, nil
}

// WriteBlock seals data into block n. Data shorter than BlockSize is
// zero-padded; longer is refused. The block must be allocated.
func (a *Allocator) WriteBlock(n uint32, data []byte) error {
	if n >= a.blocks {
		return fmt.Errorf("%w: block %d of %d", ErrOutOfRange, n, a.blocks)
	}
	if !a.bitmap.test(n) {
		return fmt.Errorf("writing block %d which is not allocated", n)
	}
	if uint32(len(data)) > a.blockSize {
		return fmt.Errorf("payload is %d bytes, block holds %d", len(data), a.blockSize)
	}

	plaintext := make([]byte, a.blockSize)
	copy(plaintext, data)

	sealed, err := aspect.Seal(plaintext, a.blockKey, aspect.BlockAAD(a.index, n))
	if err != nil {
		return fmt.Errorf("sealing block %d: %w", n, err)
	}
	return a.container.WriteRawBlock(a.index, n, sealed)
}
