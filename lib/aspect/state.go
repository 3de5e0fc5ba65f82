// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package aspect

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/pinoq-fs/pinoq/lib/codec"
	"github.com/pinoq-fs/pinoq/lib/secret"
)

// NoBlock marks "no block assigned". A freshly formatted aspect has
// NoBlock as its root until the first mount initializes the root
// directory.
const NoBlock uint32 = 0xFFFFFFFF

// State is the plaintext content of an aspect slot: everything the
// mount needs to reconstruct the allocator and the filesystem index
// for this aspect, and nothing about any other aspect.
type State struct {
	// BlockKey is the random key that seals this aspect's blocks.
	// It is generated at format time and never changes, so changing
	// the slot password (which re-seals the State) does not require
	// re-encrypting the block region.
	BlockKey []byte `cbor:"block_key"`

	// RootBlock is the block number of the root directory inode,
	// or NoBlock before the first mount.
	RootBlock uint32 `cbor:"root"`

	// Bitmap is the raw allocation bitmap for the aspect's block
	// region, one bit per block, LSB-first within each byte.
	Bitmap []byte `cbor:"bitmap"`
}

// NewBlankState creates the state written into a slot at format time:
// a fresh random block key, no root, and an all-free bitmap sized for
// blocksPerAspect blocks.
func NewBlankState(blocksPerAspect uint32) (*State, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating aspect block key: %w", err)
	}
	return &State{
		BlockKey:  key,
		RootBlock: NoBlock,
		Bitmap:    make([]byte, BitmapLen(blocksPerAspect)),
	}, nil
}

// BitmapLen is the byte length of an allocation bitmap covering
// blocksPerAspect blocks.
func BitmapLen(blocksPerAspect uint32) int {
	return int(blocksPerAspect+7) / 8
}

// SealedStateMaxSize is an upper bound on the sealed size of a State
// for an aspect with blocksPerAspect blocks. The container layout
// reserves this much room per slot, so the sealed record always fits
// regardless of CBOR length-header variation.
func SealedStateMaxSize(blocksPerAspect uint32) int {
	// Map header, three keys, byte-string and integer headers: well
	// under 128 bytes of CBOR framing around the key and the bitmap.
	return SealedOverhead + 128 + KeySize + BitmapLen(blocksPerAspect)
}

// SealState serializes and seals the state for aspect index under the
// password-derived slot key.
func SealState(state *State, slotKey *secret.Buffer, index uint32) ([]byte, error) {
	plaintext, err := codec.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding aspect state: %w", err)
	}
	defer secret.Zero(plaintext)

	return Seal(plaintext, slotKey, SlotAAD(index))
}

// OpenState opens and decodes a sealed state for aspect index.
// Returns ErrAuthentication when the slot key does not verify.
func OpenState(blob []byte, slotKey *secret.Buffer, index uint32) (*State, error) {
	plaintext, err := Open(blob, slotKey, SlotAAD(index))
	if err != nil {
		return nil, err
	}
	defer secret.Zero(plaintext)

	var state State
	if err := codec.Unmarshal(plaintext, &state); err != nil {
		// Structurally invalid plaintext behind a valid tag should
		// not happen; treat it the same as a failed open rather than
		// leaking a distinct error path.
		return nil, ErrAuthentication
	}
	if len(state.BlockKey) != KeySize {
		return nil, ErrAuthentication
	}
	return &state, nil
}
