// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/pinoq-fs/pinoq/lib/aspect"
)

// Magic identifies a pinoq container ("PNOQ").
const Magic uint32 = 0x504E4F51

// FormatVersion is the on-disk format version written by this code.
const FormatVersion uint16 = 1

// HeaderSize is the reserved size of the global header. The encoded
// fields occupy the first 88 bytes; the remainder is zero.
const HeaderSize = 4096

// DefaultBlockSize is the block payload size used when FormatOptions
// does not specify one.
const DefaultBlockSize uint32 = 1 << 10

// Fixed field offsets within the header.
const (
	offMagic           = 0  // uint32
	offVersion         = 4  // uint16
	offReserved        = 6  // uint16, zero
	offBlockSize       = 8  // uint32
	offAspectCount     = 12 // uint32
	offBlocksPerAspect = 16 // uint32
	offKDFTime         = 20 // uint32
	offKDFMemoryKiB    = 24 // uint32
	offKDFParallelism  = 28 // uint8, then 3 pad bytes
	offSalt            = 32 // 16 bytes
	offUID             = 48 // uint32
	offGID             = 52 // uint32
	offChecksum        = 56 // 32 bytes, BLAKE3 of bytes [0, 56)
	headerEncodedSize  = 88
)

// Header is the decoded global header of a container.
type Header struct {
	// BlockSize is the plaintext payload size of one block.
	BlockSize uint32

	// AspectCount is the number of aspect slots.
	AspectCount uint32

	// BlocksPerAspect is the number of blocks in each aspect's
	// exclusive region.
	BlocksPerAspect uint32

	// KDF are the Argon2id parameters for this container.
	KDF aspect.KDFParams

	// Salt is the container-wide key derivation salt.
	Salt [aspect.SaltSize]byte

	// UID and GID were recorded at format time and are presented as
	// the owner of every file in every aspect.
	UID uint32
	GID uint32
}

// encode serializes the header into a HeaderSize buffer, computing
// the checksum.
func (h *Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[offMagic:], Magic)
	binary.BigEndian.PutUint16(buf[offVersion:], FormatVersion)
	binary.BigEndian.PutUint32(buf[offBlockSize:], h.BlockSize)
	binary.BigEndian.PutUint32(buf[offAspectCount:], h.AspectCount)
	binary.BigEndian.PutUint32(buf[offBlocksPerAspect:], h.BlocksPerAspect)
	binary.BigEndian.PutUint32(buf[offKDFTime:], h.KDF.Time)
	binary.BigEndian.PutUint32(buf[offKDFMemoryKiB:], h.KDF.MemoryKiB)
	buf[offKDFParallelism] = h.KDF.Parallelism
	copy(buf[offSalt:], h.Salt[:])
	binary.BigEndian.PutUint32(buf[offUID:], h.UID)
	binary.BigEndian.PutUint32(buf[offGID:], h.GID)

	checksum := blake3.Sum256(buf[:offChecksum])
	copy(buf[offChecksum:], checksum[:])
	return buf
}

// decodeHeader parses and validates a header buffer. Every validation
// failure wraps ErrCorruptContainer.
func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < headerEncodedSize {
		return nil, fmt.Errorf("%w: header truncated at %d bytes", ErrCorruptContainer, len(buf))
	}
	if magic := binary.BigEndian.Uint32(buf[offMagic:]); magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrCorruptContainer, magic)
	}
	if version := binary.BigEndian.Uint16(buf[offVersion:]); version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptContainer, version)
	}

	checksum := blake3.Sum256(buf[:offChecksum])
	if !bytes.Equal(checksum[:], buf[offChecksum:offChecksum+32]) {
		return nil, fmt.Errorf("%w: header checksum mismatch", ErrCorruptContainer)
	}

	h := &Header{
		BlockSize:       binary.BigEndian.Uint32(buf[offBlockSize:]),
		AspectCount:     binary.BigEndian.Uint32(buf[offAspectCount:]),
		BlocksPerAspect: binary.BigEndian.Uint32(buf[offBlocksPerAspect:]),
		KDF: aspect.KDFParams{
			Time:        binary.BigEndian.Uint32(buf[offKDFTime:]),
			MemoryKiB:   binary.BigEndian.Uint32(buf[offKDFMemoryKiB:]),
			Parallelism: buf[offKDFParallelism],
		},
		UID: binary.BigEndian.Uint32(buf[offUID:]),
		GID: binary.BigEndian.Uint32(buf[offGID:]),
	}
	copy(h.Salt[:], buf[offSalt:])

	if h.BlockSize == 0 || h.AspectCount == 0 || h.BlocksPerAspect == 0 {
		return nil, fmt.Errorf("%w: zero geometry (block size %d, aspects %d, blocks per aspect %d)",
			ErrCorruptContainer, h.BlockSize, h.AspectCount, h.BlocksPerAspect)
	}
	if err := h.KDF.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptContainer, err)
	}
	return h, nil
}

// SlotSize is the reserved on-disk size of one aspect slot: a 4-byte
// length prefix plus the worst-case sealed state, rounded up to 512.
func (h *Header) SlotSize() int64 {
	return roundUp(4+int64(aspect.SealedStateMaxSize(h.BlocksPerAspect)), 512)
}

// BlockStride is the on-disk size of one sealed block.
func (h *Header) BlockStride() int64 {
	return int64(h.BlockSize) + aspect.SealedOverhead
}

// SlotOffset is the absolute file offset of aspect slot index.
func (h *Header) SlotOffset(index uint32) int64 {
	return HeaderSize + int64(index)*h.SlotSize()
}

// RegionOffset is the absolute file offset of the block region owned
// exclusively by aspect index.
func (h *Header) RegionOffset(index uint32) int64 {
	regions := HeaderSize + int64(h.AspectCount)*h.SlotSize()
	return regions + int64(index)*int64(h.BlocksPerAspect)*h.BlockStride()
}

// FileSize is the total container file size implied by the geometry.
func (h *Header) FileSize() int64 {
	return h.RegionOffset(h.AspectCount)
}

func roundUp(n, to int64) int64 {
	return (n + to - 1) / to * to
}
