// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/pinoq-fs/pinoq/lib/codec"
)

var (
	// ErrNotFound reports a name with no entry in its directory.
	ErrNotFound = errors.New("no such file or directory")

	// ErrExists reports a create colliding with an existing name.
	ErrExists = errors.New("name already exists")

	// ErrNotDirectory reports a directory operation on a file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory reports a file operation on a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotEmpty reports removal of a non-empty directory.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrInvalidName reports an unusable entry name.
	ErrInvalidName = errors.New("invalid name")
)

// ID identifies an inode: the block number of its record block within
// the aspect's region.
type ID uint32

// Kind distinguishes files from directories.
type Kind uint8

const (
	// KindFile is a regular file.
	KindFile Kind = 1
	// KindDir is a directory.
	KindDir Kind = 2
)

// Attr is the public metadata of an inode.
type Attr struct {
	Kind  Kind
	Size  uint64
	Mtime time.Time
}

// DirEntry is one directory listing entry.
type DirEntry struct {
	Name string
	ID   ID
	Kind Kind
}

// record is the persisted form of an inode.
type record struct {
	Kind  Kind   `cbor:"kind"`
	Size  uint64 `cbor:"size"`
	Mtime int64  `cbor:"mtime"`
	// First is the head of the data block chain, or noBlock.
	First uint32 `cbor:"first"`
}

// loadRecord reads and decodes the inode record stored in block id.
func (ix *Index) loadRecord(id ID) (*record, error) {
	block, err := ix.alloc.ReadBlock(uint32(id))
	if err != nil {
		return nil, fmt.Errorf("loading inode %d: %w", id, err)
	}
	length := binary.BigEndian.Uint32(block)
	if int(length) > len(block)-4 {
		return nil, fmt.Errorf("inode %d record declares %d bytes in a %d byte block", id, length, len(block))
	}

	var rec record
	if err := codec.Unmarshal(block[4:4+length], &rec); err != nil {
		return nil, fmt.Errorf("decoding inode %d: %w", id, err)
	}
	if rec.Kind != KindFile && rec.Kind != KindDir {
		return nil, fmt.Errorf("inode %d has unknown kind %d", id, rec.Kind)
	}
	return &rec, nil
}

// storeRecord encodes and writes the inode record into block id.
func (ix *Index) storeRecord(id ID, rec *record) error {
	encoded, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding inode %d: %w", id, err)
	}
	if uint32(len(encoded)+4) > ix.alloc.BlockSize() {
		return fmt.Errorf("inode %d record is %d bytes, block holds %d", id, len(encoded)+4, ix.alloc.BlockSize())
	}

	block := make([]byte, 4+len(encoded))
	binary.BigEndian.PutUint32(block, uint32(len(encoded)))
	copy(block[4:], encoded)
	if err := ix.alloc.WriteBlock(uint32(id), block); err != nil {
		return fmt.Errorf("storing inode %d: %w", id, err)
	}
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}
