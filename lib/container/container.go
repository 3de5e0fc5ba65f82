// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/pinoq-fs/pinoq/lib/aspect"
	"github.com/pinoq-fs/pinoq/lib/secret"
)

var (
	// ErrInvalidArgument reports unusable format parameters.
	ErrInvalidArgument = errors.New("invalid container parameters")

	// ErrCorruptContainer reports a file that fails header or
	// structural validation on open.
	ErrCorruptContainer = errors.New("corrupt container")

	// ErrAlreadyMounted reports that another process holds the
	// container's exclusive lock.
	ErrAlreadyMounted = errors.New("container is already mounted")

	// ErrOutOfRange reports a block number outside an aspect's
	// region, or an aspect index outside the container.
	ErrOutOfRange = errors.New("block address out of range")
)

// Container is an open container file. It owns the file handle and,
// unless opened via OpenInspect, the exclusive advisory lock.
type Container struct {
	file   *os.File
	path   string
	header Header
	locked bool
}

// FormatOptions are the parameters for Format.
type FormatOptions struct {
	// AspectCount is the number of aspect slots. Must be at least 1.
	AspectCount uint32

	// SizeInBlocks is the container-wide block budget. It is split
	// evenly across aspects; every aspect must receive at least one
	// block.
	SizeInBlocks uint32

	// BlockSize is the block payload size. Zero means
	// DefaultBlockSize.
	BlockSize uint32

	// Password seals every aspect slot. Individual slots can be
	// re-sealed under their own passwords later with Rekey.
	Password *secret.Buffer

	// KDF are the Argon2id parameters recorded in the header. The
	// zero value means aspect.DefaultKDFParams.
	KDF aspect.KDFParams

	// UID and GID are recorded in the header and presented as the
	// owner of all files.
	UID uint32
	GID uint32

	// Logger receives progress messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Format creates a new container file at path: writes the global
// header, partitions the space into equal disjoint regions, and seals
// a blank state into every aspect slot keyed by (password, index).
// The file must not already exist.
func Format(path string, opts FormatOptions) (err error) {
	if opts.AspectCount < 1 {
		return fmt.Errorf("%w: aspect count must be at least 1, got %d", ErrInvalidArgument, opts.AspectCount)
	}
	if opts.SizeInBlocks < opts.AspectCount {
		return fmt.Errorf("%w: %d blocks cannot give %d aspects one block each",
			ErrInvalidArgument, opts.SizeInBlocks, opts.AspectCount)
	}
	if opts.Password == nil {
		return fmt.Errorf("%w: password is required", ErrInvalidArgument)
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.KDF == (aspect.KDFParams{}) {
		opts.KDF = aspect.DefaultKDFParams
	}
	if err := opts.KDF.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	header := Header{
		BlockSize:       opts.BlockSize,
		AspectCount:     opts.AspectCount,
		BlocksPerAspect: opts.SizeInBlocks / opts.AspectCount,
		KDF:             opts.KDF,
		UID:             opts.UID,
		GID:             opts.GID,
	}
	if _, err := io.ReadFull(rand.Reader, header.Salt[:]); err != nil {
		return fmt.Errorf("generating container salt: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating container file: %w", err)
	}
	defer func() {
		file.Close()
		if err != nil {
			os.Remove(path)
		}
	}()

	if err := file.Truncate(header.FileSize()); err != nil {
		return fmt.Errorf("sizing container file to %d bytes: %w", header.FileSize(), err)
	}
	if _, err := file.WriteAt(header.encode(), 0); err != nil {
		return fmt.Errorf("writing container header: %w", err)
	}

	logger.Info("formatting container",
		"path", path,
		"aspects", header.AspectCount,
		"blocks_per_aspect", header.BlocksPerAspect,
		"block_size", header.BlockSize,
	)

	for index := uint32(0); index < header.AspectCount; index++ {
		if err := formatSlot(file, &header, index, opts.Password); err != nil {
			return fmt.Errorf("provisioning aspect %d: %w", index, err)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing container file: %w", err)
	}
	return nil
}

// formatSlot seals a blank state into slot index under the
// password-derived key.
func formatSlot(file *os.File, header *Header, index uint32, password *secret.Buffer) error {
	slotKey, err := aspect.DeriveSlotKey(password, header.Salt[:], index, header.KDF)
	if err != nil {
		return err
	}
	defer slotKey.Close()

	state, err := aspect.NewBlankState(header.BlocksPerAspect)
	if err != nil {
		return err
	}
	defer secret.Zero(state.BlockKey)

	blob, err := aspect.SealState(state, slotKey, index)
	if err != nil {
		return err
	}
	return writeSlotAt(file, header, index, blob)
}

// Open opens an existing container read-write, validates its header,
// and takes the exclusive advisory lock. Returns ErrCorruptContainer
// on any validation failure and ErrAlreadyMounted when another
// process holds the lock.
func Open(path string) (*Container, error) {
	return open(path, true)
}

// OpenInspect opens a container read-only without taking the lock.
// For header inspection alongside a live mount.
func OpenInspect(path string) (*Container, error) {
	return open(path, false)
}

func open(path string, exclusive bool) (*Container, error) {
	mode := os.O_RDONLY
	if exclusive {
		mode = os.O_RDWR
	}
	file, err := os.OpenFile(path, mode, 0)
	if err != nil {
		return nil, fmt.Errorf("opening container file: %w", err)
	}

	buf := make([]byte, HeaderSize)
	if _, err := file.ReadAt(buf, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorruptContainer, err)
	}
	header, err := decodeHeader(buf)
	if err != nil {
		file.Close()
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat container file: %w", err)
	}
	if info.Size() != header.FileSize() {
		file.Close()
		return nil, fmt.Errorf("%w: file is %d bytes, header declares %d",
			ErrCorruptContainer, info.Size(), header.FileSize())
	}

	if exclusive {
		if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			file.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, fmt.Errorf("%w: %s", ErrAlreadyMounted, path)
			}
			return nil, fmt.Errorf("locking container file: %w", err)
		}
	}

	return &Container{file: file, path: path, header: *header, locked: exclusive}, nil
}

// Header returns the decoded global header.
func (c *Container) Header() Header {
	return c.header
}

// Path returns the container file path.
func (c *Container) Path() string {
	return c.path
}

// Fingerprint returns a short public identifier for the container,
// derived from its salt. Safe to log.
func (c *Container) Fingerprint() string {
	sum := blake3.Sum256(c.header.Salt[:])
	return hex.EncodeToString(sum[:4])
}

// ReadSlot reads the sealed state blob of aspect slot index.
func (c *Container) ReadSlot(index uint32) ([]byte, error) {
	if index >= c.header.AspectCount {
		return nil, fmt.Errorf("%w: aspect %d of %d", ErrOutOfRange, index, c.header.AspectCount)
	}

	offset := c.header.SlotOffset(index)
	var prefix [4]byte
	if _, err := c.file.ReadAt(prefix[:], offset); err != nil {
		return nil, fmt.Errorf("reading slot %d: %w", index, err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 || int64(length) > c.header.SlotSize()-4 {
		return nil, fmt.Errorf("%w: slot %d declares %d bytes (slot size %d)",
			ErrCorruptContainer, index, length, c.header.SlotSize())
	}

	blob := make([]byte, length)
	if _, err := c.file.ReadAt(blob, offset+4); err != nil {
		return nil, fmt.Errorf("reading slot %d: %w", index, err)
	}
	return blob, nil
}

// WriteSlot writes a sealed state blob into aspect slot index.
func (c *Container) WriteSlot(index uint32, blob []byte) error {
	if index >= c.header.AspectCount {
		return fmt.Errorf("%w: aspect %d of %d", ErrOutOfRange, index, c.header.AspectCount)
	}
	if int64(len(blob)) > c.header.SlotSize()-4 {
		return fmt.Errorf("sealed state is %d bytes, slot holds %d", len(blob), c.header.SlotSize()-4)
	}
	return writeSlotAt(c.file, &c.header, index, blob)
}

func writeSlotAt(file *os.File, header *Header, index uint32, blob []byte) error {
	buf := make([]byte, 4+len(blob))
	binary.BigEndian.PutUint32(buf, uint32(len(blob)))
	copy(buf[4:], blob)
	if _, err := file.WriteAt(buf, header.SlotOffset(index)); err != nil {
		return fmt.Errorf("writing slot %d: %w", index, err)
	}
	return nil
}

// ReadRawBlock reads the sealed bytes of one block. The aspect index
// and block number are bounds-checked against the layout; this is the
// single point where block numbers become file offsets.
func (c *Container) ReadRawBlock(index, block uint32) ([]byte, error) {
	offset, err := c.blockOffset(index, block)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, c.header.BlockStride())
	if _, err := c.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("reading block %d of aspect %d: %w", block, index, err)
	}
	return buf, nil
}

// WriteRawBlock writes the sealed bytes of one block. The buffer must
// be exactly BlockStride bytes.
func (c *Container) WriteRawBlock(index, block uint32, data []byte) error {
	offset, err := c.blockOffset(index, block)
	if err != nil {
		return err
	}
	if int64(len(data)) != c.header.BlockStride() {
		return fmt.Errorf("sealed block is %d bytes, stride is %d", len(data), c.header.BlockStride())
	}
	if _, err := c.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("writing block %d of aspect %d: %w", block, index, err)
	}
	return nil
}

// blockOffset translates (aspect, block) to an absolute file offset,
// refusing anything outside the aspect's exclusive region.
func (c *Container) blockOffset(index, block uint32) (int64, error) {
	if index >= c.header.AspectCount {
		return 0, fmt.Errorf("%w: aspect %d of %d", ErrOutOfRange, index, c.header.AspectCount)
	}
	if block >= c.header.BlocksPerAspect {
		return 0, fmt.Errorf("%w: block %d of %d", ErrOutOfRange, block, c.header.BlocksPerAspect)
	}
	return c.header.RegionOffset(index) + int64(block)*c.header.BlockStride(), nil
}

// Sync flushes all written data to stable storage.
func (c *Container) Sync() error {
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("syncing container file: %w", err)
	}
	return nil
}

// Close releases the advisory lock and closes the file. Idempotent.
func (c *Container) Close() error {
	if c.file == nil {
		return nil
	}
	file := c.file
	c.file = nil
	if c.locked {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing container file: %w", err)
	}
	return nil
}
