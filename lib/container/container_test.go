// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pinoq-fs/pinoq/lib/aspect"
	"github.com/pinoq-fs/pinoq/lib/secret"
)

var testKDFParams = aspect.KDFParams{Time: 1, MemoryKiB: 64, Parallelism: 1}

func testPassword(t *testing.T) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte("password"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func formatTestContainer(t *testing.T, aspects, blocks uint32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volume.pnoq")
	err := Format(path, FormatOptions{
		AspectCount:  aspects,
		SizeInBlocks: blocks,
		Password:     testPassword(t),
		KDF:          testKDFParams,
		UID:          1000,
		GID:          1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFormatThenOpenRoundTrip(t *testing.T) {
	path := formatTestContainer(t, 2, 1024)

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	header := c.Header()
	if header.AspectCount != 2 {
		t.Fatalf("aspect count = %d, want 2", header.AspectCount)
	}
	if header.BlocksPerAspect != 512 {
		t.Fatalf("blocks per aspect = %d, want 512", header.BlocksPerAspect)
	}
	if header.BlockSize != DefaultBlockSize {
		t.Fatalf("block size = %d, want %d", header.BlockSize, DefaultBlockSize)
	}
	if header.UID != 1000 || header.GID != 1000 {
		t.Fatalf("owner = %d:%d, want 1000:1000", header.UID, header.GID)
	}
	if header.KDF != testKDFParams {
		t.Fatalf("KDF params = %+v, want %+v", header.KDF, testKDFParams)
	}
}

func TestFormatRejectsBadParameters(t *testing.T) {
	dir := t.TempDir()

	err := Format(filepath.Join(dir, "a.pnoq"), FormatOptions{
		AspectCount:  0,
		SizeInBlocks: 100,
		Password:     testPassword(t),
		KDF:          testKDFParams,
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("zero aspects: err = %v, want ErrInvalidArgument", err)
	}

	// Too few blocks to give every aspect one.
	err = Format(filepath.Join(dir, "b.pnoq"), FormatOptions{
		AspectCount:  4,
		SizeInBlocks: 3,
		Password:     testPassword(t),
		KDF:          testKDFParams,
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("too small: err = %v, want ErrInvalidArgument", err)
	}

	if _, statErr := os.Stat(filepath.Join(dir, "b.pnoq")); !os.IsNotExist(statErr) {
		t.Fatal("failed format left a file behind")
	}
}

func TestFormatRefusesExistingFile(t *testing.T) {
	path := formatTestContainer(t, 1, 16)
	err := Format(path, FormatOptions{
		AspectCount:  1,
		SizeInBlocks: 16,
		Password:     testPassword(t),
		KDF:          testKDFParams,
	})
	if err == nil {
		t.Fatal("formatting over an existing container succeeded")
	}
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	path := formatTestContainer(t, 2, 64)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[0] ^= 0xFF // break the magic
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); !errors.Is(err, ErrCorruptContainer) {
		t.Fatalf("bad magic: err = %v, want ErrCorruptContainer", err)
	}
}

func TestOpenRejectsChecksumMismatch(t *testing.T) {
	path := formatTestContainer(t, 2, 64)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a bit inside the checksummed region (the salt).
	if _, err := file.WriteAt([]byte{0xAA}, offSalt); err != nil {
		t.Fatal(err)
	}
	file.Close()

	if _, err := Open(path); !errors.Is(err, ErrCorruptContainer) {
		t.Fatalf("tampered salt: err = %v, want ErrCorruptContainer", err)
	}
}

func TestOpenRejectsWrongFileLength(t *testing.T) {
	path := formatTestContainer(t, 2, 64)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-1); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); !errors.Is(err, ErrCorruptContainer) {
		t.Fatalf("truncated file: err = %v, want ErrCorruptContainer", err)
	}
}

func TestOpenIsExclusive(t *testing.T) {
	path := formatTestContainer(t, 1, 16)

	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	if _, err := Open(path); !errors.Is(err, ErrAlreadyMounted) {
		t.Fatalf("second open: err = %v, want ErrAlreadyMounted", err)
	}

	// Inspection does not contend for the lock.
	inspect, err := OpenInspect(path)
	if err != nil {
		t.Fatalf("OpenInspect alongside a mount: %v", err)
	}
	inspect.Close()

	// After close, the lock is free again.
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatalf("open after close: %v", err)
	}
	second.Close()
}

func TestSlotRoundTripAndDisjointness(t *testing.T) {
	path := formatTestContainer(t, 3, 96)
	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// Each freshly formatted slot opens under its own derived key.
	password := testPassword(t)
	header := c.Header()
	for index := uint32(0); index < header.AspectCount; index++ {
		blob, err := c.ReadSlot(index)
		if err != nil {
			t.Fatal(err)
		}
		slotKey, err := aspect.DeriveSlotKey(password, header.Salt[:], index, header.KDF)
		if err != nil {
			t.Fatal(err)
		}
		state, err := aspect.OpenState(blob, slotKey, index)
		slotKey.Close()
		if err != nil {
			t.Fatalf("slot %d: %v", index, err)
		}
		if state.RootBlock != aspect.NoBlock {
			t.Fatalf("slot %d: fresh root = %d, want NoBlock", index, state.RootBlock)
		}
	}

	if _, err := c.ReadSlot(3); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("slot out of range: err = %v, want ErrOutOfRange", err)
	}
}

func TestBlockOffsetsAreDisjointAcrossAspects(t *testing.T) {
	path := formatTestContainer(t, 2, 64)
	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	header := c.Header()
	endOfAspect0 := header.RegionOffset(0) + int64(header.BlocksPerAspect)*header.BlockStride()
	if endOfAspect0 > header.RegionOffset(1) {
		t.Fatalf("aspect 0 region [%d, %d) overlaps aspect 1 at %d",
			header.RegionOffset(0), endOfAspect0, header.RegionOffset(1))
	}

	if _, err := c.blockOffset(0, header.BlocksPerAspect); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("block past region end: err = %v, want ErrOutOfRange", err)
	}
	if _, err := c.blockOffset(2, 0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("aspect past container end: err = %v, want ErrOutOfRange", err)
	}
}

func TestRawBlockRoundTrip(t *testing.T) {
	path := formatTestContainer(t, 1, 8)
	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	header := c.Header()
	stride := int(header.BlockStride())
	data := make([]byte, stride)
	for i := range data {
		data[i] = byte(i)
	}
	if err := c.WriteRawBlock(0, 3, data); err != nil {
		t.Fatal(err)
	}

	got, err := c.ReadRawBlock(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, got[i], byte(i))
		}
	}

	if err := c.WriteRawBlock(0, 3, data[:10]); err == nil {
		t.Fatal("short raw block write accepted")
	}
}
