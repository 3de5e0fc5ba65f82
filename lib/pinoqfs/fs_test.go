// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package pinoqfs

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/pinoq-fs/pinoq/lib/alloc"
	"github.com/pinoq-fs/pinoq/lib/index"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{index.ErrNotFound, syscall.ENOENT},
		{index.ErrExists, syscall.EEXIST},
		{index.ErrNotDirectory, syscall.ENOTDIR},
		{index.ErrIsDirectory, syscall.EISDIR},
		{index.ErrNotEmpty, syscall.ENOTEMPTY},
		{index.ErrInvalidName, syscall.EINVAL},
		{alloc.ErrOutOfSpace, syscall.ENOSPC},
		{errors.New("disk exploded"), syscall.EIO},
	}
	for _, c := range cases {
		if got := errno(c.err); got != c.want {
			t.Errorf("errno(%v) = %v, want %v", c.err, got, c.want)
		}
	}

	// Wrapped sentinels map the same as bare ones.
	wrapped := fmt.Errorf("creating %q: %w", "x", index.ErrExists)
	if got := errno(wrapped); got != syscall.EEXIST {
		t.Errorf("errno(wrapped ErrExists) = %v", got)
	}
}

func TestInoNeverZero(t *testing.T) {
	if ino(0) == 0 {
		t.Fatal("root block maps to reserved inode 0")
	}
	if ino(7) != 8 {
		t.Fatalf("ino(7) = %d, want 8", ino(7))
	}
}
