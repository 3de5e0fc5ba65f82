// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pinoq-fs/pinoq/lib/alloc"
	"github.com/pinoq-fs/pinoq/lib/aspect"
	"github.com/pinoq-fs/pinoq/lib/container"
	"github.com/pinoq-fs/pinoq/lib/index"
	"github.com/pinoq-fs/pinoq/lib/secret"
)

// Session is one unlocked aspect of an exclusively locked container.
// Reads may run concurrently; mutations are exclusive and persist the
// sealed aspect state before returning.
type Session struct {
	mu sync.RWMutex

	container *container.Container
	aspect    uint32
	slotKey   *secret.Buffer
	blockKey  *secret.Buffer
	state     *aspect.State
	alloc     *alloc.Allocator
	index     *index.Index
	logger    *slog.Logger

	closed bool
}

// OpenSession locks the container at path, unlocks aspect
// aspectIndex with password, and prepares it for serving. The first
// mount of an aspect provisions its root directory.
//
// The password buffer is only read during key derivation; the caller
// keeps ownership and should close it once OpenSession returns.
func OpenSession(path string, aspectIndex uint32, password *secret.Buffer, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	header := c.Header()
	if aspectIndex >= header.AspectCount {
		c.Close()
		return nil, fmt.Errorf("%w: aspect %d of %d", container.ErrOutOfRange, aspectIndex, header.AspectCount)
	}

	slotKey, err := aspect.DeriveSlotKey(password, header.Salt[:], aspectIndex, header.KDF)
	if err != nil {
		c.Close()
		return nil, err
	}

	blob, err := c.ReadSlot(aspectIndex)
	if err != nil {
		slotKey.Close()
		c.Close()
		return nil, err
	}
	state, err := aspect.OpenState(blob, slotKey, aspectIndex)
	if err != nil {
		slotKey.Close()
		c.Close()
		return nil, fmt.Errorf("unlocking aspect %d: %w", aspectIndex, err)
	}

	// Move the block key into locked memory; the sealed state keeps
	// referencing the locked copy so re-sealing still includes it.
	blockKey, err := secret.NewFromBytes(state.BlockKey)
	if err != nil {
		slotKey.Close()
		c.Close()
		return nil, err
	}
	state.BlockKey = blockKey.Bytes()

	s := &Session{
		container: c,
		aspect:    aspectIndex,
		slotKey:   slotKey,
		blockKey:  blockKey,
		state:     state,
		logger:    logger.With("aspect", aspectIndex, "container", c.Fingerprint()),
	}
	s.alloc, err = alloc.New(c, aspectIndex, blockKey, state.Bitmap)
	if err != nil {
		s.teardown()
		return nil, err
	}

	if state.RootBlock == aspect.NoBlock {
		// First mount of this aspect: provision the root directory
		// and persist it so a crash before the first write still
		// leaves a mountable filesystem.
		s.index, err = index.Init(s.alloc)
		if err != nil {
			s.teardown()
			return nil, err
		}
		state.RootBlock = uint32(s.index.Root())
		if err := s.persistState(); err != nil {
			s.teardown()
			return nil, err
		}
		if err := c.Sync(); err != nil {
			s.teardown()
			return nil, err
		}
		s.logger.Info("aspect provisioned", "root", state.RootBlock)
	} else {
		s.index, err = index.Load(s.alloc, index.ID(state.RootBlock))
		if err != nil {
			s.teardown()
			return nil, err
		}
	}

	s.logger.Info("session opened",
		"blocks", s.alloc.Blocks(),
		"free", s.alloc.FreeBlocks(),
	)
	return s, nil
}

// persistState re-seals the aspect state (root block and allocation
// bitmap) into the slot. Callers hold the write lock.
func (s *Session) persistState() error {
	blob, err := aspect.SealState(s.state, s.slotKey, s.aspect)
	if err != nil {
		return err
	}
	return s.container.WriteSlot(s.aspect, blob)
}

// Aspect returns the mounted aspect's index.
func (s *Session) Aspect() uint32 {
	return s.aspect
}

// BlockSize returns the payload size of one block.
func (s *Session) BlockSize() uint32 {
	return s.alloc.BlockSize()
}

// Owner returns the uid and gid recorded at format time, presented as
// the owner of every file.
func (s *Session) Owner() (uid, gid uint32) {
	header := s.container.Header()
	return header.UID, header.GID
}

// Root returns the root directory's inode ID.
func (s *Session) Root() index.ID {
	return s.index.Root()
}

// Stat returns an inode's metadata.
func (s *Session) Stat(id index.ID) (index.Attr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Stat(id)
}

// Kind returns the kind of an inode.
func (s *Session) Kind(id index.ID) (index.Kind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Kind(id)
}

// Lookup resolves name within directory dir.
func (s *Session) Lookup(dir index.ID, name string) (index.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Lookup(dir, name)
}

// List returns the entries of directory dir.
func (s *Session) List(dir index.ID) ([]index.DirEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.List(dir)
}

// Create adds an empty file or directory to dir.
func (s *Session) Create(dir index.ID, name string, kind index.Kind) (index.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.index.Create(dir, name, kind)
	if err != nil {
		return 0, err
	}
	if err := s.persistState(); err != nil {
		return 0, fmt.Errorf("persisting state after create: %w", err)
	}
	return id, nil
}

// Remove deletes the entry name from dir.
func (s *Session) Remove(dir index.ID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Remove(dir, name); err != nil {
		return err
	}
	if err := s.persistState(); err != nil {
		return fmt.Errorf("persisting state after remove: %w", err)
	}
	return nil
}

// ReadAt reads up to length bytes of file id at offset off.
func (s *Session) ReadAt(id index.ID, off int64, length int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.ReadAt(id, off, length)
}

// WriteAt writes data into file id at offset off.
func (s *Session) WriteAt(id index.ID, off int64, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.index.WriteAt(id, off, data)
	if err != nil {
		return 0, err
	}
	if err := s.persistState(); err != nil {
		return 0, fmt.Errorf("persisting state after write: %w", err)
	}
	return n, nil
}

// Truncate sets file id's size.
func (s *Session) Truncate(id index.ID, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Truncate(id, size); err != nil {
		return err
	}
	if err := s.persistState(); err != nil {
		return fmt.Errorf("persisting state after truncate: %w", err)
	}
	return nil
}

// Flush re-seals the aspect state and syncs the container to stable
// storage.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistState(); err != nil {
		return err
	}
	return s.container.Sync()
}

// Close flushes and releases the session. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.persistState(); err != nil {
		firstErr = err
	}
	if err := s.container.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.teardown()
	s.logger.Info("session closed")
	return firstErr
}

// teardown releases keys and the container without flushing.
func (s *Session) teardown() {
	// The sealed state references the locked block key copy; detach
	// it before the buffer is closed.
	s.state.BlockKey = nil
	s.blockKey.Close()
	s.slotKey.Close()
	s.container.Close()
}
