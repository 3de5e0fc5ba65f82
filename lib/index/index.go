// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/pinoq-fs/pinoq/lib/alloc"
	"github.com/pinoq-fs/pinoq/lib/codec"
)

// Index is the directory/inode tree of one mounted aspect. Not safe
// for concurrent use; the mount session serializes access.
type Index struct {
	alloc *alloc.Allocator
	root  ID
	now   func() time.Time
}

// Init creates the root directory for a freshly provisioned aspect.
// Runs on the first mount; the allocated root block number must be
// persisted into the aspect's sealed state by the caller.
func Init(a *alloc.Allocator) (*Index, error) {
	ix := &Index{alloc: a, now: time.Now}

	id, err := a.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocating root directory: %w", err)
	}
	root := &record{Kind: KindDir, First: noBlock, Mtime: ix.now().Unix()}
	ix.root = ID(id)
	if err := ix.storeRecord(ix.root, root); err != nil {
		a.Free(id)
		return nil, fmt.Errorf("initializing root directory: %w", err)
	}
	return ix, nil
}

// Load hydrates the index of a previously initialized aspect from its
// root block.
func Load(a *alloc.Allocator, root ID) (*Index, error) {
	ix := &Index{alloc: a, root: root, now: time.Now}
	rec, err := ix.loadRecord(root)
	if err != nil {
		return nil, fmt.Errorf("loading root directory: %w", err)
	}
	if rec.Kind != KindDir {
		return nil, fmt.Errorf("root inode %d is not a directory", root)
	}
	return ix, nil
}

// Root returns the root directory's inode ID.
func (ix *Index) Root() ID {
	return ix.root
}

// Stat returns an inode's metadata.
func (ix *Index) Stat(id ID) (Attr, error) {
	rec, err := ix.loadRecord(id)
	if err != nil {
		return Attr{}, err
	}
	return Attr{Kind: rec.Kind, Size: rec.Size, Mtime: time.Unix(rec.Mtime, 0)}, nil
}

// Lookup resolves name within directory dir.
func (ix *Index) Lookup(dir ID, name string) (ID, error) {
	entries, _, err := ix.readDir(dir)
	if err != nil {
		return 0, err
	}
	id, ok := entries[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return ID(id), nil
}

// List returns the entries of directory dir, sorted by name. A
// freshly initialized directory lists empty.
func (ix *Index) List(dir ID) ([]DirEntry, error) {
	entries, _, err := ix.readDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	listing := make([]DirEntry, 0, len(entries))
	for _, name := range names {
		id := ID(entries[name])
		rec, err := ix.loadRecord(id)
		if err != nil {
			return nil, fmt.Errorf("listing %q: %w", name, err)
		}
		listing = append(listing, DirEntry{Name: name, ID: id, Kind: rec.Kind})
	}
	return listing, nil
}

// Create adds a new empty file or directory named name to directory
// dir and returns its inode ID.
func (ix *Index) Create(dir ID, name string, kind Kind) (ID, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	if kind != KindFile && kind != KindDir {
		return 0, fmt.Errorf("unknown inode kind %d", kind)
	}

	entries, drec, err := ix.readDir(dir)
	if err != nil {
		return 0, err
	}
	if _, ok := entries[name]; ok {
		return 0, fmt.Errorf("%w: %q", ErrExists, name)
	}

	block, err := ix.alloc.Allocate()
	if err != nil {
		return 0, fmt.Errorf("allocating inode for %q: %w", name, err)
	}
	id := ID(block)
	rec := &record{Kind: kind, First: noBlock, Mtime: ix.now().Unix()}
	if err := ix.storeRecord(id, rec); err != nil {
		ix.alloc.Free(block)
		return 0, err
	}

	entries[name] = uint32(id)
	if err := ix.writeDir(dir, drec, entries); err != nil {
		// Roll the new inode back; the directory on disk is
		// unchanged.
		ix.alloc.Free(block)
		return 0, err
	}
	return id, nil
}

// Remove deletes the entry name from directory dir, freeing the
// removed inode's data chain and record block. Directories must be
// empty.
func (ix *Index) Remove(dir ID, name string) error {
	entries, drec, err := ix.readDir(dir)
	if err != nil {
		return err
	}
	victim, ok := entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	vrec, err := ix.loadRecord(ID(victim))
	if err != nil {
		return err
	}
	if vrec.Kind == KindDir {
		children, _, err := ix.readDir(ID(victim))
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: %q", ErrNotEmpty, name)
		}
	}

	// Unlink from the directory first; only free blocks once the
	// entry is durably gone.
	delete(entries, name)
	if err := ix.writeDir(dir, drec, entries); err != nil {
		return err
	}

	if err := ix.freeChain(vrec); err != nil {
		return err
	}
	return ix.alloc.Free(victim)
}

// Kind returns the kind of an inode.
func (ix *Index) Kind(id ID) (Kind, error) {
	rec, err := ix.loadRecord(id)
	if err != nil {
		return 0, err
	}
	return rec.Kind, nil
}

// ReadAt reads up to length bytes of file id at offset off. Returns
// fewer bytes at end of file and none at or past it.
func (ix *Index) ReadAt(id ID, off int64, length int) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("negative read offset or length")
	}
	rec, err := ix.loadRecord(id)
	if err != nil {
		return nil, err
	}
	if rec.Kind != KindFile {
		return nil, fmt.Errorf("%w: inode %d", ErrIsDirectory, id)
	}

	start := uint64(off)
	if start >= rec.Size {
		return nil, nil
	}
	end := start + uint64(length)
	if end > rec.Size {
		end = rec.Size
	}

	chain, err := ix.chainBlocks(rec)
	if err != nil {
		return nil, err
	}

	payload := ix.payloadSize()
	data := make([]byte, 0, end-start)
	for i := int(start / payload); uint64(i)*payload < end; i++ {
		chunk, err := ix.readChainBlock(chain[i])
		if err != nil {
			return nil, err
		}
		chunkStart := uint64(i) * payload
		from := uint64(0)
		if start > chunkStart {
			from = start - chunkStart
		}
		to := payload
		if chunkStart+to > end {
			to = end - chunkStart
		}
		data = append(data, chunk[from:to]...)
	}
	return data, nil
}

// WriteAt writes data into file id at offset off, growing the file
// and zero-filling any gap past the old end. Either every block the
// write needs is committed or none is: an allocation failure releases
// the reservation and leaves the inode unchanged.
func (ix *Index) WriteAt(id ID, off int64, data []byte) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative write offset")
	}
	rec, err := ix.loadRecord(id)
	if err != nil {
		return 0, err
	}
	if rec.Kind != KindFile {
		return 0, fmt.Errorf("%w: inode %d", ErrIsDirectory, id)
	}
	if len(data) == 0 {
		return 0, nil
	}

	start := uint64(off)
	end := start + uint64(len(data))
	newSize := rec.Size
	if end > newSize {
		newSize = end
	}

	chain, err := ix.chainBlocks(rec)
	if err != nil {
		return 0, err
	}
	chain, err = ix.extendChain(chain, ix.blocksFor(newSize))
	if err != nil {
		return 0, err
	}

	// Bytes past the old size are zero (maintained by Truncate and
	// by extendChain writing fresh blocks zeroed), so a sparse gap
	// between the old end and off needs no explicit fill.
	payload := ix.payloadSize()
	for i := int(start / payload); uint64(i)*payload < end; i++ {
		chunkStart := uint64(i) * payload
		next := noBlock
		if i+1 < len(chain) {
			next = chain[i+1]
		}

		var chunk []byte
		if start <= chunkStart && end >= chunkStart+payload {
			// Fully covered block: no read needed.
			chunk = data[chunkStart-start : chunkStart-start+payload]
		} else {
			chunk, err = ix.readChainBlock(chain[i])
			if err != nil {
				return 0, err
			}
			from := uint64(0)
			if start > chunkStart {
				from = start - chunkStart
			}
			to := payload
			if chunkStart+to > end {
				to = end - chunkStart
			}
			copy(chunk[from:to], data[chunkStart+from-start:])
		}
		if err := ix.writeChainBlock(chain[i], next, chunk); err != nil {
			return 0, err
		}
	}

	if len(chain) > 0 {
		rec.First = chain[0]
	}
	rec.Size = newSize
	rec.Mtime = ix.now().Unix()
	if err := ix.storeRecord(id, rec); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Truncate sets file id's size, freeing blocks on shrink and
// zero-filling on growth.
func (ix *Index) Truncate(id ID, size uint64) error {
	rec, err := ix.loadRecord(id)
	if err != nil {
		return err
	}
	if rec.Kind != KindFile {
		return fmt.Errorf("%w: inode %d", ErrIsDirectory, id)
	}
	if size == rec.Size {
		return nil
	}

	chain, err := ix.chainBlocks(rec)
	if err != nil {
		return err
	}
	needed := ix.blocksFor(size)
	payload := ix.payloadSize()

	var surplus []uint32
	if size > rec.Size {
		chain, err = ix.extendChain(chain, needed)
		if err != nil {
			return err
		}
		if len(chain) > 0 {
			rec.First = chain[0]
		}
	} else {
		surplus = chain[needed:]
		if needed > 0 {
			// Terminate the new tail and zero the bytes past the new
			// size, keeping the zero-beyond-size invariant.
			tail := chain[needed-1]
			chunk, err := ix.readChainBlock(tail)
			if err != nil {
				return err
			}
			within := size - uint64(needed-1)*payload
			for i := within; i < uint64(len(chunk)); i++ {
				chunk[i] = 0
			}
			if err := ix.writeChainBlock(tail, noBlock, chunk); err != nil {
				return err
			}
		} else {
			rec.First = noBlock
		}
	}

	rec.Size = size
	rec.Mtime = ix.now().Unix()
	if err := ix.storeRecord(id, rec); err != nil {
		return err
	}

	for _, n := range surplus {
		if err := ix.alloc.Free(n); err != nil {
			return err
		}
	}
	return nil
}

// readDir loads a directory's record and entry map.
func (ix *Index) readDir(dir ID) (map[string]uint32, *record, error) {
	rec, err := ix.loadRecord(dir)
	if err != nil {
		return nil, nil, err
	}
	if rec.Kind != KindDir {
		return nil, nil, fmt.Errorf("%w: inode %d", ErrNotDirectory, dir)
	}

	entries := make(map[string]uint32)
	if rec.Size > 0 {
		content, err := ix.readContent(rec)
		if err != nil {
			return nil, nil, fmt.Errorf("reading directory %d: %w", dir, err)
		}
		if err := codec.Unmarshal(content, &entries); err != nil {
			return nil, nil, fmt.Errorf("decoding directory %d: %w", dir, err)
		}
	}
	return entries, rec, nil
}

// writeDir persists a directory's entry map.
func (ix *Index) writeDir(dir ID, rec *record, entries map[string]uint32) error {
	content, err := codec.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding directory %d: %w", dir, err)
	}

	surplus, err := ix.writeContent(rec, content)
	if err != nil {
		return fmt.Errorf("writing directory %d: %w", dir, err)
	}
	rec.Mtime = ix.now().Unix()
	if err := ix.storeRecord(dir, rec); err != nil {
		return err
	}
	for _, n := range surplus {
		if err := ix.alloc.Free(n); err != nil {
			return err
		}
	}
	return nil
}
