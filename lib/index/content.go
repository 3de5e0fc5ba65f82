// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"encoding/binary"
	"fmt"

	"github.com/pinoq-fs/pinoq/lib/aspect"
)

// noBlock is the chain terminator / empty chain marker.
const noBlock = aspect.NoBlock

// payloadSize is the usable byte count of one data block: the block
// minus its 4-byte next pointer.
func (ix *Index) payloadSize() uint64 {
	return uint64(ix.alloc.BlockSize()) - 4
}

// blocksFor returns how many chain blocks a payload of size bytes
// needs.
func (ix *Index) blocksFor(size uint64) int {
	payload := ix.payloadSize()
	return int((size + payload - 1) / payload)
}

// chainBlocks walks an inode's data chain and returns its block
// numbers in order. The walk is bounded by the region size, so a
// corrupted cycle fails instead of spinning.
func (ix *Index) chainBlocks(rec *record) ([]uint32, error) {
	var blocks []uint32
	next := rec.First
	for next != noBlock {
		if len(blocks) >= int(ix.alloc.Blocks()) {
			return nil, fmt.Errorf("data chain longer than the aspect region; chain is cyclic")
		}
		blocks = append(blocks, next)
		block, err := ix.alloc.ReadBlock(next)
		if err != nil {
			return nil, err
		}
		next = binary.BigEndian.Uint32(block)
	}
	return blocks, nil
}

// readChainBlock returns the payload of one chain block.
func (ix *Index) readChainBlock(n uint32) ([]byte, error) {
	block, err := ix.alloc.ReadBlock(n)
	if err != nil {
		return nil, err
	}
	return block[4:], nil
}

// writeChainBlock writes one chain block from payload bytes, setting
// its next pointer. Short payloads are zero-padded by the allocator.
func (ix *Index) writeChainBlock(n, next uint32, payload []byte) error {
	block := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(block, next)
	copy(block[4:], payload)
	return ix.alloc.WriteBlock(n, block)
}

// extendChain reserves and zero-initializes enough blocks to grow the
// chain to total blocks, linking them onto the existing tail. All
// allocation happens before any write; on failure the reservation is
// released and the chain is untouched.
func (ix *Index) extendChain(chain []uint32, total int) ([]uint32, error) {
	if total <= len(chain) {
		return chain, nil
	}

	added := make([]uint32, 0, total-len(chain))
	for len(chain)+len(added) < total {
		n, err := ix.alloc.Allocate()
		if err != nil {
			for _, m := range added {
				ix.alloc.Free(m)
			}
			return nil, err
		}
		added = append(added, n)
	}

	// Write the new tail back to front so every next pointer lands
	// on an initialized block.
	for i := len(added) - 1; i >= 0; i-- {
		next := noBlock
		if i+1 < len(added) {
			next = added[i+1]
		}
		if err := ix.writeChainBlock(added[i], next, nil); err != nil {
			for _, m := range added {
				ix.alloc.Free(m)
			}
			return nil, err
		}
	}

	// Link the old tail to the new section.
	if len(chain) > 0 {
		tail := chain[len(chain)-1]
		payload, err := ix.readChainBlock(tail)
		if err == nil {
			err = ix.writeChainBlock(tail, added[0], payload)
		}
		if err != nil {
			for _, m := range added {
				ix.alloc.Free(m)
			}
			return nil, err
		}
	}

	return append(chain, added...), nil
}

// freeChain releases every block of an inode's data chain.
func (ix *Index) freeChain(rec *record) error {
	chain, err := ix.chainBlocks(rec)
	if err != nil {
		return err
	}
	for _, n := range chain {
		if err := ix.alloc.Free(n); err != nil {
			return err
		}
	}
	return nil
}

// readContent reads an inode's whole payload.
func (ix *Index) readContent(rec *record) ([]byte, error) {
	if rec.Size == 0 {
		return nil, nil
	}
	chain, err := ix.chainBlocks(rec)
	if err != nil {
		return nil, err
	}

	payload := ix.payloadSize()
	data := make([]byte, 0, rec.Size)
	remaining := rec.Size
	for _, n := range chain {
		if remaining == 0 {
			break
		}
		chunk, err := ix.readChainBlock(n)
		if err != nil {
			return nil, err
		}
		take := payload
		if remaining < take {
			take = remaining
		}
		data = append(data, chunk[:take]...)
		remaining -= take
	}
	if remaining > 0 {
		return nil, fmt.Errorf("data chain ends %d bytes short of inode size %d", remaining, rec.Size)
	}
	return data, nil
}

// writeContent replaces an inode's whole payload, reusing and growing
// its chain as needed. The record's First and Size are updated but
// not stored; the caller persists the record and then frees the
// returned surplus blocks. Freeing only after the record is durable
// means a failed store leaks blocks instead of corrupting the tree.
func (ix *Index) writeContent(rec *record, data []byte) (surplus []uint32, err error) {
	chain, err := ix.chainBlocks(rec)
	if err != nil {
		return nil, err
	}

	needed := ix.blocksFor(uint64(len(data)))
	chain, err = ix.extendChain(chain, needed)
	if err != nil {
		return nil, err
	}

	payload := ix.payloadSize()
	for i := 0; i < needed; i++ {
		next := noBlock
		if i+1 < needed {
			next = chain[i+1]
		}
		start := uint64(i) * payload
		end := start + payload
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		if err := ix.writeChainBlock(chain[i], next, data[start:end]); err != nil {
			return nil, err
		}
	}

	if needed > 0 {
		rec.First = chain[0]
	} else {
		rec.First = noBlock
	}
	rec.Size = uint64(len(data))
	return chain[needed:], nil
}
