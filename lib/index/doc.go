// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Package index maintains the directory and inode tree of one mounted
// aspect.
//
// Inodes live in an arena addressed by stable identifiers: an inode's
// ID is the block number of the block holding its record, so the tree
// serializes by identifier with no pointer graphs. Directories form a
// tree (every inode reachable from the root by exactly one path), and
// every allocated block belongs to exactly one inode.
//
// File and directory payloads are stored the same way: a chain of
// data blocks, each carrying a next-block pointer in its first four
// bytes. A directory's payload is the CBOR encoding of its name to
// inode-ID map. Bytes past an inode's size within its chain are kept
// zero, which makes sparse extension free of stale-data leaks.
//
// Mutations that need new blocks reserve all of them before writing
// anything; on allocation failure the reservation is released and the
// inode is left unchanged.
package index
