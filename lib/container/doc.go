// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Package container defines and manages the on-disk byte layout of a
// pinoq container file.
//
// A container is a single file laid out as:
//
//	[header: 4096 bytes]
//	[aspect slot 0] ... [aspect slot N-1]       SlotSize bytes each
//	[aspect 0 block region] ... [aspect N-1 block region]
//
// The header is public: magic, format version, block geometry, the
// Argon2id parameters and salt used for key derivation, and a BLAKE3
// checksum over the header fields. Each aspect slot holds that
// aspect's sealed state record. Each block region is an exclusive,
// contiguous, statically assigned byte range; regions never overlap
// and never move, which is what makes cross-aspect isolation a
// structural property rather than a convention. Every block access
// goes through bounds-checked offset translation here.
//
// Format creates and partitions a new container; Open validates the
// header and takes an exclusive advisory lock so that at most one
// mount owns the file at a time.
package container
