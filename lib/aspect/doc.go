// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Package aspect implements key resolution and sealing for container
// aspects.
//
// An aspect is one of the mutually isolated virtual filesystems inside
// a container. Each aspect slot on disk holds a sealed State record: a
// random block key, the root inode block number, and the allocation
// bitmap. The slot is sealed under a key derived from the password and
// the aspect index, so one password yields an independent key per
// index, and a wrong password is indistinguishable from a slot that
// was never provisioned with that password — both fail the AEAD open
// with ErrAuthentication.
//
// Key derivation is Argon2id (deliberately slow, parameters recorded
// in the container header) over the password with the container salt
// and the aspect index as salt material, followed by HKDF-SHA256 with
// a domain-separated info string. Sealing is XChaCha20-Poly1305 in the
// blob format
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
//
// with the record's identity (slot index, or aspect index plus block
// number) bound into the additional authenticated data, so a sealed
// record cannot be transplanted to a different slot or block.
package aspect
