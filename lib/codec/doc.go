// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides pinoq's standard CBOR encoding configuration.
//
// Everything that lives inside a container — aspect state records,
// inode records, directory payloads — is serialized as CBOR before it
// is sealed and written. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Determinism matters here because sealed
// records are compared and rewritten across mounts; the same logical
// state must always produce identical plaintext bytes.
//
// The decoder accepts standard CBOR and ignores unknown fields, so a
// newer binary can open a container written by an older one.
package codec
