// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package aspect

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/pinoq-fs/pinoq/lib/secret"
)

// KeySize is the size in bytes of all symmetric keys: the derived
// slot key and the random per-aspect block key.
const KeySize = 32

// SaltSize is the size in bytes of the container salt generated at
// format time.
const SaltSize = 16

// hkdfInfoSlot is the HKDF info string for the slot sealing key.
// Changing it invalidates every existing container.
var hkdfInfoSlot = []byte("pinoq.slot.v1")

// KDFParams are the Argon2id cost parameters. They are chosen at
// format time, recorded in the container header, and read back at
// mount, so a container formatted with stronger parameters keeps them
// for life.
type KDFParams struct {
	// Time is the number of Argon2id passes.
	Time uint32

	// MemoryKiB is the Argon2id memory cost in KiB.
	MemoryKiB uint32

	// Parallelism is the Argon2id lane count.
	Parallelism uint8
}

// DefaultKDFParams are the format-time defaults: 64 MiB, one pass,
// four lanes, per the RFC 9106 second recommended option.
var DefaultKDFParams = KDFParams{
	Time:        1,
	MemoryKiB:   64 * 1024,
	Parallelism: 4,
}

// Validate reports whether the parameters are usable.
func (p KDFParams) Validate() error {
	if p.Time == 0 || p.MemoryKiB == 0 || p.Parallelism == 0 {
		return fmt.Errorf("argon2id parameters must all be positive (time=%d memory=%dKiB lanes=%d)",
			p.Time, p.MemoryKiB, p.Parallelism)
	}
	return nil
}

// DeriveSlotKey derives the sealing key for one aspect slot from the
// password, the container salt, and the aspect index. The index is
// mixed into the Argon2id salt, so the same password yields
// independent keys per aspect. Pure function of its inputs.
//
// The password buffer is borrowed and NOT closed. The returned buffer
// must be closed by the caller.
func DeriveSlotKey(password *secret.Buffer, salt []byte, index uint32, params KDFParams) (*secret.Buffer, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("container salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	// Salt = container salt || big-endian aspect index.
	indexedSalt := make([]byte, SaltSize+4)
	copy(indexedSalt, salt)
	binary.BigEndian.PutUint32(indexedSalt[SaltSize:], index)

	stretched := argon2.IDKey(password.Bytes(), indexedSalt, params.Time, params.MemoryKiB, params.Parallelism, KeySize)
	defer secret.Zero(stretched)

	reader := hkdf.New(sha256.New, stretched, nil, hkdfInfoSlot)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}

	// NewFromBytes copies into locked memory and zeroes the heap slice.
	return secret.NewFromBytes(derived)
}
