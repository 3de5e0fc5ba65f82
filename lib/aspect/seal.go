// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package aspect

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pinoq-fs/pinoq/lib/secret"
)

// ErrAuthentication is returned when a sealed record does not open
// under the presented key. This is the single error path for a wrong
// password, a slot never provisioned with this password, and tampered
// ciphertext — callers must not be able to tell these apart.
var ErrAuthentication = errors.New("authentication failed")

// SealedVersion is the version byte prepended to every sealed blob.
// It is bound into the AAD, so tampering with it fails authentication.
const SealedVersion byte = 0x01

// SealedOverhead is the byte overhead per sealed blob:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const SealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// AAD domain tags. They keep a sealed slot from ever opening as a
// sealed block and vice versa.
var (
	aadDomainSlot  = []byte("pinoq.aad.slot.v1")
	aadDomainBlock = []byte("pinoq.aad.block.v1")
)

// SlotAAD is the additional authenticated data for aspect slot i.
func SlotAAD(index uint32) []byte {
	aad := make([]byte, len(aadDomainSlot)+4)
	copy(aad, aadDomainSlot)
	binary.BigEndian.PutUint32(aad[len(aadDomainSlot):], index)
	return aad
}

// BlockAAD is the additional authenticated data for block number
// block of aspect index. Binding both numbers means a sealed block
// cannot be replayed at another block position or in another aspect's
// region, even hypothetically under a colliding key.
func BlockAAD(index, block uint32) []byte {
	aad := make([]byte, len(aadDomainBlock)+8)
	copy(aad, aadDomainBlock)
	binary.BigEndian.PutUint32(aad[len(aadDomainBlock):], index)
	binary.BigEndian.PutUint32(aad[len(aadDomainBlock)+4:], block)
	return aad
}

// Seal encrypts plaintext under key using XChaCha20-Poly1305 with a
// random nonce. The version byte and the caller's AAD are
// authenticated. The key is borrowed and NOT closed.
func Seal(plaintext []byte, key *secret.Buffer, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, SealedOverhead+len(plaintext))
	output[0] = SealedVersion
	copy(output[1:], nonce[:])

	output = aead.Seal(output, nonce[:], plaintext, withVersion(SealedVersion, aad))
	return output, nil
}

// Open decrypts a blob produced by Seal. Any failure — short blob,
// unknown version, or AEAD verification — is reported as
// ErrAuthentication, without distinguishing the cause.
func Open(blob []byte, key *secret.Buffer, aad []byte) ([]byte, error) {
	if len(blob) < SealedOverhead {
		return nil, ErrAuthentication
	}

	version := blob[0]
	if version != SealedVersion {
		return nil, ErrAuthentication
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, withVersion(version, aad))
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// withVersion prefixes the AAD with the blob version byte.
func withVersion(version byte, aad []byte) []byte {
	full := make([]byte, 1+len(aad))
	full[0] = version
	copy(full[1:], aad)
	return full
}
