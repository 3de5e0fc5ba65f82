// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for passwords and
// derived keys.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock so it cannot be swapped to
// disk, and excludes it from core dumps via madvise(MADV_DONTDUMP).
// On Close, the memory is zeroed, unlocked, and unmapped. Because the
// region is invisible to the garbage collector, it is never copied or
// relocated, so closing the buffer genuinely destroys the secret.
//
// The mount daemon holds the password and every derived key in
// Buffers for the lifetime of a session. After Close, any access to
// the buffer's contents panics.
package secret
