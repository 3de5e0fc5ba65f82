// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"fmt"

	"github.com/pinoq-fs/pinoq/lib/aspect"
	"github.com/pinoq-fs/pinoq/lib/container"
	"github.com/pinoq-fs/pinoq/lib/secret"
)

// Rekey re-seals one aspect's slot under a new password. The aspect's
// block key and filesystem are untouched; only the slot sealing
// changes, so each aspect's password can be rotated independently.
//
// The container must not be mounted; Rekey takes the exclusive lock.
func Rekey(path string, aspectIndex uint32, oldPassword, newPassword *secret.Buffer) error {
	c, err := container.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()

	header := c.Header()
	if aspectIndex >= header.AspectCount {
		return fmt.Errorf("%w: aspect %d of %d", container.ErrOutOfRange, aspectIndex, header.AspectCount)
	}

	oldKey, err := aspect.DeriveSlotKey(oldPassword, header.Salt[:], aspectIndex, header.KDF)
	if err != nil {
		return err
	}
	defer oldKey.Close()

	blob, err := c.ReadSlot(aspectIndex)
	if err != nil {
		return err
	}
	state, err := aspect.OpenState(blob, oldKey, aspectIndex)
	if err != nil {
		return fmt.Errorf("unlocking aspect %d: %w", aspectIndex, err)
	}
	defer secret.Zero(state.BlockKey)

	newKey, err := aspect.DeriveSlotKey(newPassword, header.Salt[:], aspectIndex, header.KDF)
	if err != nil {
		return err
	}
	defer newKey.Close()

	resealed, err := aspect.SealState(state, newKey, aspectIndex)
	if err != nil {
		return err
	}
	if err := c.WriteSlot(aspectIndex, resealed); err != nil {
		return err
	}
	return c.Sync()
}
