// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Package pinoqfs exposes a mounted aspect as a FUSE filesystem.
//
// Every node delegates to the aspect's daemon.Session; the kernel
// sees one flat ownership (the uid/gid recorded at format time) and
// plain files and directories. Inode numbers are the aspect-relative
// block numbers of the underlying records, shifted by one so the
// root never reports inode zero.
package pinoqfs
