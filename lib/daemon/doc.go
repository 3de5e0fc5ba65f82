// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon runs a mounted aspect.
//
// A Session is the live state of one unlocked aspect: the exclusively
// locked container, the password-derived slot key, the aspect's block
// key, allocator, and filesystem index. All filesystem requests go
// through the session, which serializes mutation and persists the
// sealed aspect state after every mutating operation.
//
// A Daemon wraps a session in the mount lifecycle: resolve the aspect,
// mount it, serve until the context is cancelled or the kernel
// unmounts, then drain exactly once (unmount, flush, close). The FUSE
// mounter is injected so the lifecycle is testable without a kernel
// mount.
package daemon
