// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

// Package alloc manages block allocation and sealed block I/O for one
// mounted aspect.
//
// An Allocator operates exclusively within its aspect's block region:
// block numbers are region-local, translated to absolute file offsets
// by the container layout, and anything outside [0, BlocksPerAspect)
// is refused. Free/used state is a bitmap held in memory and
// persisted inside the aspect's sealed slot state, so an attacker
// with the raw image learns nothing about which blocks are live.
//
// Block contents are sealed under the aspect's random block key with
// the aspect index and block number bound into the AAD. Two aspects
// therefore never share plaintext, and a sealed block copied between
// positions refuses to open.
package alloc
