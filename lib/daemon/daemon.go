// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pinoq-fs/pinoq/lib/secret"
)

// State is the daemon lifecycle phase.
type State int

const (
	// StateUnmounted is the initial and final phase.
	StateUnmounted State = iota
	// StateResolving covers container open and key derivation.
	StateResolving
	// StateActive means the aspect is mounted and serving.
	StateActive
	// StateDraining means teardown has started; further termination
	// requests are ignored.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateResolving:
		return "resolving"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Server is a running filesystem mount. Wait blocks until the kernel
// unmounts; Unmount asks the kernel to detach.
type Server interface {
	Wait()
	Unmount() error
}

// MountFunc mounts a session at a directory and returns the running
// server.
type MountFunc func(session *Session, mountpoint string) (Server, error)

// Options configures a Daemon.
type Options struct {
	// Disk is the container image path.
	Disk string

	// Mountpoint is the directory to mount on. It must exist.
	Mountpoint string

	// Aspect is the aspect index to unlock.
	Aspect uint32

	// Mount performs the filesystem mount.
	Mount MountFunc

	// Logger receives lifecycle messages. If nil, messages are
	// discarded.
	Logger *slog.Logger
}

// Daemon drives one mount through its lifecycle:
// unmounted -> resolving -> active -> draining -> unmounted.
type Daemon struct {
	opts Options

	mu    sync.Mutex
	state State

	drainOnce sync.Once
	drainErr  error
}

// New builds a daemon. The mount function is required.
func New(opts Options) (*Daemon, error) {
	if opts.Disk == "" {
		return nil, fmt.Errorf("disk path is required")
	}
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if opts.Mount == nil {
		return nil, fmt.Errorf("mount function is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Daemon{opts: opts}, nil
}

// State returns the current lifecycle phase.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.opts.Logger.Debug("daemon state", "state", s.String())
}

// Run resolves the aspect, mounts it, and serves until ctx is
// cancelled or the kernel unmounts. A resolve failure returns with
// nothing mounted. Teardown runs exactly once: unmount, flush, close.
func (d *Daemon) Run(ctx context.Context, password *secret.Buffer) error {
	d.setState(StateResolving)
	session, err := OpenSession(d.opts.Disk, d.opts.Aspect, password, d.opts.Logger)
	if err != nil {
		d.setState(StateUnmounted)
		return err
	}

	server, err := d.opts.Mount(session, d.opts.Mountpoint)
	if err != nil {
		session.Close()
		d.setState(StateUnmounted)
		return fmt.Errorf("mounting %s: %w", d.opts.Mountpoint, err)
	}
	d.setState(StateActive)
	d.opts.Logger.Info("mounted", "mountpoint", d.opts.Mountpoint, "aspect", d.opts.Aspect)

	unmounted := make(chan struct{})
	go func() {
		server.Wait()
		close(unmounted)
	}()

	select {
	case <-ctx.Done():
		d.drain(server, session)
		<-unmounted
	case <-unmounted:
		// External unmount (fusermount -u); still flush and close.
		d.drain(server, session)
	}

	d.setState(StateUnmounted)
	return d.drainErr
}

// drain tears the mount down exactly once. Concurrent calls beyond the
// first are no-ops, which is what makes repeated termination signals
// harmless while teardown is in flight.
func (d *Daemon) drain(server Server, session *Session) {
	d.drainOnce.Do(func() {
		d.setState(StateDraining)
		if err := server.Unmount(); err != nil {
			// Already detached when the kernel initiated the
			// unmount.
			d.opts.Logger.Debug("unmount", "error", err)
		}
		if err := session.Close(); err != nil {
			d.drainErr = fmt.Errorf("closing session: %w", err)
			d.opts.Logger.Error("session close failed", "error", err)
			return
		}
		d.opts.Logger.Info("unmounted", "mountpoint", d.opts.Mountpoint)
	})
}
