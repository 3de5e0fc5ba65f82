// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package pinoqfs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/pinoq-fs/pinoq/lib/daemon"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the aspect is mounted. It
	// must already exist.
	Mountpoint string

	// Session is the unlocked aspect to serve.
	Session *daemon.Session

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, messages are
	// discarded.
	Logger *slog.Logger
}

// Mount serves the session's aspect at the configured mountpoint.
// The caller must call Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	info, err := os.Stat(options.Mountpoint)
	if err != nil {
		return nil, fmt.Errorf("mountpoint: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mountpoint %s is not a directory", options.Mountpoint)
	}

	root := &dirNode{session: options.Session, id: options.Session.Root()}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "pinoq",
			Name:       "pinoq",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("aspect mounted",
		"mountpoint", options.Mountpoint,
		"aspect", options.Session.Aspect(),
	)
	return server, nil
}

// Mounter adapts Mount to the daemon's injectable mount function.
func Mounter(allowOther bool, logger *slog.Logger) daemon.MountFunc {
	return func(session *daemon.Session, mountpoint string) (daemon.Server, error) {
		return Mount(Options{
			Mountpoint: mountpoint,
			Session:    session,
			AllowOther: allowOther,
			Logger:     logger,
		})
	}
}
