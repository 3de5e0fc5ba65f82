// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pinoq-fs/pinoq/lib/aspect"
	"github.com/pinoq-fs/pinoq/lib/container"
	"github.com/pinoq-fs/pinoq/lib/index"
	"github.com/pinoq-fs/pinoq/lib/secret"
)

var testKDFParams = aspect.KDFParams{Time: 1, MemoryKiB: 64, Parallelism: 1}

func testPassword(t *testing.T, s string) *secret.Buffer {
	t.Helper()
	password, err := secret.NewFromBytes([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { password.Close() })
	return password
}

// testContainer formats a two-aspect container and returns its path.
func testContainer(t *testing.T, password *secret.Buffer) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volume.pnoq")
	err := container.Format(path, container.FormatOptions{
		AspectCount:  2,
		SizeInBlocks: 128,
		Password:     password,
		KDF:          testKDFParams,
	})
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSessionAspectIsolation(t *testing.T) {
	password := testPassword(t, "password")
	path := testContainer(t, password)

	// Mount aspect 0 and create a file.
	s0, err := OpenSession(path, 0, password, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s0.Create(s0.Root(), "first.txt", index.KindFile)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s0.WriteAt(id, 0, []byte("belongs to aspect zero")); err != nil {
		t.Fatal(err)
	}
	if err := s0.Close(); err != nil {
		t.Fatal(err)
	}

	// Aspect 1 starts empty and never sees aspect 0's file.
	s1, err := OpenSession(path, 1, password, nil)
	if err != nil {
		t.Fatal(err)
	}
	listing, err := s1.List(s1.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(listing) != 0 {
		t.Fatalf("aspect 1 lists %d entries, want 0", len(listing))
	}
	if _, err := s1.Create(s1.Root(), "second.txt", index.KindFile); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}

	// Remounting aspect 0 shows only its own file.
	s0, err = OpenSession(path, 0, password, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s0.Close()
	listing, err = s0.List(s0.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(listing) != 1 || listing[0].Name != "first.txt" {
		t.Fatalf("aspect 0 listing = %+v, want only first.txt", listing)
	}
}

func TestSessionContentSurvivesRemount(t *testing.T) {
	password := testPassword(t, "password")
	path := testContainer(t, password)
	payload := []byte("the quick brown fox jumps over the lazy dog")

	s, err := OpenSession(path, 0, password, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Create(s.Root(), "fox.txt", index.KindFile)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteAt(id, 0, payload); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSession(path, 0, password, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Lookup(s.Root(), "fox.txt")
	if err != nil {
		t.Fatal(err)
	}
	content, err := s.ReadAt(got, 0, len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(content, payload) {
		t.Fatalf("content = %q, want %q", content, payload)
	}
}

func TestSessionWrongPassword(t *testing.T) {
	password := testPassword(t, "password")
	path := testContainer(t, password)

	wrong := testPassword(t, "not the password")
	if _, err := OpenSession(path, 0, wrong, nil); !errors.Is(err, aspect.ErrAuthentication) {
		t.Fatalf("wrong password: err = %v, want ErrAuthentication", err)
	}

	// The failed attempt released the lock; the right password still
	// works.
	s, err := OpenSession(path, 0, password, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
}

func TestSessionAspectOutOfRange(t *testing.T) {
	password := testPassword(t, "password")
	path := testContainer(t, password)

	if _, err := OpenSession(path, 2, password, nil); !errors.Is(err, container.ErrOutOfRange) {
		t.Fatalf("aspect 2 of 2: err = %v, want ErrOutOfRange", err)
	}
}

func TestSessionExclusive(t *testing.T) {
	password := testPassword(t, "password")
	path := testContainer(t, password)

	s, err := OpenSession(path, 0, password, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// A second mount of any aspect is refused while the first holds
	// the container.
	if _, err := OpenSession(path, 1, password, nil); !errors.Is(err, container.ErrAlreadyMounted) {
		t.Fatalf("second session: err = %v, want ErrAlreadyMounted", err)
	}
}

func TestRekey(t *testing.T) {
	oldPassword := testPassword(t, "old password")
	path := testContainer(t, oldPassword)

	// Seed aspect 1 with content under the old password.
	s, err := OpenSession(path, 1, oldPassword, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Create(s.Root(), "keep.txt", index.KindFile)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteAt(id, 0, []byte("survives rekey")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	newPassword := testPassword(t, "new password")
	if err := Rekey(path, 1, oldPassword, newPassword); err != nil {
		t.Fatal(err)
	}

	// Old password no longer opens aspect 1 but still opens aspect 0.
	if _, err := OpenSession(path, 1, oldPassword, nil); !errors.Is(err, aspect.ErrAuthentication) {
		t.Fatalf("old password after rekey: err = %v, want ErrAuthentication", err)
	}
	s0, err := OpenSession(path, 0, oldPassword, nil)
	if err != nil {
		t.Fatalf("aspect 0 under old password: %v", err)
	}
	s0.Close()

	// New password opens aspect 1 with its content intact.
	s, err = OpenSession(path, 1, newPassword, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Lookup(s.Root(), "keep.txt")
	if err != nil {
		t.Fatal(err)
	}
	content, err := s.ReadAt(got, 0, 64)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "survives rekey" {
		t.Fatalf("content = %q", content)
	}
}

func TestRekeyWrongPassword(t *testing.T) {
	password := testPassword(t, "password")
	path := testContainer(t, password)

	wrong := testPassword(t, "wrong")
	replacement := testPassword(t, "replacement")
	if err := Rekey(path, 0, wrong, replacement); !errors.Is(err, aspect.ErrAuthentication) {
		t.Fatalf("rekey with wrong password: err = %v, want ErrAuthentication", err)
	}
}

// fakeServer stands in for a kernel mount: Wait blocks until Unmount.
type fakeServer struct {
	mu       sync.Mutex
	unmounts int
	done     chan struct{}
	once     sync.Once
}

func newFakeServer() *fakeServer {
	return &fakeServer{done: make(chan struct{})}
}

func (f *fakeServer) Wait() { <-f.done }

func (f *fakeServer) Unmount() error {
	f.mu.Lock()
	f.unmounts++
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeServer) unmountCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unmounts
}

func waitForState(t *testing.T, d *Daemon, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for d.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("daemon stuck in %v waiting for %v", d.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	password := testPassword(t, "password")
	path := testContainer(t, password)

	server := newFakeServer()
	d, err := New(Options{
		Disk:       path,
		Mountpoint: t.TempDir(),
		Aspect:     0,
		Mount: func(session *Session, mountpoint string) (Server, error) {
			return server, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.State() != StateUnmounted {
		t.Fatalf("initial state = %v", d.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx, password) }()

	waitForState(t, d, StateActive)
	cancel()

	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.State() != StateUnmounted {
		t.Fatalf("final state = %v, want unmounted", d.State())
	}
	if n := server.unmountCount(); n != 1 {
		t.Fatalf("unmount called %d times, want 1", n)
	}
}

func TestDaemonExternalUnmount(t *testing.T) {
	password := testPassword(t, "password")
	path := testContainer(t, password)

	server := newFakeServer()
	d, err := New(Options{
		Disk:       path,
		Mountpoint: t.TempDir(),
		Aspect:     1,
		Mount: func(session *Session, mountpoint string) (Server, error) {
			return server, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(context.Background(), password) }()

	waitForState(t, d, StateActive)

	// The kernel unmounts out from under the daemon; it still
	// flushes, closes, and exits cleanly.
	server.Unmount()

	if err := <-runErr; err != nil {
		t.Fatalf("run after external unmount: %v", err)
	}
	if d.State() != StateUnmounted {
		t.Fatalf("final state = %v, want unmounted", d.State())
	}
}

func TestDaemonResolveFailureMountsNothing(t *testing.T) {
	password := testPassword(t, "password")
	path := testContainer(t, password)

	mounted := false
	d, err := New(Options{
		Disk:       path,
		Mountpoint: t.TempDir(),
		Aspect:     0,
		Mount: func(session *Session, mountpoint string) (Server, error) {
			mounted = true
			return newFakeServer(), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	wrong := testPassword(t, "wrong")
	if err := d.Run(context.Background(), wrong); !errors.Is(err, aspect.ErrAuthentication) {
		t.Fatalf("run with wrong password: err = %v, want ErrAuthentication", err)
	}
	if mounted {
		t.Fatal("mount function ran despite resolve failure")
	}
	if d.State() != StateUnmounted {
		t.Fatalf("state after failed resolve = %v", d.State())
	}
}
