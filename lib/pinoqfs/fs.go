// Copyright 2026 The Pinoq Authors
// SPDX-License-Identifier: Apache-2.0

package pinoqfs

import (
	"context"
	"errors"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/pinoq-fs/pinoq/lib/alloc"
	"github.com/pinoq-fs/pinoq/lib/daemon"
	"github.com/pinoq-fs/pinoq/lib/index"
)

// errno maps index and allocator errors onto POSIX errno values.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, index.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, index.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, index.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, index.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, index.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, index.ErrInvalidName):
		return syscall.EINVAL
	case errors.Is(err, alloc.ErrOutOfSpace):
		return syscall.ENOSPC
	default:
		return syscall.EIO
	}
}

// ino is the kernel-visible inode number. Shifted so the root (block
// zero of a fresh aspect) is never inode zero, which FUSE reserves.
func ino(id index.ID) uint64 {
	return uint64(id) + 1
}

func stableAttr(id index.ID, kind index.Kind) gofuse.StableAttr {
	mode := uint32(syscall.S_IFREG)
	if kind == index.KindDir {
		mode = syscall.S_IFDIR
	}
	return gofuse.StableAttr{Mode: mode, Ino: ino(id)}
}

// fillAttr populates a kernel attr from inode metadata.
func fillAttr(session *daemon.Session, id index.ID, attr index.Attr, out *fuse.Attr) {
	uid, gid := session.Owner()
	out.Ino = ino(id)
	out.Size = attr.Size
	out.Blocks = (attr.Size + 511) / 512
	out.Blksize = session.BlockSize()
	out.Uid = uid
	out.Gid = gid
	out.SetTimes(nil, &attr.Mtime, &attr.Mtime)
	if attr.Kind == index.KindDir {
		out.Mode = syscall.S_IFDIR | 0o755
	} else {
		out.Mode = syscall.S_IFREG | 0o644
	}
}

// dirNode is a directory inside the mounted aspect.
type dirNode struct {
	gofuse.Inode
	session *daemon.Session
	id      index.ID
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeCreater = (*dirNode)(nil)
var _ gofuse.NodeMkdirer = (*dirNode)(nil)
var _ gofuse.NodeUnlinker = (*dirNode)(nil)
var _ gofuse.NodeRmdirer = (*dirNode)(nil)

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := d.session.Stat(d.id)
	if err != nil {
		return errno(err)
	}
	fillAttr(d.session, d.id, attr, &out.Attr)
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	id, err := d.session.Lookup(d.id, name)
	if err != nil {
		return nil, errno(err)
	}
	attr, err := d.session.Stat(id)
	if err != nil {
		return nil, errno(err)
	}

	child := d.newChild(ctx, id, attr.Kind)
	fillAttr(d.session, id, attr, &out.Attr)
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	listing, err := d.session.List(d.id)
	if err != nil {
		return nil, errno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(listing))
	for _, entry := range listing {
		mode := uint32(syscall.S_IFREG)
		if entry.Kind == index.KindDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{
			Name: entry.Name,
			Mode: mode,
			Ino:  ino(entry.ID),
		})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (d *dirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	id, err := d.session.Create(d.id, name, index.KindFile)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	attr, err := d.session.Stat(id)
	if err != nil {
		return nil, nil, 0, errno(err)
	}

	child := d.newChild(ctx, id, index.KindFile)
	fillAttr(d.session, id, attr, &out.Attr)
	return child, nil, 0, 0
}

func (d *dirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	id, err := d.session.Create(d.id, name, index.KindDir)
	if err != nil {
		return nil, errno(err)
	}
	attr, err := d.session.Stat(id)
	if err != nil {
		return nil, errno(err)
	}

	child := d.newChild(ctx, id, index.KindDir)
	fillAttr(d.session, id, attr, &out.Attr)
	return child, 0
}

func (d *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	id, err := d.session.Lookup(d.id, name)
	if err != nil {
		return errno(err)
	}
	kind, err := d.session.Kind(id)
	if err != nil {
		return errno(err)
	}
	if kind == index.KindDir {
		return syscall.EISDIR
	}
	return errno(d.session.Remove(d.id, name))
}

func (d *dirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	id, err := d.session.Lookup(d.id, name)
	if err != nil {
		return errno(err)
	}
	kind, err := d.session.Kind(id)
	if err != nil {
		return errno(err)
	}
	if kind != index.KindDir {
		return syscall.ENOTDIR
	}
	return errno(d.session.Remove(d.id, name))
}

func (d *dirNode) newChild(ctx context.Context, id index.ID, kind index.Kind) *gofuse.Inode {
	var embedder gofuse.InodeEmbedder
	if kind == index.KindDir {
		embedder = &dirNode{session: d.session, id: id}
	} else {
		embedder = &fileNode{session: d.session, id: id}
	}
	return d.NewInode(ctx, embedder, stableAttr(id, kind))
}

// fileNode is a regular file inside the mounted aspect.
type fileNode struct {
	gofuse.Inode
	session *daemon.Session
	id      index.ID
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)
var _ gofuse.NodeWriter = (*fileNode)(nil)
var _ gofuse.NodeFsyncer = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := f.session.Stat(f.id)
	if err != nil {
		return errno(err)
	}
	fillAttr(f.session, f.id, attr, &out.Attr)
	return 0
}

func (f *fileNode) Setattr(ctx context.Context, fh gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := f.session.Truncate(f.id, size); err != nil {
			return errno(err)
		}
	}
	// Mode and ownership are fixed by the container; time updates
	// are accepted silently since mtime tracks content mutation.
	attr, err := f.session.Stat(f.id)
	if err != nil {
		return errno(err)
	}
	fillAttr(f.session, f.id, attr, &out.Attr)
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&syscall.O_TRUNC != 0 {
		if err := f.session.Truncate(f.id, 0); err != nil {
			return nil, 0, errno(err)
		}
	}
	return nil, 0, 0
}

func (f *fileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.session.ReadAt(f.id, off, len(dest))
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(data), 0
}

func (f *fileNode) Write(ctx context.Context, fh gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := f.session.WriteAt(f.id, off, data)
	if err != nil {
		return 0, errno(err)
	}
	return uint32(n), 0
}

func (f *fileNode) Fsync(ctx context.Context, fh gofuse.FileHandle, flags uint32) syscall.Errno {
	if err := f.session.Flush(); err != nil {
		return syscall.EIO
	}
	return 0
}
