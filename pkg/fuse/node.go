package fuse

import (
	"context"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/fruitsalade/postfs/pkg/resolver"
	"github.com/fruitsalade/postfs/pkg/router"
)

// Node is one path of the filesystem. It holds no state besides its path;
// every call re-classifies it and asks the session.
type Node struct {
	fs.Inode

	fsys *PostFS
	path string
}

// Ensure Node implements the required interfaces
var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)
var _ fs.NodeWriter = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeGetxattrer = (*Node)(nil)
var _ fs.NodeListxattrer = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)

func (n *Node) route() router.Route {
	return router.Classify(n.path)
}

// Getattr returns file attributes.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	route := n.route()
	attr, err := n.fsys.session.Attr(ctx, route)
	if errno := n.fsys.observe("getattr", n.path, err); errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, route, attr)
	return 0
}

// Lookup finds a child by name.
func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.stats.Lookups.Add(1)

	childPath := router.Join(n.path, name)
	route := router.Classify(childPath)
	attr, err := n.fsys.session.Attr(ctx, route)
	if errno := n.fsys.observe("lookup", childPath, err); errno != 0 {
		return nil, errno
	}
	fillAttr(&out.Attr, route, attr)

	child := &Node{fsys: n.fsys, path: childPath}
	stable := fs.StableAttr{Mode: out.Mode & syscall.S_IFMT, Ino: inodeNumber(route)}
	return n.NewInode(ctx, child, stable), 0
}

// Readdir lists directory contents.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.fsys.stats.Listings.Add(1)

	entries, err := n.fsys.session.List(ctx, n.route())
	if errno := n.fsys.observe("readdir", n.path, err); errno != 0 {
		return nil, errno
	}

	out := make([]gofuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.Dir {
			mode = syscall.S_IFDIR
		}
		out = append(out, gofuse.DirEntry{
			Name: e.Name,
			Mode: mode,
			Ino:  inodeNumber(router.Classify(router.Join(n.path, e.Name))),
		})
	}
	return fs.NewListDirStream(out), 0
}

// Open checks access. Control files are opened with direct I/O so every
// read sees the current canonical buffer.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	route := n.route()
	write := int(flags)&unix.O_ACCMODE != unix.O_RDONLY

	if errno := n.fsys.observe("open", n.path, n.fsys.session.CheckOpen(route, write)); errno != 0 {
		return nil, 0, errno
	}
	if route.Kind == router.Root || route.Kind == router.Collection {
		return nil, 0, syscall.EISDIR
	}

	if route.Kind == router.Control {
		if flags&syscall.O_TRUNC != 0 && write {
			if errno := n.fsys.observe("truncate", n.path, n.fsys.session.Truncate(route, 0)); errno != 0 {
				return nil, 0, errno
			}
		}
		return nil, gofuse.FOPEN_DIRECT_IO, 0
	}
	return nil, 0, 0
}

// Read reads file content.
func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	buf, err := n.fsys.session.Read(ctx, n.route(), off, len(dest))
	if errno := n.fsys.observe("read", n.path, err); errno != 0 {
		return nil, errno
	}
	n.fsys.stats.Reads.Add(1)
	n.fsys.stats.BytesServed.Add(int64(len(buf)))
	return gofuse.ReadResultData(buf), 0
}

// Write splices data into a control file.
func (n *Node) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.fsys.session.Write(n.route(), off, data)
	if errno := n.fsys.observe("write", n.path, err); errno != 0 {
		return 0, errno
	}
	n.fsys.stats.Writes.Add(1)
	return uint32(written), 0
}

// Setattr handles truncation of control files. Timestamp and ownership
// changes on control files are accepted and ignored; every other entry is
// read-only.
//
// The reply after a truncate reports the raw buffer: shells rewrite a file
// as SETATTR(size 0) followed by WRITE, and canonicalizing in between
// would put the default contents back under the incoming write.
func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	route := n.route()
	if route.Kind != router.Control {
		if in.Valid&attrChanges != 0 {
			return n.fsys.observe("setattr", n.path, resolver.ErrPermission)
		}
		return n.Getattr(ctx, fh, out)
	}

	size, ok := in.GetSize()
	if !ok {
		return n.Getattr(ctx, fh, out)
	}
	if errno := n.fsys.observe("truncate", n.path, n.fsys.session.Truncate(route, int64(size))); errno != 0 {
		return errno
	}
	n.fsys.stats.Truncates.Add(1)

	attr, err := n.fsys.session.PendingAttr(route)
	if errno := n.fsys.observe("setattr", n.path, err); errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, route, attr)
	return 0
}

// attrChanges are the SETATTR bits that modify an entry.
const attrChanges = gofuse.FATTR_MODE | gofuse.FATTR_UID | gofuse.FATTR_GID | gofuse.FATTR_SIZE |
	gofuse.FATTR_ATIME | gofuse.FATTR_MTIME | gofuse.FATTR_ATIME_NOW | gofuse.FATTR_MTIME_NOW | gofuse.FATTR_CTIME

// Getxattr returns extended attribute value.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, err := n.fsys.session.Xattr(ctx, n.route(), attr)
	if errno := toErrno(err); errno != 0 {
		return 0, errno
	}

	if len(dest) == 0 {
		return uint32(len(value)), 0
	}
	if len(dest) < len(value) {
		return 0, syscall.ERANGE
	}
	copy(dest, value)
	return uint32(len(value)), 0
}

// Listxattr lists extended attributes.
func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	attrs := resolver.XattrNames(n.route())

	var total int
	for _, attr := range attrs {
		total += len(attr) + 1
	}

	if len(dest) == 0 {
		return uint32(total), 0
	}
	if len(dest) < total {
		return 0, syscall.ERANGE
	}

	offset := 0
	for _, attr := range attrs {
		copy(dest[offset:], attr)
		offset += len(attr)
		dest[offset] = 0
		offset++
	}
	return uint32(total), 0
}

// Create is refused: the tree is fixed.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, n.fsys.observe("create", router.Join(n.path, name), resolver.ErrPermission)
}

// Mkdir is refused: the tree is fixed.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.fsys.observe("mkdir", router.Join(n.path, name), resolver.ErrPermission)
}

// Unlink is refused: the tree is fixed.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.fsys.observe("unlink", router.Join(n.path, name), resolver.ErrPermission)
}

func fillAttr(out *gofuse.Attr, route router.Route, attr resolver.Attr) {
	if attr.Dir {
		out.Mode = syscall.S_IFDIR | attr.Perm
	} else {
		out.Mode = syscall.S_IFREG | attr.Perm
	}
	out.Nlink = attr.Nlink
	out.Size = attr.Size
	out.Blocks = (attr.Size + 511) / 512
	if !attr.Mtime.IsZero() {
		out.Mtime = uint64(attr.Mtime.Unix())
		out.Atime = out.Mtime
		out.Ctime = out.Mtime
	}
	out.Ino = inodeNumber(route)
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
}
