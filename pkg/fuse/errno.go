package fuse

import (
	"context"
	"errors"
	"syscall"

	"github.com/fruitsalade/postfs/internal/metrics"
	"github.com/fruitsalade/postfs/pkg/control"
	"github.com/fruitsalade/postfs/pkg/resolver"
	"github.com/fruitsalade/postfs/pkg/router"
)

// toErrno maps resolver errors to errnos. Anything unclassified, upstream
// failures included, is an I/O error.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, resolver.ErrNotFound), errors.Is(err, control.ErrUnknown):
		return syscall.ENOENT
	case errors.Is(err, resolver.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, resolver.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, resolver.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, resolver.ErrNoAttr):
		return syscall.ENODATA
	case errors.Is(err, context.Canceled):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

func errnoLabel(errno syscall.Errno) string {
	switch errno {
	case 0:
		return "ok"
	case syscall.ENOENT:
		return "enoent"
	case syscall.EACCES:
		return "eacces"
	case syscall.ENOTDIR:
		return "enotdir"
	case syscall.EISDIR:
		return "eisdir"
	case syscall.ENODATA:
		return "enodata"
	case syscall.EINTR:
		return "eintr"
	default:
		return "eio"
	}
}

func recordOp(op string, errno syscall.Errno) {
	metrics.RecordFSOp(op, errnoLabel(errno))
}

// Inode numbers: fixed entries first, then four slots per post id.
const (
	inoRoot       = 1
	inoCollection = 2
	inoControl    = 3
	inoPostBase   = 1 << 16
)

// inodeNumber gives every path a stable inode number. Invalid routes get 0,
// which lets go-fuse pick one.
func inodeNumber(route router.Route) uint64 {
	switch route.Kind {
	case router.Root:
		return inoRoot
	case router.Collection:
		return inoCollection
	case router.Control:
		for i, name := range control.Names() {
			if name == route.Name {
				return inoControl + uint64(i)
			}
		}
		return 0
	case router.Post:
		return inoPostBase + uint64(route.ID)*4 + uint64(route.Entry)
	default:
		return 0
	}
}
