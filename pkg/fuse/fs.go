// Package fuse exposes a resolver.Session as a FUSE filesystem.
package fuse

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/fruitsalade/postfs/internal/logging"
	"github.com/fruitsalade/postfs/pkg/resolver"
)

// Pinger checks catalog reachability.
type Pinger interface {
	Ping(ctx context.Context) error
	IsOnline() bool
}

// Config holds FUSE filesystem configuration.
type Config struct {
	AllowOther        bool
	Debug             bool
	HealthCheckPeriod time.Duration
}

// Stats holds filesystem statistics.
type Stats struct {
	Lookups     atomic.Int64
	Listings    atomic.Int64
	Reads       atomic.Int64
	BytesServed atomic.Int64
	Writes      atomic.Int64
	Truncates   atomic.Int64
	Failures    atomic.Int64
}

// PostFS is the mounted filesystem.
type PostFS struct {
	session *resolver.Session
	pinger  Pinger
	cfg     Config

	healthCancel context.CancelFunc

	stats Stats
}

// NewPostFS creates a filesystem over session. pinger may be nil, which
// disables the health check.
func NewPostFS(session *resolver.Session, pinger Pinger, cfg Config) *PostFS {
	return &PostFS{
		session: session,
		pinger:  pinger,
		cfg:     cfg,
	}
}

// Session returns the resolver session behind the filesystem.
func (f *PostFS) Session() *resolver.Session {
	return f.session
}

// Root returns the root node, ready to be passed to fs.Mount.
func (f *PostFS) Root() *Node {
	return &Node{fsys: f, path: "/"}
}

// Mount mounts the filesystem at the given path.
func (f *PostFS) Mount(mountPoint string) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	// Listings and control files change underneath the kernel, so nothing
	// is cached on its side.
	var noCache time.Duration

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: f.cfg.AllowOther,
			Debug:      f.cfg.Debug,
			FsName:     "postfs",
			Name:       "postfs",
		},
		EntryTimeout:    &noCache,
		AttrTimeout:     &noCache,
		NegativeTimeout: &noCache,
		UID:             uint32(os.Getuid()),
		GID:             uint32(os.Getgid()),
	}

	server, err := fs.Mount(mountPoint, f.Root(), opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return server, nil
}

// StartHealthCheck starts background health checking.
func (f *PostFS) StartHealthCheck(ctx context.Context) {
	if f.cfg.HealthCheckPeriod <= 0 || f.pinger == nil {
		return
	}

	healthCtx, cancel := context.WithCancel(ctx)
	f.healthCancel = cancel

	go func() {
		ticker := time.NewTicker(f.cfg.HealthCheckPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				wasOnline := f.pinger.IsOnline()
				err := f.pinger.Ping(healthCtx)
				if err == nil && !wasOnline {
					logging.Info("catalog reachable again")
				} else if err != nil {
					logging.Debug("health check failed", logging.Err(err))
				}
			case <-healthCtx.Done():
				return
			}
		}
	}()

	logging.Info("health check enabled", logging.Duration("period", f.cfg.HealthCheckPeriod))
}

// StopHealthCheck stops the health check loop.
func (f *PostFS) StopHealthCheck() {
	if f.healthCancel != nil {
		f.healthCancel()
		f.healthCancel = nil
	}
}

// GetStats returns filesystem statistics.
func (f *PostFS) GetStats() *Stats {
	return &f.stats
}

// observe records the outcome of op on path and returns the errno for err.
func (f *PostFS) observe(op, path string, err error) syscall.Errno {
	errno := toErrno(err)
	recordOp(op, errno)
	if errno != 0 {
		f.stats.Failures.Add(1)
		if errno == syscall.EIO {
			logging.Error("filesystem operation failed",
				logging.String("op", op), logging.String("path", path), logging.Err(err))
		} else {
			logging.Debug("filesystem operation refused",
				logging.String("op", op), logging.String("path", path), logging.String("errno", errno.Error()))
		}
	}
	return errno
}
