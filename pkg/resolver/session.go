// Package resolver turns filesystem operations on classified paths into
// catalog operations.
//
// A Session owns the object cache and the control file store; it is built
// once at startup and every filesystem handler goes through it.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/fruitsalade/postfs/pkg/cache"
	"github.com/fruitsalade/postfs/pkg/client"
	"github.com/fruitsalade/postfs/pkg/control"
	"github.com/fruitsalade/postfs/pkg/protocol"
)

// DefaultPageLimit is the number of posts requested per listing.
const DefaultPageLimit = 75

var (
	// ErrNotFound is returned for paths outside the surface and for posts
	// the catalog says do not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermission is returned for writes to read-only entries.
	ErrPermission = errors.New("permission denied")

	// ErrNotDir is returned when listing a file.
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir is returned when reading a directory.
	ErrIsDir = errors.New("is a directory")
)

// Catalog is the remote catalog as the session uses it.
type Catalog interface {
	cache.Fetcher
	FetchPage(ctx context.Context, page int, tags string, limit int) ([]*protocol.RawPost, error)
}

// Config holds session configuration.
type Config struct {
	BaseURL   string // used to build canonical post URLs
	PageLimit int
}

// Session is the shared state behind every filesystem operation.
type Session struct {
	catalog  Catalog
	cache    *cache.Cache
	controls *control.Store
	cfg      Config
}

// NewSession creates a session over catalog with an empty cache and default
// control files.
func NewSession(catalog Catalog, cfg Config) *Session {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	return &Session{
		catalog:  catalog,
		cache:    cache.New(catalog),
		controls: control.New(),
		cfg:      cfg,
	}
}

// Cache returns the session's object cache.
func (s *Session) Cache() *cache.Cache {
	return s.cache
}

// Controls returns the session's control file store.
func (s *Session) Controls() *control.Store {
	return s.controls
}

// IsOnline reports whether the catalog answered the last request. Catalogs
// that do not track this are always online.
func (s *Session) IsOnline() bool {
	if o, ok := s.catalog.(interface{ IsOnline() bool }); ok {
		return o.IsOnline()
	}
	return true
}

// postError maps a fetch-one failure: a 404 from the catalog is NotFound,
// every other failure stays an upstream error.
func postError(id int64, err error) error {
	if ue, ok := client.AsUpstream(err); ok && ue.NotFound() {
		return fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("post %d: %w", id, err)
}
