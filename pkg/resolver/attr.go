package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/fruitsalade/postfs/pkg/control"
	"github.com/fruitsalade/postfs/pkg/models"
	"github.com/fruitsalade/postfs/pkg/router"
)

// Permission bits per entry class.
const (
	ModeRoot       = 0o777
	ModeCollection = 0o555
	ModeControl    = 0o666
	ModePost       = 0o444
)

// Attr is the filesystem metadata of one entry.
type Attr struct {
	Dir   bool
	Perm  uint32
	Nlink uint32
	Size  uint64
	Mtime time.Time
}

// Attr resolves the attributes of route. Post entries may fetch the post,
// and for non-file media variants the media itself, since the catalog only
// reports the size of the original file.
func (s *Session) Attr(ctx context.Context, route router.Route) (Attr, error) {
	switch route.Kind {
	case router.Root:
		return Attr{Dir: true, Perm: ModeRoot, Nlink: 2}, nil

	case router.Collection:
		return Attr{Dir: true, Perm: ModeCollection, Nlink: 2}, nil

	case router.Control:
		n, err := s.controls.Size(route.Name)
		if err != nil {
			return Attr{}, ErrNotFound
		}
		return Attr{Perm: ModeControl, Nlink: 1, Size: uint64(n)}, nil

	case router.Post:
		return s.postAttr(ctx, route)

	default:
		return Attr{}, ErrNotFound
	}
}

// PendingAttr returns the attributes of a control file as it stands mid
// rewrite, sized by its raw buffer.
func (s *Session) PendingAttr(route router.Route) (Attr, error) {
	if route.Kind != router.Control {
		return Attr{}, ErrPermission
	}
	n, err := s.controls.RawSize(route.Name)
	if err != nil {
		return Attr{}, ErrNotFound
	}
	return Attr{Perm: ModeControl, Nlink: 1, Size: uint64(n)}, nil
}

func (s *Session) postAttr(ctx context.Context, route router.Route) (Attr, error) {
	post, err := s.cache.GetOrFetch(ctx, route.ID)
	if err != nil {
		return Attr{}, postError(route.ID, err)
	}
	attr := Attr{Perm: ModePost, Nlink: 1}
	snap := post.Snapshot()
	attr.Mtime = snap.UpdatedAt
	if attr.Mtime.IsZero() {
		attr.Mtime = snap.CreatedAt
	}

	switch route.Entry {
	case router.EntryInfo:
		attr.Size = uint64(len(FormatInfo(s.cfg.BaseURL, snap)))
	case router.EntryRaw:
		attr.Size = uint64(len(post.Raw()))
	default:
		variant, info, err := selectVariant(post, s.controls.Variant())
		if err != nil {
			return Attr{}, err
		}
		if variant == models.VariantFile && info.Size > 0 {
			attr.Size = uint64(info.Size)
			break
		}
		data, err := s.cache.Variant(ctx, post, variant, info.URL)
		if err != nil {
			return Attr{}, fmt.Errorf("post %d %s: %w", post.ID, variant, err)
		}
		attr.Size = uint64(len(data))
	}
	return attr, nil
}

// selectVariant picks the rendition to serve for want, falling back to the
// original file when the post has no such rendition.
func selectVariant(post *models.Post, want models.Variant) (models.Variant, models.VariantInfo, error) {
	if info, ok := post.Variant(want); ok && info.URL != "" {
		return want, info, nil
	}
	if info, ok := post.Variant(models.VariantFile); ok && info.URL != "" {
		return models.VariantFile, info, nil
	}
	return "", models.VariantInfo{}, fmt.Errorf("post %d has no media: %w", post.ID, ErrNotFound)
}

// CheckOpen validates an open request. Only control files accept write
// access.
func (s *Session) CheckOpen(route router.Route, write bool) error {
	if route.Kind == router.Invalid {
		return ErrNotFound
	}
	if write && route.Kind != router.Control {
		return ErrPermission
	}
	return nil
}

// Write splices data into a control file. Every other entry is read-only.
func (s *Session) Write(route router.Route, offset int64, data []byte) (int, error) {
	if route.Kind != router.Control {
		return 0, ErrPermission
	}
	return s.controls.Write(route.Name, offset, data)
}

// Truncate shortens a control file. Every other entry is read-only.
func (s *Session) Truncate(route router.Route, size int64) error {
	if route.Kind != router.Control {
		return ErrPermission
	}
	return s.controls.Truncate(route.Name, size)
}

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name string
	Dir  bool
}

// List returns the entries of a directory route. Listing the collection
// fetches the page selected by the tags and page control files and merges
// it into the cache.
func (s *Session) List(ctx context.Context, route router.Route) ([]DirEntry, error) {
	switch route.Kind {
	case router.Root:
		names := control.Names()
		entries := make([]DirEntry, 0, len(names)+1)
		for _, name := range names {
			entries = append(entries, DirEntry{Name: name})
		}
		return append(entries, DirEntry{Name: router.CollectionDir, Dir: true}), nil

	case router.Collection:
		posts, err := s.Page(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]DirEntry, 0, 2*len(posts))
		for _, p := range posts {
			entries = append(entries,
				DirEntry{Name: router.PostName(p.ID, router.EntryMedia)},
				DirEntry{Name: router.PostName(p.ID, router.EntryInfo)},
			)
		}
		return entries, nil

	case router.Invalid:
		return nil, ErrNotFound

	default:
		return nil, ErrNotDir
	}
}

// Page fetches the current page and returns the cached posts in catalog
// order.
func (s *Session) Page(ctx context.Context) ([]*models.Post, error) {
	page := s.controls.PageNumber()
	tags := s.controls.Query()
	raws, err := s.catalog.FetchPage(ctx, page, tags, s.cfg.PageLimit)
	if err != nil {
		return nil, fmt.Errorf("list page %d %q: %w", page, tags, err)
	}
	return s.cache.Reconcile(raws), nil
}
