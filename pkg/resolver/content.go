package resolver

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/fruitsalade/postfs/internal/logging"
	"github.com/fruitsalade/postfs/pkg/router"
)

// Read materializes the whole content of route and returns the window
// [offset, offset+size), clamped to the content bounds.
func (s *Session) Read(ctx context.Context, route router.Route, offset int64, size int) ([]byte, error) {
	buf, err := s.Content(ctx, route)
	if err != nil {
		return nil, err
	}
	return window(buf, offset, size), nil
}

// Content returns the full logical buffer of a file route.
func (s *Session) Content(ctx context.Context, route router.Route) ([]byte, error) {
	switch route.Kind {
	case router.Control:
		buf, err := s.controls.Read(route.Name)
		if err != nil {
			return nil, ErrNotFound
		}
		return buf, nil

	case router.Post:
		post, err := s.cache.GetOrFetch(ctx, route.ID)
		if err != nil {
			return nil, postError(route.ID, err)
		}

		switch route.Entry {
		case router.EntryInfo:
			return []byte(FormatInfo(s.cfg.BaseURL, post.Snapshot())), nil
		case router.EntryRaw:
			return post.Raw(), nil
		}

		variant, info, err := selectVariant(post, s.controls.Variant())
		if err != nil {
			return nil, err
		}
		cached := post.HasBlob(variant)
		data, err := s.cache.Variant(ctx, post, variant, info.URL)
		if err != nil {
			return nil, fmt.Errorf("post %d %s: %w", post.ID, variant, err)
		}
		if !cached {
			logging.Debug("fetched media",
				logging.Int64("id", post.ID),
				logging.String("variant", string(variant)),
				logging.String("size", humanize.IBytes(uint64(len(data)))),
			)
		}
		return data, nil

	case router.Invalid:
		return nil, ErrNotFound

	default:
		return nil, ErrIsDir
	}
}

func window(buf []byte, offset int64, size int) []byte {
	if offset < 0 || size <= 0 || offset >= int64(len(buf)) {
		return []byte{}
	}
	end := offset + int64(size)
	if end > int64(len(buf)) {
		end = int64(len(buf))
	}
	return buf[offset:end]
}
