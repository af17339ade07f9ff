package resolver

import (
	"context"
	"errors"
	"strconv"

	"github.com/fruitsalade/postfs/pkg/models"
	"github.com/fruitsalade/postfs/pkg/router"
)

// ErrNoAttr is returned for extended attributes an entry does not carry.
var ErrNoAttr = errors.New("no such attribute")

// Extended attribute names exposed on post entries.
const (
	XattrID      = "user.postfs.id"
	XattrURL     = "user.postfs.url"
	XattrMD5     = "user.postfs.md5"
	XattrRating  = "user.postfs.rating"
	XattrVariant = "user.postfs.variant"
	XattrOnline  = "user.postfs.online"
	XattrCached  = "user.postfs.cached"
)

// XattrNames lists the attributes of route.
func XattrNames(route router.Route) []string {
	if route.Kind != router.Post {
		return []string{XattrOnline}
	}
	return []string{XattrID, XattrURL, XattrMD5, XattrRating, XattrVariant, XattrCached, XattrOnline}
}

// Xattr returns the value of an extended attribute.
func (s *Session) Xattr(ctx context.Context, route router.Route, name string) (string, error) {
	if name == XattrOnline {
		return strconv.FormatBool(s.IsOnline()), nil
	}
	if route.Kind != router.Post {
		return "", ErrNoAttr
	}

	switch name {
	case XattrID:
		return strconv.FormatInt(route.ID, 10), nil
	case XattrURL:
		return PostURL(s.cfg.BaseURL, route.ID), nil
	case XattrCached:
		return strconv.FormatBool(s.cache.IsCached(route.ID)), nil
	case XattrMD5, XattrRating, XattrVariant:
	default:
		return "", ErrNoAttr
	}

	post, err := s.cache.GetOrFetch(ctx, route.ID)
	if err != nil {
		return "", postError(route.ID, err)
	}
	switch name {
	case XattrRating:
		return string(post.Rating()), nil
	case XattrVariant:
		// Report what a read would serve after fallback.
		variant, _, err := selectVariant(post, s.controls.Variant())
		if err != nil {
			return "", ErrNoAttr
		}
		return string(variant), nil
	}
	file, _ := post.Variant(models.VariantFile)
	return file.MD5, nil
}
