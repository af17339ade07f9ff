// Package models contains the catalog object types shared across packages.
package models

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/postfs/pkg/protocol"
)

// Rating is the content rating of a post.
type Rating string

const (
	RatingSafe         Rating = "safe"
	RatingQuestionable Rating = "questionable"
	RatingExplicit     Rating = "explicit"
)

// ParseRating maps the catalog's one-letter rating code.
func ParseRating(code string) Rating {
	switch code {
	case "s", "safe":
		return RatingSafe
	case "q", "questionable":
		return RatingQuestionable
	case "e", "explicit":
		return RatingExplicit
	default:
		return Rating(code)
	}
}

// Variant names a rendition of a post's media.
type Variant string

const (
	VariantFile    Variant = "file"
	VariantSample  Variant = "sample"
	VariantPreview Variant = "preview"
)

// DefaultVariant is served when no valid variant is selected.
const DefaultVariant = VariantSample

// ParseVariant reports whether s names a known variant.
func ParseVariant(s string) (Variant, bool) {
	switch Variant(s) {
	case VariantFile, VariantSample, VariantPreview:
		return Variant(s), true
	default:
		return "", false
	}
}

// VariantInfo describes one media rendition. Size is only known for the
// file variant; it is zero elsewhere.
type VariantInfo struct {
	URL    string
	Size   int64
	Width  int
	Height int
	MD5    string
}

// Score holds the vote breakdown of a post.
type Score struct {
	Total int
	Up    int
	Down  int
}

// Origin records which factory produced a Post.
type Origin int

const (
	OriginFetch Origin = iota // built from a direct fetch-one
	OriginPage                // built from a page listing entry
)

func (o Origin) String() string {
	if o == OriginPage {
		return "page"
	}
	return "fetch"
}

// Post is a cached catalog entry. Exactly one instance per ID lives in the
// object cache; page refreshes update it in place through Update.
type Post struct {
	ID     int64
	Origin Origin

	mu          sync.RWMutex
	tags        map[string][]string
	rating      Rating
	score       Score
	createdAt   time.Time
	updatedAt   time.Time
	variants    map[Variant]VariantInfo
	parentID    *int64
	children    []int64
	pools       []string
	sources     []string
	description string
	raw         []byte

	blobMu sync.Mutex
	blobs  map[Variant][]byte
}

// NewFromFetch builds a Post from a fetch-one result.
func NewFromFetch(raw *protocol.RawPost) *Post {
	p := &Post{ID: raw.ID, Origin: OriginFetch, blobs: make(map[Variant][]byte)}
	p.Update(raw)
	return p
}

// NewFromPage builds a Post from an entry of a page listing.
func NewFromPage(raw *protocol.RawPost) *Post {
	p := &Post{ID: raw.ID, Origin: OriginPage, blobs: make(map[Variant][]byte)}
	p.Update(raw)
	return p
}

// Update replaces the post's attributes with raw. Fetched blobs are kept.
func (p *Post) Update(raw *protocol.RawPost) {
	tags := make(map[string][]string, len(raw.Tags))
	for category, list := range raw.Tags {
		tags[category] = dedupe(list)
	}

	variants := map[Variant]VariantInfo{
		VariantFile: {
			URL:    raw.File.URL,
			Size:   raw.File.Size,
			Width:  raw.File.Width,
			Height: raw.File.Height,
			MD5:    raw.File.MD5,
		},
		VariantPreview: {
			URL:    raw.Preview.URL,
			Width:  raw.Preview.Width,
			Height: raw.Preview.Height,
		},
	}
	if raw.Sample.Has || raw.Sample.URL != "" {
		variants[VariantSample] = VariantInfo{
			URL:    raw.Sample.URL,
			Width:  raw.Sample.Width,
			Height: raw.Sample.Height,
		}
	}

	encoded, err := indentRaw(raw)
	if err == nil {
		encoded = append(encoded, '\n')
	}

	var parent *int64
	if raw.Relationships.ParentID != nil {
		id := *raw.Relationships.ParentID
		parent = &id
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = tags
	p.rating = ParseRating(raw.Rating)
	p.score = Score{Total: raw.Score.Total, Up: raw.Score.Up, Down: raw.Score.Down}
	p.createdAt = parseTime(raw.CreatedAt)
	p.updatedAt = parseTime(raw.UpdatedAt)
	p.variants = variants
	p.parentID = parent
	p.children = append([]int64(nil), raw.Relationships.Children...)
	p.pools = append([]string(nil), raw.Pools...)
	p.sources = append([]string(nil), raw.Sources...)
	p.description = raw.Description
	p.raw = encoded
}

// Raw returns the catalog metadata of the post as indented JSON.
func (p *Post) Raw() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.raw
}

// Snapshot is an immutable copy of a post's attributes.
type Snapshot struct {
	ID          int64
	Tags        map[string][]string
	Rating      Rating
	Score       Score
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Variants    map[Variant]VariantInfo
	ParentID    *int64
	Children    []int64
	Pools       []string
	Sources     []string
	Description string
}

// Snapshot returns a consistent view of the post's current attributes.
func (p *Post) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		ID:          p.ID,
		Tags:        p.tags,
		Rating:      p.rating,
		Score:       p.score,
		CreatedAt:   p.createdAt,
		UpdatedAt:   p.updatedAt,
		Variants:    p.variants,
		ParentID:    p.parentID,
		Children:    p.children,
		Pools:       p.pools,
		Sources:     p.sources,
		Description: p.description,
	}
}

// Rating returns the post's rating.
func (p *Post) Rating() Rating {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rating
}

// Variant returns the descriptor for v. ok is false when the post has no
// such rendition.
func (p *Post) Variant(v Variant) (VariantInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.variants[v]
	return info, ok
}

// Blob returns the fetched bytes for v, if any.
func (p *Post) Blob(v Variant) ([]byte, bool) {
	p.blobMu.Lock()
	defer p.blobMu.Unlock()
	b, ok := p.blobs[v]
	return b, ok
}

// HasBlob reports whether the bytes for v were already fetched.
func (p *Post) HasBlob(v Variant) bool {
	_, ok := p.Blob(v)
	return ok
}

// SetBlob stores the bytes for v unless some are already stored, and
// returns whichever bytes the post keeps.
func (p *Post) SetBlob(v Variant, data []byte) []byte {
	p.blobMu.Lock()
	defer p.blobMu.Unlock()
	if existing, ok := p.blobs[v]; ok {
		return existing
	}
	p.blobs[v] = data
	return data
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// indentRaw renders the post as received when the source bytes were kept,
// so fields outside RawPost survive.
func indentRaw(raw *protocol.RawPost) ([]byte, error) {
	if len(raw.Source) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw.Source, "", "  "); err == nil {
			return buf.Bytes(), nil
		}
	}
	return json.MarshalIndent(raw, "", "  ")
}
