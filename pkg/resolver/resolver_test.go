package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/postfs/pkg/client"
	"github.com/fruitsalade/postfs/pkg/control"
	"github.com/fruitsalade/postfs/pkg/protocol"
	"github.com/fruitsalade/postfs/pkg/retry"
	"github.com/fruitsalade/postfs/pkg/router"
)

// fakeCatalog serves a fixed set of posts and records every request path.
type fakeCatalog struct {
	srv   *httptest.Server
	posts map[int64]*protocol.RawPost
	page  []int64

	mu        sync.Mutex
	requests  []string
	lastQuery map[string]string
}

func newFakeCatalog(t *testing.T) *fakeCatalog {
	f := &fakeCatalog{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)

	parent := int64(41)
	f.posts = map[int64]*protocol.RawPost{
		42: {
			ID:        42,
			CreatedAt: "2024-01-02T03:04:05Z",
			File: protocol.FileInfo{
				Width: 800, Height: 600, Ext: "png", Size: 12345,
				MD5: "d41d8cd98f00b204e9800998ecf8427e", URL: f.srv.URL + "/data/file/42.png",
			},
			Preview: protocol.PreviewInfo{URL: f.srv.URL + "/data/preview/42.jpg"},
			Sample:  protocol.SampleInfo{Has: true, URL: f.srv.URL + "/data/sample/42.jpg"},
			Score:   protocol.Score{Up: 12, Down: -2, Total: 10},
			Tags: map[string][]string{
				"general": {"example", "outdoors"},
				"artist":  {"someone"},
			},
			Rating:        "s",
			Pools:         protocol.PoolList{"7"},
			Relationships: protocol.Relationships{ParentID: &parent},
		},
		7: {
			ID:     7,
			Rating: "q",
			File:   protocol.FileInfo{Size: 3, URL: f.srv.URL + "/data/file/7.png"},
		},
		8: {ID: 8, Rating: "e"},
	}
	f.page = []int64{42, 7}
	return f
}

func (f *fakeCatalog) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.Path)
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/posts.json":
		q := r.URL.Query()
		f.mu.Lock()
		f.lastQuery = map[string]string{"limit": q.Get("limit"), "page": q.Get("page"), "tags": q.Get("tags")}
		f.mu.Unlock()

		var resp protocol.PageResponse
		for _, id := range f.page {
			resp.Posts = append(resp.Posts, f.posts[id])
		}
		json.NewEncoder(w).Encode(resp)

	case strings.HasPrefix(r.URL.Path, "/posts/"):
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/posts/"), ".json"), 10, 64)
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		if id == 500 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		post, ok := f.posts[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"reason":"not found"}`))
			return
		}
		json.NewEncoder(w).Encode(protocol.PostResponse{Post: post})

	case strings.HasPrefix(r.URL.Path, "/data/"):
		fmt.Fprintf(w, "bytes:%s", r.URL.Path)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCatalog) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.requests {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeCatalog) total() int {
	return f.count("/")
}

func newTestSession(t *testing.T) (*Session, *fakeCatalog) {
	f := newFakeCatalog(t)
	c := client.New(client.Config{
		BaseURL: f.srv.URL,
		RetryConfig: retry.Config{
			MaxAttempts: 2,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
			Multiplier:  2,
		},
	})
	return NewSession(c, Config{BaseURL: "https://catalog.example"}), f
}

func writeControl(t *testing.T, s *Session, name, content string) {
	route := router.Classify("/" + name)
	require.NoError(t, s.Truncate(route, 0))
	_, err := s.Write(route, 0, []byte(content))
	require.NoError(t, err)
}

func names(entries []DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestList_Root(t *testing.T) {
	s, f := newTestSession(t)

	entries, err := s.List(context.Background(), router.Classify("/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"page", "size", "tags", "posts"}, names(entries))
	assert.True(t, entries[3].Dir)
	assert.Zero(t, f.total())
}

func TestList_CollectionFollowsCatalogOrder(t *testing.T) {
	s, f := newTestSession(t)
	writeControl(t, s, control.Tags, "  rating:safe\n example\n")
	writeControl(t, s, control.Page, "1")

	entries, err := s.List(context.Background(), router.Classify("/posts"))
	require.NoError(t, err)
	assert.Equal(t, []string{"42", "42_info", "7", "7_info"}, names(entries))

	f.mu.Lock()
	query := f.lastQuery
	f.mu.Unlock()
	assert.Equal(t, map[string]string{"limit": "75", "page": "1", "tags": "rating:safe example"}, query)

	// Listed posts are served from the cache afterwards.
	_, err = s.Attr(context.Background(), router.Classify("/posts/42_info"))
	require.NoError(t, err)
	assert.Zero(t, f.count("/posts/42.json"))
}

func TestList_NotADirectory(t *testing.T) {
	s, _ := newTestSession(t)

	_, err := s.List(context.Background(), router.Classify("/tags"))
	assert.ErrorIs(t, err, ErrNotDir)

	_, err = s.List(context.Background(), router.Classify("/nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttr_FileVariantUsesDeclaredSize(t *testing.T) {
	s, f := newTestSession(t)
	writeControl(t, s, control.Size, "file")

	attr, err := s.Attr(context.Background(), router.Classify("/posts/42"))
	require.NoError(t, err)
	assert.EqualValues(t, 12345, attr.Size)
	assert.EqualValues(t, ModePost, attr.Perm)
	assert.False(t, attr.Dir)
	assert.Zero(t, f.count("/data/"))
	assert.Equal(t, 1, f.count("/posts/42.json"))
}

func TestAttr_SampleVariantFetchedOnce(t *testing.T) {
	s, f := newTestSession(t)
	ctx := context.Background()
	route := router.Classify("/posts/42")

	attr, err := s.Attr(ctx, route)
	require.NoError(t, err)
	want := "bytes:/data/sample/42.jpg"
	assert.EqualValues(t, len(want), attr.Size)

	data, err := s.Read(ctx, route, 0, 4096)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))

	assert.Equal(t, 1, f.count("/data/sample/"))
	assert.Equal(t, 1, f.count("/posts/42.json"))
}

func TestContent_FallsBackToFileVariant(t *testing.T) {
	s, f := newTestSession(t)

	data, err := s.Content(context.Background(), router.Classify("/posts/7"))
	require.NoError(t, err)
	assert.Equal(t, "bytes:/data/file/7.png", string(data))
	assert.Equal(t, 1, f.count("/data/file/7.png"))
}

func TestContent_NoMediaIsNotFound(t *testing.T) {
	s, _ := newTestSession(t)

	_, err := s.Content(context.Background(), router.Classify("/posts/8"))
	assert.ErrorIs(t, err, ErrNotFound)

	// The info entry still works.
	_, err = s.Content(context.Background(), router.Classify("/posts/8_info"))
	assert.NoError(t, err)
}

func TestContent_Info(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	route := router.Classify("/posts/42_info")

	data, err := s.Content(ctx, route)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "ID: 42\n")
	assert.Contains(t, text, "URL: https://catalog.example/posts/42\n")
	assert.Contains(t, text, "Rating: safe\n")
	assert.Contains(t, text, "Score: 10 (+12 / -2)\n")
	assert.Regexp(t, `(?m)^Size: [0-9.]+ (B|KiB|MiB|GiB|TiB|PiB)$`, text)
	assert.Contains(t, text, "Size: 12.06 KiB\n")
	assert.Contains(t, text, "Parent: 41\n")
	assert.Less(t, strings.Index(text, "Artist:"), strings.Index(text, "General:"))

	attr, err := s.Attr(ctx, route)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), attr.Size)
}

func TestContent_Raw(t *testing.T) {
	s, _ := newTestSession(t)

	data, err := s.Content(context.Background(), router.Classify("/posts/42_raw"))
	require.NoError(t, err)

	var raw protocol.RawPost
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, 42, raw.ID)
	assert.Equal(t, "s", raw.Rating)
}

func TestContent_Directory(t *testing.T) {
	s, _ := newTestSession(t)
	_, err := s.Content(context.Background(), router.Classify("/posts"))
	assert.ErrorIs(t, err, ErrIsDir)
}

func TestInvalidPathsNeverReachCatalog(t *testing.T) {
	s, f := newTestSession(t)
	ctx := context.Background()

	for _, path := range []string{"/posts/abc", "/posts/042", "/posts/42_meta", "/nope"} {
		route := router.Classify(path)
		_, err := s.Attr(ctx, route)
		assert.ErrorIs(t, err, ErrNotFound, path)
		_, err = s.Read(ctx, route, 0, 10)
		assert.ErrorIs(t, err, ErrNotFound, path)
	}
	assert.Zero(t, f.total())
}

func TestPostsAreReadOnly(t *testing.T) {
	s, f := newTestSession(t)

	for _, path := range []string{"/posts/42", "/posts/42_info", "/posts", "/"} {
		route := router.Classify(path)
		_, err := s.Write(route, 0, []byte("x"))
		assert.ErrorIs(t, err, ErrPermission, path)
		assert.ErrorIs(t, s.Truncate(route, 0), ErrPermission, path)
		assert.ErrorIs(t, s.CheckOpen(route, true), ErrPermission, path)
		assert.NoError(t, s.CheckOpen(route, false), path)
	}
	assert.NoError(t, s.CheckOpen(router.Classify("/tags"), true))
	assert.Zero(t, f.total())
}

func TestUpstreamErrors(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	_, err := s.Attr(ctx, router.Classify("/posts/404"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Attr(ctx, router.Classify("/posts/500"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	ue, ok := client.AsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, ue.StatusCode)
}

func TestControlFiles(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	tags := router.Classify("/tags")

	attr, err := s.Attr(ctx, tags)
	require.NoError(t, err)
	assert.EqualValues(t, 1, attr.Size)
	assert.EqualValues(t, ModeControl, attr.Perm)
	data, err := s.Content(ctx, tags)
	require.NoError(t, err)
	assert.Equal(t, "\n", string(data))

	writeControl(t, s, control.Tags, "rating:safe")

	data, err = s.Read(ctx, tags, 7, 100)
	require.NoError(t, err)
	assert.Equal(t, "safe", string(data))

	data, err = s.Read(ctx, tags, 11, 10)
	require.NoError(t, err)
	assert.Empty(t, data)

	writeControl(t, s, control.Size, "huge")
	data, err = s.Content(ctx, router.Classify("/size"))
	require.NoError(t, err)
	assert.Equal(t, "sample\n", string(data))
}

func TestXattr(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	route := router.Classify("/posts/42")

	assert.Equal(t, []string{XattrID, XattrURL, XattrMD5, XattrRating, XattrVariant, XattrCached, XattrOnline}, XattrNames(route))
	assert.Equal(t, []string{XattrOnline}, XattrNames(router.Classify("/tags")))

	cached, err := s.Xattr(ctx, route, XattrCached)
	require.NoError(t, err)
	assert.Equal(t, "false", cached)

	tests := map[string]string{
		XattrID:      "42",
		XattrURL:     "https://catalog.example/posts/42",
		XattrMD5:     "d41d8cd98f00b204e9800998ecf8427e",
		XattrRating:  "safe",
		XattrVariant: "sample",
		XattrOnline:  "true",
	}
	for name, want := range tests {
		got, err := s.Xattr(ctx, route, name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	cached, err = s.Xattr(ctx, route, XattrCached)
	require.NoError(t, err)
	assert.Equal(t, "true", cached)

	_, err = s.Xattr(ctx, route, "user.other")
	assert.ErrorIs(t, err, ErrNoAttr)
	_, err = s.Xattr(ctx, router.Classify("/tags"), XattrID)
	assert.ErrorIs(t, err, ErrNoAttr)
}

func TestXattr_VariantReportsServedRendition(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	tests := []struct {
		size string
		path string
		want string
	}{
		{"sample", "/posts/42", "sample"},
		{"sample", "/posts/7", "file"},
		{"preview", "/posts/42", "preview"},
		{"preview", "/posts/7", "file"},
		{"file", "/posts/42", "file"},
	}
	for _, tt := range tests {
		writeControl(t, s, control.Size, tt.size)
		got, err := s.Xattr(ctx, router.Classify(tt.path), XattrVariant)
		require.NoError(t, err, "%s %s", tt.size, tt.path)
		assert.Equal(t, tt.want, got, "%s %s", tt.size, tt.path)
	}

	// Post 8 has no media at all.
	_, err := s.Xattr(ctx, router.Classify("/posts/8"), XattrVariant)
	assert.ErrorIs(t, err, ErrNoAttr)
}

func TestWindow(t *testing.T) {
	buf := []byte("0123456789")
	tests := []struct {
		offset int64
		size   int
		want   string
	}{
		{0, 4, "0123"},
		{8, 10, "89"},
		{10, 1, ""},
		{20, 1, ""},
		{-1, 3, ""},
		{2, 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(window(buf, tt.offset, tt.size)), "offset=%d size=%d", tt.offset, tt.size)
	}
}
