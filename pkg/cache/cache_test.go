package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fruitsalade/postfs/pkg/models"
	"github.com/fruitsalade/postfs/pkg/protocol"
)

type fakeFetcher struct {
	mu       sync.Mutex
	posts    map[int64]*protocol.RawPost
	delay    time.Duration
	fetches  atomic.Int32
	variants atomic.Int32
}

func (f *fakeFetcher) FetchOne(ctx context.Context, id int64) (*protocol.RawPost, error) {
	f.fetches.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.posts[id]
	if !ok {
		return nil, errors.New("no such post")
	}
	return raw, nil
}

func (f *fakeFetcher) FetchVariant(ctx context.Context, url string) ([]byte, error) {
	f.variants.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return []byte("bytes of " + url), nil
}

func newFake() *fakeFetcher {
	return &fakeFetcher{posts: map[int64]*protocol.RawPost{
		42: {ID: 42, Rating: "s", Score: protocol.Score{Total: 1}},
		7:  {ID: 7, Rating: "e"},
	}}
}

func TestCache_GetOrFetchReturnsSameInstance(t *testing.T) {
	f := newFake()
	c := New(f)

	first, err := c.GetOrFetch(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	second, err := c.GetOrFetch(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}

	if first != second {
		t.Error("expected identical cached instance")
	}
	if n := f.fetches.Load(); n != 1 {
		t.Errorf("expected 1 remote fetch, got %d", n)
	}
	if first.Origin != models.OriginFetch {
		t.Errorf("expected fetch origin, got %v", first.Origin)
	}

	count, hits, misses := c.Stats()
	if count != 1 || hits != 1 || misses != 1 {
		t.Errorf("unexpected stats: count=%d hits=%d misses=%d", count, hits, misses)
	}
}

func TestCache_FetchErrorNotCached(t *testing.T) {
	f := newFake()
	c := New(f)

	if _, err := c.GetOrFetch(context.Background(), 999); err == nil {
		t.Fatal("expected error")
	}
	if c.IsCached(999) {
		t.Error("failed fetch must not create an entry")
	}
	c.GetOrFetch(context.Background(), 999)
	if n := f.fetches.Load(); n != 2 {
		t.Errorf("expected failed lookups to retry the fetch, got %d fetches", n)
	}
}

func TestCache_ConcurrentMissesCollapse(t *testing.T) {
	f := newFake()
	f.delay = 20 * time.Millisecond
	c := New(f)

	var wg sync.WaitGroup
	results := make([]*models.Post, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.GetOrFetch(context.Background(), 42)
			if err != nil {
				t.Errorf("GetOrFetch: %v", err)
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	if n := f.fetches.Load(); n != 1 {
		t.Errorf("expected 1 remote fetch, got %d", n)
	}
	for _, p := range results {
		if p != results[0] {
			t.Fatal("expected every caller to get the same instance")
		}
	}
}

func TestCache_ReconcileUpdatesInPlace(t *testing.T) {
	f := newFake()
	c := New(f)

	held, _ := c.GetOrFetch(context.Background(), 42)
	if held.Snapshot().Score.Total != 1 {
		t.Fatalf("unexpected initial score")
	}

	out := c.Reconcile([]*protocol.RawPost{
		{ID: 5, Rating: "q"},
		{ID: 42, Rating: "q", Score: protocol.Score{Total: 99}},
		{ID: 1, Rating: "s"},
	})

	if len(out) != 3 || out[0].ID != 5 || out[1].ID != 42 || out[2].ID != 1 {
		t.Fatalf("unexpected order: %v", out)
	}
	if out[1] != held {
		t.Error("expected reconcile to return the cached instance")
	}
	if held.Snapshot().Score.Total != 99 || held.Rating() != models.RatingQuestionable {
		t.Error("expected held reference to observe refreshed data")
	}
	if out[0].Origin != models.OriginPage {
		t.Errorf("expected page origin for new entry, got %v", out[0].Origin)
	}

	p, err := c.GetOrFetch(context.Background(), 5)
	if err != nil || p != out[0] {
		t.Error("expected reconciled post to be served from cache")
	}
	if n := f.fetches.Load(); n != 1 {
		t.Errorf("expected no fetch for reconciled ids, got %d fetches", n)
	}
}

func TestCache_VariantFetchedOnce(t *testing.T) {
	f := newFake()
	c := New(f)
	p, _ := c.GetOrFetch(context.Background(), 42)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := c.Variant(context.Background(), p, models.VariantSample, "u")
			if err != nil || string(data) != "bytes of u" {
				t.Errorf("Variant: %q, %v", data, err)
			}
		}()
	}
	wg.Wait()

	c.Variant(context.Background(), p, models.VariantSample, "u")
	if n := f.variants.Load(); n != 1 {
		t.Errorf("expected 1 variant download, got %d", n)
	}

	// Blobs survive a page refresh of the same post.
	c.Reconcile([]*protocol.RawPost{{ID: 42}})
	if !p.HasBlob(models.VariantSample) {
		t.Error("expected blob to survive reconcile")
	}
}

// gatedFetcher blocks FetchOne until release is closed.
type gatedFetcher struct {
	*fakeFetcher
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (g *gatedFetcher) FetchOne(ctx context.Context, id int64) (*protocol.RawPost, error) {
	close(g.started)
	<-g.release
	g.ctxErr <- ctx.Err()
	return g.fakeFetcher.FetchOne(ctx, id)
}

func TestCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	g := &gatedFetcher{
		fakeFetcher: newFake(),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
		ctxErr:      make(chan error, 1),
	}
	c := New(g)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, 42)
		firstErr <- err
	}()
	<-g.started

	second := make(chan *models.Post, 1)
	go func() {
		p, err := c.GetOrFetch(context.Background(), 42)
		if err != nil {
			t.Errorf("GetOrFetch: %v", err)
		}
		second <- p
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to see context.Canceled, got %v", err)
	}

	close(g.release)
	if err := <-g.ctxErr; err != nil {
		t.Errorf("fetch context was cancelled with the first caller: %v", err)
	}
	if p := <-second; p == nil || p.ID != 42 {
		t.Fatalf("expected post 42, got %v", p)
	}
	if !c.IsCached(42) {
		t.Error("expected the shared fetch to populate the cache")
	}
	if n := g.fetches.Load(); n != 1 {
		t.Errorf("expected 1 remote fetch, got %d", n)
	}
}
