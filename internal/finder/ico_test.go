package finder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/hyperifyio/favfinder/internal/fetch"
	"github.com/hyperifyio/favfinder/internal/imagecheck"
)

var iconBytes = []byte("ICON")

// fakeFetcher serves canned bodies by URL and records every call.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	calls  []string
	opts   []fetch.Options
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	body, ok := f.bodies[rawURL]
	if !ok {
		return nil, &fetch.StatusError{URL: rawURL, Code: http.StatusNotFound}
	}
	u, _ := url.Parse(rawURL)
	return &fetch.Outcome{Body: body, FinalURL: u, Meta: fetch.Metadata{StatusCode: 200}}, nil
}

var iconValidator = imagecheck.ValidatorFunc(func(b []byte) bool { return bytes.Equal(b, iconBytes) })

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestICOFinder_DirectHitSkipsRoot(t *testing.T) {
	ff := &fakeFetcher{bodies: map[string][]byte{
		"https://blog.example.com/favicon.ico": iconBytes,
		"https://example.com/favicon.ico":      iconBytes,
	}}
	f := NewICOFinder(ff, iconValidator)
	got, err := f.Discover(context.Background(), mustURL(t, "https://blog.example.com/posts/1"), Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got.String() != "https://blog.example.com/favicon.ico" || got.Type != TypeICO {
		t.Fatalf("got %v (%s)", got, got.Type)
	}
	if len(ff.calls) != 1 {
		t.Fatalf("expected exactly one fetch, got %v", ff.calls)
	}
}

func TestICOFinder_FallsBackToRootDomain(t *testing.T) {
	ff := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/favicon.ico": iconBytes,
	}}
	f := NewICOFinder(ff, iconValidator)
	got, err := f.Discover(context.Background(), mustURL(t, "https://blog.example.com/posts/1"), Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got.String() != "https://example.com/favicon.ico" {
		t.Fatalf("got %v", got)
	}
	want := []string{"https://blog.example.com/favicon.ico", "https://example.com/favicon.ico"}
	if len(ff.calls) != 2 || ff.calls[0] != want[0] || ff.calls[1] != want[1] {
		t.Fatalf("calls=%v, want %v", ff.calls, want)
	}
}

func TestICOFinder_UndecodableDirectFallsBack(t *testing.T) {
	ff := &fakeFetcher{bodies: map[string][]byte{
		"https://a.b.example.org/favicon.ico": []byte("<html>soft 404</html>"),
		"https://example.org/favicon.ico":     iconBytes,
	}}
	got, err := NewICOFinder(ff, iconValidator).Discover(context.Background(), mustURL(t, "https://a.b.example.org"), Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got.String() != "https://example.org/favicon.ico" {
		t.Fatalf("got %v", got)
	}
}

func TestICOFinder_NetworkErrorFallsBack(t *testing.T) {
	ff := &fakeFetcher{
		errs:   map[string]error{"https://cdn.example.com/favicon.ico": errors.New("connection refused")},
		bodies: map[string][]byte{"https://example.com/favicon.ico": iconBytes},
	}
	got, err := NewICOFinder(ff, iconValidator).Discover(context.Background(), mustURL(t, "https://cdn.example.com/"), Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got.String() != "https://example.com/favicon.ico" {
		t.Fatalf("got %v", got)
	}
}

func TestICOFinder_EmptyBodyIsFailure(t *testing.T) {
	ff := &fakeFetcher{bodies: map[string][]byte{
		"https://www.example.com/favicon.ico": {},
		"https://example.com/favicon.ico":     {},
	}}
	accept := imagecheck.ValidatorFunc(func([]byte) bool { return true })
	_, err := NewICOFinder(ff, accept).Discover(context.Background(), mustURL(t, "https://www.example.com/"), Options{})
	if !errors.Is(err, ErrFaviconNotFound) {
		t.Fatalf("expected ErrFaviconNotFound, got %v", err)
	}
}

func TestICOFinder_BothFail(t *testing.T) {
	ff := &fakeFetcher{}
	_, err := NewICOFinder(ff, iconValidator).Discover(context.Background(), mustURL(t, "https://blog.example.com/posts/1"), Options{})
	if !errors.Is(err, ErrFaviconNotFound) {
		t.Fatalf("expected ErrFaviconNotFound, got %v", err)
	}
	if len(ff.calls) != 2 {
		t.Fatalf("expected two fetches, got %v", ff.calls)
	}
}

func TestICOFinder_NoRootDomainStopsAfterDirect(t *testing.T) {
	for _, site := range []string{"http://localhost:8080/app", "http://192.168.1.10/", "https://co.uk/"} {
		ff := &fakeFetcher{}
		_, err := NewICOFinder(ff, iconValidator).Discover(context.Background(), mustURL(t, site), Options{})
		if !errors.Is(err, ErrFaviconNotFound) {
			t.Fatalf("%s: expected ErrFaviconNotFound, got %v", site, err)
		}
		if len(ff.calls) != 1 {
			t.Fatalf("%s: expected one fetch, got %v", site, ff.calls)
		}
	}
}

func TestICOFinder_AlreadyAtRootFetchesOnce(t *testing.T) {
	ff := &fakeFetcher{}
	_, err := NewICOFinder(ff, iconValidator).Discover(context.Background(), mustURL(t, "https://example.com/about"), Options{})
	if !errors.Is(err, ErrFaviconNotFound) {
		t.Fatalf("expected ErrFaviconNotFound, got %v", err)
	}
	if len(ff.calls) != 1 {
		t.Fatalf("same candidate must not be fetched twice, got %v", ff.calls)
	}
}

func TestICOFinder_MalformedFilenameNoFetch(t *testing.T) {
	ff := &fakeFetcher{}
	_, err := NewICOFinder(ff, iconValidator).Discover(context.Background(), mustURL(t, "https://blog.example.com/"), Options{PreferredFilename: "%zz"})
	if !errors.Is(err, ErrFaviconNotFound) {
		t.Fatalf("expected ErrFaviconNotFound, got %v", err)
	}
	if len(ff.calls) != 0 {
		t.Fatalf("no fetch expected, got %v", ff.calls)
	}
}

func TestICOFinder_PreferredFilenameAndMetaRefresh(t *testing.T) {
	ff := &fakeFetcher{bodies: map[string][]byte{
		"https://shop.example.com/static/icon.ico": iconBytes,
	}}
	got, err := NewICOFinder(ff, iconValidator).Discover(context.Background(), mustURL(t, "https://shop.example.com/cart?id=3"),
		Options{PreferredFilename: "/static/icon.ico", FollowMetaRefresh: true})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got.String() != "https://shop.example.com/static/icon.ico" {
		t.Fatalf("got %v", got)
	}
	if !ff.opts[0].FollowMetaRefresh {
		t.Fatalf("meta refresh option not forwarded")
	}
}

func TestICOFinder_CancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	ff := FetcherFunc(func(ctx context.Context, rawURL string, _ fetch.Options) (*fetch.Outcome, error) {
		calls++
		cancel()
		return nil, ctx.Err()
	})
	_, err := NewICOFinder(ff, iconValidator).Discover(ctx, mustURL(t, "https://blog.example.com/"), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrFaviconNotFound) {
		t.Fatalf("cancellation must not be reported as not found")
	}
	if calls != 1 {
		t.Fatalf("no fallback expected after cancellation, got %d calls", calls)
	}
}

func TestICOFinder_NilSite(t *testing.T) {
	_, err := NewICOFinder(&fakeFetcher{}, iconValidator).Discover(context.Background(), nil, Options{})
	if !errors.Is(err, ErrFaviconNotFound) {
		t.Fatalf("expected ErrFaviconNotFound, got %v", err)
	}
}

func TestICOFinder_WithHTTPServerAndDecoder(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/favicon.ico" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := NewICOFinder(&fetch.Client{}, nil)
	got, err := f.Discover(context.Background(), mustURL(t, srv.URL+"/deep/page.html"), Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got.String() != srv.URL+"/favicon.ico" {
		t.Fatalf("got %v", got)
	}
}

func TestICOFinder_ConcurrentCalls(t *testing.T) {
	ff := &fakeFetcher{bodies: map[string][]byte{"https://example.com/favicon.ico": iconBytes}}
	f := NewICOFinder(ff, iconValidator)
	site := mustURL(t, "https://a.example.com/")
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.Discover(context.Background(), site, Options{})
			if err == nil && got.String() != "https://example.com/favicon.ico" {
				err = errors.New("wrong url " + got.String())
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent discover: %v", err)
		}
	}
}

func TestICOFinder_MixedCaseRootHostFetchesOnce(t *testing.T) {
	ff := &fakeFetcher{}
	_, err := NewICOFinder(ff, iconValidator).Discover(context.Background(), mustURL(t, "https://Example.com/about"), Options{})
	if !errors.Is(err, ErrFaviconNotFound) {
		t.Fatalf("expected ErrFaviconNotFound, got %v", err)
	}
	if len(ff.calls) != 1 {
		t.Fatalf("host case must not cause a second fetch, got %v", ff.calls)
	}
}

// countingTransport answers every request with a fixed status.
type countingTransport struct {
	mu     sync.Mutex
	status int
	urls   []string
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.urls = append(c.urls, r.URL.String())
	c.mu.Unlock()
	return &http.Response{
		StatusCode: c.status,
		Header:     make(http.Header),
		Body:       http.NoBody,
		Request:    r,
	}, nil
}

func TestICOFinder_AtMostTwoRoundTripsWithDefaultClient(t *testing.T) {
	rt := &countingTransport{status: http.StatusServiceUnavailable}
	client := &fetch.Client{HTTPClient: &http.Client{Transport: rt}}
	_, err := NewICOFinder(client, nil).Discover(context.Background(), mustURL(t, "https://blog.example.com/posts/1"), Options{})
	if !errors.Is(err, ErrFaviconNotFound) {
		t.Fatalf("expected ErrFaviconNotFound, got %v", err)
	}
	want := []string{"https://blog.example.com/favicon.ico", "https://example.com/favicon.ico"}
	if len(rt.urls) != 2 || rt.urls[0] != want[0] || rt.urls[1] != want[1] {
		t.Fatalf("round trips=%v, want %v", rt.urls, want)
	}
}
