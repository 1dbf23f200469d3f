package finder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
)

type stubFinder struct {
	typ   Type
	fav   FaviconURL
	err   error
	calls int
}

func (s *stubFinder) Type() Type { return s.typ }

func (s *stubFinder) Discover(ctx context.Context, site *url.URL, opts Options) (FaviconURL, error) {
	s.calls++
	return s.fav, s.err
}

func TestChain_FirstSuccessWins(t *testing.T) {
	u, _ := url.Parse("https://example.com/icon.png")
	first := &stubFinder{typ: TypeHTML, err: ErrFaviconNotFound}
	second := &stubFinder{typ: TypeICO, fav: FaviconURL{URL: u, Type: TypeICO}}
	third := &stubFinder{typ: TypeWebApplicationManifest}
	got, err := Chain{first, second, third}.Discover(context.Background(), u, Options{})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got.Type != TypeICO || third.calls != 0 {
		t.Fatalf("got %v, third.calls=%d", got, third.calls)
	}
}

func TestChain_AllNotFound(t *testing.T) {
	a := &stubFinder{err: ErrFaviconNotFound}
	b := &stubFinder{err: fmt.Errorf("%w: unexpected status 404", ErrFaviconNotFound)}
	_, err := Chain{a, b}.Discover(context.Background(), &url.URL{}, Options{})
	if !errors.Is(err, ErrFaviconNotFound) || a.calls != 1 || b.calls != 1 {
		t.Fatalf("err=%v calls=%d,%d", err, a.calls, b.calls)
	}
	if err != b.err {
		t.Fatalf("expected the last finder's error, got %v", err)
	}
	if _, err := (Chain{}).Discover(context.Background(), &url.URL{}, Options{}); !errors.Is(err, ErrFaviconNotFound) {
		t.Fatalf("empty chain should report not found, got %v", err)
	}
}

func TestChain_StopsOnOtherErrors(t *testing.T) {
	a := &stubFinder{err: context.Canceled}
	b := &stubFinder{}
	_, err := Chain{a, b}.Discover(context.Background(), &url.URL{}, Options{})
	if !errors.Is(err, context.Canceled) || b.calls != 0 {
		t.Fatalf("err=%v b.calls=%d", err, b.calls)
	}
}

func TestChain_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &stubFinder{}
	if _, err := (Chain{a}).Discover(ctx, &url.URL{}, Options{}); !errors.Is(err, context.Canceled) || a.calls != 0 {
		t.Fatalf("err=%v calls=%d", err, a.calls)
	}
}

func TestOptions_DefaultFilename(t *testing.T) {
	if got := (Options{}).filename(); got != DefaultFilename {
		t.Fatalf("filename=%q", got)
	}
	if got := (Options{PreferredFilename: "x.ico"}).filename(); got != "x.ico" {
		t.Fatalf("filename=%q", got)
	}
}

func TestChain_IsFinder(t *testing.T) {
	var f Finder = Chain{&stubFinder{typ: TypeHTML}, &stubFinder{typ: TypeICO}}
	if got := f.Type(); got != TypeHTML {
		t.Fatalf("type=%q, want %q", got, TypeHTML)
	}
	if got := (Chain{}).Type(); got != "" {
		t.Fatalf("empty chain type=%q", got)
	}
}
