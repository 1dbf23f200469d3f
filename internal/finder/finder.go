// Package finder discovers a site's favicon. Each discovery technique is a
// Finder; callers pick one or run several in order with a Chain.
package finder

import (
	"context"
	"errors"
	"net/url"

	"github.com/hyperifyio/favfinder/internal/fetch"
)

// DefaultFilename is probed when the caller names no preferred file.
const DefaultFilename = "favicon.ico"

// ErrFaviconNotFound is the single terminal failure of a discovery call.
// Returned errors may wrap it with the cause of the last attempt; test with
// errors.Is.
var ErrFaviconNotFound = errors.New("favicon not found")

// Type tags how a favicon was found.
type Type string

const (
	TypeICO                    Type = "ico"
	TypeHTML                   Type = "html"
	TypeWebApplicationManifest Type = "webApplicationManifestFile"
)

// FaviconURL is a favicon location whose content has been confirmed to
// decode as an image.
type FaviconURL struct {
	URL  *url.URL
	Type Type
}

func (f FaviconURL) String() string {
	if f.URL == nil {
		return ""
	}
	return f.URL.String()
}

// Options configure one discovery call.
type Options struct {
	// PreferredFilename is resolved against the site root. Empty means
	// DefaultFilename.
	PreferredFilename string
	FollowMetaRefresh bool
}

func (o Options) filename() string {
	if o.PreferredFilename == "" {
		return DefaultFilename
	}
	return o.PreferredFilename
}

// Fetcher retrieves a candidate URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Outcome, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Outcome, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Outcome, error) {
	return f(ctx, rawURL, opts)
}

// Finder is one favicon discovery technique.
type Finder interface {
	Type() Type
	Discover(ctx context.Context, site *url.URL, opts Options) (FaviconURL, error)
}

// Chain runs finders in order and returns the first success. A Chain is
// itself a Finder.
type Chain []Finder

// Type returns the type of the first finder, or "" for an empty chain.
func (c Chain) Type() Type {
	if len(c) == 0 {
		return ""
	}
	return c[0].Type()
}

// Discover returns the first finder's success. A cancelled context or any
// error other than ErrFaviconNotFound stops the chain. When every finder
// misses, the last finder's error is returned.
func (c Chain) Discover(ctx context.Context, site *url.URL, opts Options) (FaviconURL, error) {
	last := ErrFaviconNotFound
	for _, f := range c {
		if err := ctx.Err(); err != nil {
			return FaviconURL{}, err
		}
		fav, err := f.Discover(ctx, site, opts)
		if err == nil {
			return fav, nil
		}
		if !errors.Is(err, ErrFaviconNotFound) {
			return FaviconURL{}, err
		}
		last = err
	}
	return FaviconURL{}, last
}
