package finder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyperifyio/favfinder/internal/fetch"
	"github.com/hyperifyio/favfinder/internal/imagecheck"
	"github.com/hyperifyio/favfinder/internal/urlutil"
)

// ICOFinder probes <site root>/<filename> and, when that fails, the same
// filename on the registrable root domain. At most two fetches are made,
// sequentially; there are no retries.
type ICOFinder struct {
	Fetcher   Fetcher
	Validator imagecheck.Validator
}

// NewICOFinder returns an ICOFinder with the given collaborators. Nil
// arguments fall back to a default fetch.Client and imagecheck.Decoder.
func NewICOFinder(f Fetcher, v imagecheck.Validator) *ICOFinder {
	return &ICOFinder{Fetcher: f, Validator: v}
}

// Type returns TypeICO.
func (f *ICOFinder) Type() Type { return TypeICO }

// Discover implements Finder.
func (f *ICOFinder) Discover(ctx context.Context, site *url.URL, opts Options) (FaviconURL, error) {
	log := zerolog.Ctx(ctx)
	if site == nil {
		return FaviconURL{}, fmt.Errorf("%w: no site URL", ErrFaviconNotFound)
	}
	name := opts.filename()

	direct, err := urlutil.ResolveCandidate(urlutil.SiteRoot(site), name)
	if err != nil {
		log.Debug().Err(err).Str("filename", name).Msg("cannot compose favicon candidate")
		return FaviconURL{}, fmt.Errorf("%w: %v", ErrFaviconNotFound, err)
	}
	err = f.probe(ctx, direct, opts)
	if err == nil {
		return FaviconURL{URL: direct, Type: TypeICO}, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return FaviconURL{}, cerr
	}
	log.Debug().Err(err).Str("stage", "direct").Str("candidate", direct.String()).Msg("favicon probe failed")

	rootBase, ok := urlutil.RootDomainURL(site)
	if !ok {
		log.Debug().Str("site", site.String()).Msg("no registrable root domain")
		return FaviconURL{}, fmt.Errorf("%w: %v", ErrFaviconNotFound, err)
	}
	root, rerr := urlutil.ResolveCandidate(rootBase, name)
	if rerr != nil {
		return FaviconURL{}, fmt.Errorf("%w: %v", ErrFaviconNotFound, rerr)
	}
	if sameResource(root, direct) {
		// already probed
		return FaviconURL{}, fmt.Errorf("%w: %v", ErrFaviconNotFound, err)
	}
	err = f.probe(ctx, root, opts)
	if err == nil {
		return FaviconURL{URL: root, Type: TypeICO}, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return FaviconURL{}, cerr
	}
	log.Debug().Err(err).Str("stage", "root").Str("candidate", root.String()).Msg("favicon probe failed")
	return FaviconURL{}, fmt.Errorf("%w: %v", ErrFaviconNotFound, err)
}

// sameResource reports whether a and b name the same resource. Scheme and
// host compare case-insensitively; the rest of the URL must match exactly.
func sameResource(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(strings.TrimSuffix(a.Host, "."), strings.TrimSuffix(b.Host, ".")) &&
		a.EscapedPath() == b.EscapedPath() &&
		a.RawQuery == b.RawQuery
}

var errNotImage = errors.New("response is not a decodable image")

// probe fetches candidate and checks that the body decodes as an image.
func (f *ICOFinder) probe(ctx context.Context, candidate *url.URL, opts Options) error {
	out, err := f.fetcher().Fetch(ctx, candidate.String(), fetch.Options{FollowMetaRefresh: opts.FollowMetaRefresh})
	if err != nil {
		return err
	}
	if out == nil || len(out.Body) == 0 {
		return errNotImage
	}
	if !f.validator().IsDecodableImage(out.Body) {
		return errNotImage
	}
	return nil
}

func (f *ICOFinder) fetcher() Fetcher {
	if f.Fetcher != nil {
		return f.Fetcher
	}
	return defaultFetcher
}

func (f *ICOFinder) validator() imagecheck.Validator {
	if f.Validator != nil {
		return f.Validator
	}
	return imagecheck.Decoder{}
}

var defaultFetcher = &fetch.Client{PerRequestTimeout: 10 * time.Second}
