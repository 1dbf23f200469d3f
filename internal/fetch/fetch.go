// Package fetch retrieves favicon candidates over HTTP. It follows HTTP
// redirects and, on request, HTML meta-refresh redirects, and returns the
// raw body together with the final URL and response metadata.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/favfinder/internal/cache"
	"github.com/hyperifyio/favfinder/internal/charset"
	"github.com/hyperifyio/favfinder/internal/urlutil"
)

const (
	defaultRedirectMaxHops    = 5
	defaultMetaRefreshMaxHops = 3
	// DefaultMaxBodyBytes bounds a single response body.
	DefaultMaxBodyBytes = 8 << 20
)

var (
	ErrTooManyRefreshes = errors.New("too many meta refresh redirects")
	ErrBodyTooLarge     = errors.New("response body too large")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Options control a single Fetch call.
type Options struct {
	FollowMetaRefresh bool
}

// Metadata describes the response that produced an Outcome.
type Metadata struct {
	StatusCode  int
	ContentType string
	// Charset is the declared charset label from Content-Type, if any.
	Charset   string
	Header    http.Header
	FromCache bool
	// Refreshes counts meta-refresh hops followed to reach FinalURL.
	Refreshes int
}

// Outcome is the result of a successful fetch.
type Outcome struct {
	Body     []byte
	FinalURL *url.URL
	Meta     Metadata
}

// Encoding resolves the declared charset of the response, defaulting to
// UTF-8.
func (o *Outcome) Encoding() charset.Encoding {
	if o == nil {
		return charset.UTF8
	}
	return charset.Resolve(o.Meta.Charset)
}

// Client wraps http.Client and provides timeouts, limited retry on transient
// errors, per-host rate limiting and an optional revalidating disk cache.
// The zero value is usable.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each attempt.
	PerRequestTimeout time.Duration
	// Optional on-disk cache for GET bodies and validators.
	Cache *cache.HTTPCache
	// If true, skip conditional headers and fetch fresh, but still save the
	// response to cache.
	BypassCache bool

	// RedirectMaxHops caps HTTP redirect following. Zero means 5.
	RedirectMaxHops int
	// MetaRefreshMaxHops caps meta-refresh following. Zero means 3.
	MetaRefreshMaxHops int
	// MaxBodyBytes caps a response body. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// MaxConcurrent limits in-flight requests per client. Zero means unlimited.
	MaxConcurrent int
	// RatePerHost limits requests per second to any one host. Zero means
	// unlimited.
	RatePerHost rate.Limit

	limiter     chan struct{}
	limiterOnce sync.Once

	hostMu     sync.Mutex
	hostLimits map[string]*rate.Limiter
}

// Fetch GETs rawURL. With opts.FollowMetaRefresh, HTML responses carrying a
// <meta http-equiv="refresh"> with a target URL are followed.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Outcome, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !urlutil.IsHTTP(u) {
		return nil, fmt.Errorf("unsupported URL scheme: %q", rawURL)
	}
	maxHops := c.MetaRefreshMaxHops
	if maxHops <= 0 {
		maxHops = defaultMetaRefreshMaxHops
	}

	current := u
	for refreshes := 0; ; refreshes++ {
		out, err := c.get(ctx, current)
		if err != nil {
			return nil, err
		}
		out.Meta.Refreshes = refreshes
		if !opts.FollowMetaRefresh || !isHTMLContentType(out.Meta.ContentType) {
			return out, nil
		}
		target, ok := MetaRefreshTarget(out)
		if !ok || !urlutil.IsHTTP(target) || target.String() == out.FinalURL.String() {
			return out, nil
		}
		if refreshes >= maxHops {
			return nil, fmt.Errorf("%w: %s", ErrTooManyRefreshes, rawURL)
		}
		zerolog.Ctx(ctx).Debug().Str("from", out.FinalURL.String()).Str("to", target.String()).Msg("following meta refresh")
		current = target
	}
}

func (c *Client) get(ctx context.Context, u *url.URL) (*Outcome, error) {
	key := u.String()
	var cached *cache.Entry
	if c.Cache != nil && !c.BypassCache {
		if meta, err := c.Cache.LoadMeta(ctx, key); err == nil && meta.Revalidatable() {
			cached = meta
		}
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)

	var out *Outcome
	op := func() error {
		o, err := c.tryOnce(ctx, u, cached)
		if err == nil {
			out = o
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		zerolog.Ctx(ctx).Debug().Err(err).Str("url", key).Dur("wait", wait).Msg("retrying fetch")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) tryOnce(ctx context.Context, u *url.URL, cached *cache.Entry) (*Outcome, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	if err := c.waitHost(ctx, u.Hostname()); err != nil {
		return nil, err
	}

	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PerRequestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if cached != nil {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		body, err := c.Cache.LoadBody(ctx, u.String())
		if err != nil {
			return nil, fmt.Errorf("load cached body: %w", err)
		}
		return &Outcome{
			Body:     body,
			FinalURL: finalURL,
			Meta: Metadata{
				StatusCode:  http.StatusOK,
				ContentType: cached.ContentType,
				Charset:     charset.FromContentType(cached.ContentType),
				Header:      resp.Header,
				FromCache:   true,
			},
		}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: u.String(), Code: resp.StatusCode}
	}

	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}

	contentType := resp.Header.Get("Content-Type")
	if c.Cache != nil && resp.StatusCode == http.StatusOK {
		if err := c.Cache.Save(ctx, u.String(), contentType, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), body); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("url", u.String()).Msg("cache save failed")
		}
	}
	return &Outcome{
		Body:     body,
		FinalURL: finalURL,
		Meta: Metadata{
			StatusCode:  resp.StatusCode,
			ContentType: contentType,
			Charset:     charset.FromContentType(contentType),
			Header:      resp.Header,
		},
	}, nil
}

func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{Timeout: c.PerRequestTimeout, CheckRedirect: c.checkRedirectFunc()}
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = defaultRedirectMaxHops
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		if !urlutil.IsHTTP(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}

func (c *Client) acquire(ctx context.Context) error {
	if c.MaxConcurrent <= 0 {
		return nil
	}
	c.limiterOnce.Do(func() {
		c.limiter = make(chan struct{}, c.MaxConcurrent)
	})
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

func (c *Client) waitHost(ctx context.Context, host string) error {
	if c.RatePerHost <= 0 || host == "" {
		return nil
	}
	host = strings.ToLower(host)
	c.hostMu.Lock()
	if c.hostLimits == nil {
		c.hostLimits = make(map[string]*rate.Limiter)
	}
	l, ok := c.hostLimits[host]
	if !ok {
		l = rate.NewLimiter(c.RatePerHost, 1)
		c.hostLimits[host] = l
	}
	c.hostMu.Unlock()
	return l.Wait(ctx)
}
