package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/favfinder/internal/cache"
	"github.com/hyperifyio/favfinder/internal/fetch"
	"github.com/hyperifyio/favfinder/internal/finder"
	"github.com/hyperifyio/favfinder/internal/imagecheck"
	"github.com/hyperifyio/favfinder/internal/urlutil"
)

// ErrNoFavicons is returned when no site produced a favicon. The CLI maps it
// to a distinct exit code.
var ErrNoFavicons = errors.New("no favicons found")

// ErrNoSites is returned when neither arguments nor the input file name a site.
var ErrNoSites = errors.New("no sites to probe")

type App struct {
	cfg       Config
	fetcher   *fetch.Client
	finder    finder.Finder
	httpCache *cache.HTTPCache
	stdout    io.Writer
}

func New(ctx context.Context, cfg Config) (*App, error) {
	a := &App{cfg: cfg, stdout: os.Stdout}
	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache clear failed")
			}
		}
		if cfg.CacheMaxAge > 0 {
			if n, err := cache.PurgeHTTPCacheByAge(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
				log.Warn().Err(err).Msg("cache purge failed")
			} else if n > 0 {
				log.Debug().Int("removed", n).Msg("purged stale cache entries")
			}
		}
		a.httpCache = &cache.HTTPCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	}

	a.fetcher = &fetch.Client{
		HTTPClient:         newProbeHTTPClient(cfg.Concurrency),
		UserAgent:          cfg.UserAgent,
		MaxAttempts:        cfg.MaxAttempts,
		PerRequestTimeout:  cfg.PerRequestTimeout,
		Cache:              a.httpCache,
		BypassCache:        cfg.CacheBypass,
		RedirectMaxHops:    cfg.RedirectMaxHops,
		MetaRefreshMaxHops: cfg.MetaRefreshMaxHops,
		RatePerHost:        rate.Limit(cfg.RatePerHost),
	}
	a.finder = finder.Chain{finder.NewICOFinder(a.fetcher, imagecheck.Decoder{})}
	return a, nil
}

func (a *App) Close() {
	if a.fetcher != nil && a.fetcher.HTTPClient != nil {
		a.fetcher.HTTPClient.CloseIdleConnections()
	}
}

// Run discovers favicons for every configured site and writes the report.
func (a *App) Run(ctx context.Context) error {
	sites, err := a.collectSites()
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		return ErrNoSites
	}

	results := a.discoverAll(ctx, sites)
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.writeOutput(results); err != nil {
		return err
	}
	found := 0
	for _, r := range results {
		if r.Status == StatusFound {
			found++
		}
	}
	log.Info().Int("sites", len(results)).Int("found", found).Msg("discovery finished")
	if found == 0 {
		return ErrNoFavicons
	}
	return nil
}

// collectSites merges sites from the config and the input file, keeping the
// first occurrence of each.
func (a *App) collectSites() ([]string, error) {
	var raw []string
	raw = append(raw, a.cfg.Sites...)
	if p := strings.TrimSpace(a.cfg.InputPath); p != "" {
		lines, err := readSiteList(p)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		raw = append(raw, lines...)
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// readSiteList reads one site per line. Blank lines and lines starting with
// '#' are skipped.
func readSiteList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

// normalizeSite turns a bare host into https://host/ and rejects anything
// that is not an absolute http(s) URL.
func normalizeSite(s string) (*url.URL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty site")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse site: %w", err)
	}
	if !urlutil.IsHTTP(u) || u.Host == "" {
		return nil, fmt.Errorf("not an http(s) site: %q", s)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

func (a *App) discoverAll(ctx context.Context, sites []string) []Result {
	results := make([]Result, len(sites))
	limit := a.cfg.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	opts := finder.Options{
		PreferredFilename: a.cfg.PreferredFilename,
		FollowMetaRefresh: a.cfg.FollowMetaRefresh,
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, site := range sites {
		i, site := i, site
		g.Go(func() error {
			results[i] = a.discoverOne(ctx, site, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *App) discoverOne(ctx context.Context, site string, opts finder.Options) Result {
	res := Result{Site: site}
	u, err := normalizeSite(site)
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}
	logger := zerolog.Ctx(ctx).With().Str("site", u.String()).Logger()
	ctx = logger.WithContext(ctx)

	fav, err := a.finder.Discover(ctx, u, opts)
	switch {
	case err == nil:
		res.Status = StatusFound
		res.Favicon = fav.String()
		res.Type = string(fav.Type)
		logger.Info().Str("favicon", res.Favicon).Msg("favicon found")
	case errors.Is(err, finder.ErrFaviconNotFound):
		res.Status = StatusNotFound
		res.Error = err.Error()
		logger.Info().Err(err).Msg("no favicon")
	default:
		res.Status = StatusError
		res.Error = err.Error()
		logger.Warn().Err(err).Msg("discovery failed")
	}
	return res
}

func (a *App) writeOutput(results []Result) error {
	path := strings.TrimSpace(a.cfg.OutputPath)
	if path == "" || path == "-" {
		return writeReport(a.stdout, a.cfg.Format, results, a.httpCache != nil)
	}
	var buf bytes.Buffer
	if err := writeReport(&buf, a.cfg.Format, results, a.httpCache != nil); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Info().Str("out", path).Msg("wrote report")
	return nil
}
