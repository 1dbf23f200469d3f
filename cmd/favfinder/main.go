package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/favfinder/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.DefaultContextLogger = &log.Logger

	cfg, showVersion, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	if showVersion {
		fmt.Println(app.VersionString())
		return
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("run failed")
	}
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps run errors: 2 when no site yielded a favicon, 1 for any other
// failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, app.ErrNoFavicons):
		return 2
	default:
		return 1
	}
}

func run(ctx context.Context, cfg app.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	return a.Run(ctx)
}

// loadConfig resolves configuration with precedence flags > env > config
// file > defaults. Positional arguments are sites.
func loadConfig(args []string, stderr io.Writer) (app.Config, bool, error) {
	fs := flag.NewFlagSet("favfinder", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: favfinder [flags] [site ...]\n\n")
		fs.PrintDefaults()
	}

	flags := app.DefaultConfig()
	var (
		configPath  string
		envFiles    string
		showVersion bool
	)
	fs.StringVar(&configPath, "config", "", "Path to YAML or JSON config file")
	fs.StringVar(&envFiles, "env", ".env", "Comma-separated dotenv files to load; missing files are skipped")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.StringVar(&flags.InputPath, "input", "", "File with one site per line ('#' starts a comment)")
	fs.StringVar(&flags.OutputPath, "output", flags.OutputPath, "Report path, '-' for stdout")
	fs.StringVar(&flags.Format, "format", flags.Format, "Report format: markdown or json")
	fs.StringVar(&flags.PreferredFilename, "filename", flags.PreferredFilename, "Favicon file name probed at the site root")
	fs.BoolVar(&flags.FollowMetaRefresh, "meta-refresh", false, "Follow HTML meta refresh redirects")
	fs.StringVar(&flags.UserAgent, "ua", flags.UserAgent, "User-Agent for probe requests")
	fs.DurationVar(&flags.PerRequestTimeout, "timeout", flags.PerRequestTimeout, "Per-request timeout")
	fs.IntVar(&flags.MaxAttempts, "attempts", flags.MaxAttempts, "Attempts per request for transient failures")
	fs.IntVar(&flags.RedirectMaxHops, "redirects", flags.RedirectMaxHops, "Maximum HTTP redirects per request")
	fs.IntVar(&flags.MetaRefreshMaxHops, "refreshes", flags.MetaRefreshMaxHops, "Maximum meta refresh hops per request")
	fs.IntVar(&flags.Concurrency, "concurrency", flags.Concurrency, "Sites probed in parallel")
	fs.Float64Var(&flags.RatePerHost, "rate", 0, "Requests per second per host; 0 disables")
	fs.StringVar(&flags.CacheDir, "cache.dir", "", "HTTP cache directory; empty disables caching")
	fs.DurationVar(&flags.CacheMaxAge, "cache.maxAge", 0, "Purge cache entries older than this; 0 disables")
	fs.BoolVar(&flags.CacheClear, "cache.clear", false, "Clear cache directory before run")
	fs.BoolVar(&flags.CacheStrictPerms, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
	fs.BoolVar(&flags.CacheBypass, "cache.bypass", false, "Skip conditional requests but still refresh the cache")
	fs.BoolVar(&flags.Verbose, "v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return app.Config{}, false, err
	}
	if showVersion {
		return app.Config{}, true, nil
	}

	if err := app.LoadEnvFiles(strings.Split(envFiles, ",")...); err != nil {
		return app.Config{}, false, fmt.Errorf("load env files: %w", err)
	}

	cfg := app.DefaultConfig()
	if strings.TrimSpace(configPath) != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return app.Config{}, false, fmt.Errorf("load config file: %w", err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyEnvOverrides(&cfg)

	fs.Visit(func(f *flag.Flag) {
		if apply, ok := flagSetters[f.Name]; ok {
			apply(&cfg, &flags)
		}
	})
	if sites := fs.Args(); len(sites) > 0 {
		cfg.Sites = append([]string{}, sites...)
	}

	if err := app.ValidateConfig(cfg); err != nil {
		return app.Config{}, false, err
	}
	return cfg, false, nil
}

// flagSetters copy an explicitly set flag from src onto dst.
var flagSetters = map[string]func(dst, src *app.Config){
	"input":             func(d, s *app.Config) { d.InputPath = s.InputPath },
	"output":            func(d, s *app.Config) { d.OutputPath = s.OutputPath },
	"format":            func(d, s *app.Config) { d.Format = s.Format },
	"filename":          func(d, s *app.Config) { d.PreferredFilename = s.PreferredFilename },
	"meta-refresh":      func(d, s *app.Config) { d.FollowMetaRefresh = s.FollowMetaRefresh },
	"ua":                func(d, s *app.Config) { d.UserAgent = s.UserAgent },
	"timeout":           func(d, s *app.Config) { d.PerRequestTimeout = s.PerRequestTimeout },
	"attempts":          func(d, s *app.Config) { d.MaxAttempts = s.MaxAttempts },
	"redirects":         func(d, s *app.Config) { d.RedirectMaxHops = s.RedirectMaxHops },
	"refreshes":         func(d, s *app.Config) { d.MetaRefreshMaxHops = s.MetaRefreshMaxHops },
	"concurrency":       func(d, s *app.Config) { d.Concurrency = s.Concurrency },
	"rate":              func(d, s *app.Config) { d.RatePerHost = s.RatePerHost },
	"cache.dir":         func(d, s *app.Config) { d.CacheDir = s.CacheDir },
	"cache.maxAge":      func(d, s *app.Config) { d.CacheMaxAge = s.CacheMaxAge },
	"cache.clear":       func(d, s *app.Config) { d.CacheClear = s.CacheClear },
	"cache.strictPerms": func(d, s *app.Config) { d.CacheStrictPerms = s.CacheStrictPerms },
	"cache.bypass":      func(d, s *app.Config) { d.CacheBypass = s.CacheBypass },
	"v":                 func(d, s *app.Config) { d.Verbose = s.Verbose },
}
