package app

import "time"

// Defaults shared by the CLI flags and the file/env overlays.
const (
	DefaultOutputPath   = "-"
	DefaultFormat       = FormatMarkdown
	DefaultFilename     = "favicon.ico"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxAttempts  = 1
	DefaultConcurrency  = 8
	DefaultRedirectHops = 5
	DefaultRefreshHops  = 3
)

// Config holds runtime configuration for the application.
type Config struct {
	// Input
	Sites     []string
	InputPath string

	// Output
	OutputPath string
	Format     string

	// Discovery
	PreferredFilename string
	FollowMetaRefresh bool

	// HTTP
	UserAgent          string
	PerRequestTimeout  time.Duration
	MaxAttempts        int
	RedirectMaxHops    int
	MetaRefreshMaxHops int
	Concurrency        int
	RatePerHost        float64

	// Cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool
	CacheBypass      bool

	Verbose bool
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		OutputPath:         DefaultOutputPath,
		Format:             DefaultFormat,
		PreferredFilename:  DefaultFilename,
		UserAgent:          DefaultUserAgent(),
		PerRequestTimeout:  DefaultTimeout,
		MaxAttempts:        DefaultMaxAttempts,
		RedirectMaxHops:    DefaultRedirectHops,
		MetaRefreshMaxHops: DefaultRefreshHops,
		Concurrency:        DefaultConcurrency,
	}
}

// DefaultUserAgent identifies the tool and build to probed servers.
func DefaultUserAgent() string {
	return "favfinder/" + BuildVersion + " (+https://github.com/hyperifyio/favfinder)"
}
