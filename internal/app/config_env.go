package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ApplyEnvOverrides.
const (
	EnvSites       = "FAVFINDER_SITES"
	EnvInput       = "FAVFINDER_INPUT"
	EnvOutput      = "FAVFINDER_OUTPUT"
	EnvFormat      = "FAVFINDER_FORMAT"
	EnvFilename    = "FAVFINDER_FILENAME"
	EnvMetaRefresh = "FAVFINDER_META_REFRESH"
	EnvUserAgent   = "FAVFINDER_USER_AGENT"
	EnvTimeout     = "FAVFINDER_TIMEOUT"
	EnvAttempts    = "FAVFINDER_ATTEMPTS"
	EnvConcurrency = "FAVFINDER_CONCURRENCY"
	EnvRate        = "FAVFINDER_RATE"
	EnvCacheDir    = "CACHE_DIR"
	EnvCacheMaxAge = "CACHE_MAX_AGE"
	EnvCacheClear  = "CACHE_CLEAR"
	EnvCacheStrict = "CACHE_STRICT_PERMS"
	EnvCacheBypass = "CACHE_BYPASS"
	EnvVerbose     = "VERBOSE"
)

// ApplyEnvOverrides forcefully overrides cfg fields with environment
// variables that are set. Env thereby wins over a config file, while flags
// applied afterwards stay highest.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if sites := splitList(os.Getenv(EnvSites)); len(sites) > 0 {
		cfg.Sites = sites
	}
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.InputPath, EnvInput)
	setString(&cfg.OutputPath, EnvOutput)
	setString(&cfg.Format, EnvFormat)
	setString(&cfg.PreferredFilename, EnvFilename)
	setString(&cfg.UserAgent, EnvUserAgent)
	setString(&cfg.CacheDir, EnvCacheDir)

	if d, ok := envDuration(EnvTimeout); ok {
		cfg.PerRequestTimeout = d
	}
	if d, ok := envDuration(EnvCacheMaxAge); ok {
		cfg.CacheMaxAge = d
	}
	if n, ok := envInt(EnvAttempts); ok {
		cfg.MaxAttempts = n
	}
	if n, ok := envInt(EnvConcurrency); ok {
		cfg.Concurrency = n
	}
	if f, ok := envFloat(EnvRate); ok {
		cfg.RatePerHost = f
	}

	setBool := func(dst *bool, key string) {
		if v, ok := envBool(key); ok {
			*dst = v
		}
	}
	setBool(&cfg.FollowMetaRefresh, EnvMetaRefresh)
	setBool(&cfg.CacheClear, EnvCacheClear)
	setBool(&cfg.CacheStrictPerms, EnvCacheStrict)
	setBool(&cfg.CacheBypass, EnvCacheBypass)
	setBool(&cfg.Verbose, EnvVerbose)
}

func envDuration(key string) (time.Duration, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	return d, err == nil && d > 0
}

func envInt(key string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	return n, err == nil && n > 0
}

func envFloat(key string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	return f, err == nil && f > 0
}

// envBool reports the parsed value and whether the variable held a
// recognised truthy/falsey word.
func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// splitList splits a comma or whitespace separated list, dropping blanks.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
