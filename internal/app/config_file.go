package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the single-file configuration schema. Nested sections map
// naturally onto flags and env.
type FileConfig struct {
	Sites  []string `yaml:"sites" json:"sites"`
	Input  string   `yaml:"input" json:"input"`
	Output string   `yaml:"output" json:"output"`
	Format string   `yaml:"format" json:"format"`

	Discovery struct {
		Filename    string `yaml:"filename" json:"filename"`
		MetaRefresh bool   `yaml:"metaRefresh" json:"metaRefresh"`
	} `yaml:"discovery" json:"discovery"`

	HTTP struct {
		UserAgent    string   `yaml:"userAgent" json:"userAgent"`
		Timeout      Duration `yaml:"timeout" json:"timeout"`
		Attempts     int      `yaml:"attempts" json:"attempts"`
		RedirectHops int      `yaml:"redirectHops" json:"redirectHops"`
		RefreshHops  int      `yaml:"refreshHops" json:"refreshHops"`
		Concurrency  int      `yaml:"concurrency" json:"concurrency"`
		RatePerHost  float64  `yaml:"ratePerHost" json:"ratePerHost"`
	} `yaml:"http" json:"http"`

	Cache struct {
		Dir         string   `yaml:"dir" json:"dir"`
		MaxAge      Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool     `yaml:"clear" json:"clear"`
		StrictPerms bool     `yaml:"strictPerms" json:"strictPerms"`
		Bypass      bool     `yaml:"bypass" json:"bypass"`
	} `yaml:"cache" json:"cache"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// Duration reads "5s"-style strings from both YAML and JSON. A bare integer
// is taken as nanoseconds.
type Duration time.Duration

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(n)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	return d.parse(string(b))
}

// LoadConfigFile reads YAML or JSON into FileConfig, picking the decoder by
// extension and trying both for anything else.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from fc onto fields of cfg that are unset
// or still at their defaults.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if len(cfg.Sites) == 0 && len(fc.Sites) > 0 {
		cfg.Sites = append([]string{}, fc.Sites...)
	}
	if cfg.InputPath == "" && fc.Input != "" {
		cfg.InputPath = fc.Input
	}
	if (cfg.OutputPath == "" || cfg.OutputPath == DefaultOutputPath) && fc.Output != "" {
		cfg.OutputPath = fc.Output
	}
	if (cfg.Format == "" || cfg.Format == DefaultFormat) && fc.Format != "" {
		cfg.Format = fc.Format
	}

	if (cfg.PreferredFilename == "" || cfg.PreferredFilename == DefaultFilename) && fc.Discovery.Filename != "" {
		cfg.PreferredFilename = fc.Discovery.Filename
	}
	if !cfg.FollowMetaRefresh && fc.Discovery.MetaRefresh {
		cfg.FollowMetaRefresh = true
	}

	if (cfg.UserAgent == "" || cfg.UserAgent == DefaultUserAgent()) && fc.HTTP.UserAgent != "" {
		cfg.UserAgent = fc.HTTP.UserAgent
	}
	if (cfg.PerRequestTimeout == 0 || cfg.PerRequestTimeout == DefaultTimeout) && fc.HTTP.Timeout > 0 {
		cfg.PerRequestTimeout = time.Duration(fc.HTTP.Timeout)
	}
	if (cfg.MaxAttempts == 0 || cfg.MaxAttempts == DefaultMaxAttempts) && fc.HTTP.Attempts > 0 {
		cfg.MaxAttempts = fc.HTTP.Attempts
	}
	if (cfg.RedirectMaxHops == 0 || cfg.RedirectMaxHops == DefaultRedirectHops) && fc.HTTP.RedirectHops > 0 {
		cfg.RedirectMaxHops = fc.HTTP.RedirectHops
	}
	if (cfg.MetaRefreshMaxHops == 0 || cfg.MetaRefreshMaxHops == DefaultRefreshHops) && fc.HTTP.RefreshHops > 0 {
		cfg.MetaRefreshMaxHops = fc.HTTP.RefreshHops
	}
	if (cfg.Concurrency == 0 || cfg.Concurrency == DefaultConcurrency) && fc.HTTP.Concurrency > 0 {
		cfg.Concurrency = fc.HTTP.Concurrency
	}
	if cfg.RatePerHost == 0 && fc.HTTP.RatePerHost > 0 {
		cfg.RatePerHost = fc.HTTP.RatePerHost
	}

	if cfg.CacheDir == "" && fc.Cache.Dir != "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	if cfg.CacheMaxAge == 0 && fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = time.Duration(fc.Cache.MaxAge)
	}
	if !cfg.CacheClear && fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if !cfg.CacheStrictPerms && fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}
	if !cfg.CacheBypass && fc.Cache.Bypass {
		cfg.CacheBypass = true
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}
}

// ValidateConfig performs minimal validation of required settings.
func ValidateConfig(cfg Config) error {
	if len(cfg.Sites) == 0 && strings.TrimSpace(cfg.InputPath) == "" {
		return errors.New("config: at least one site or an input file is required")
	}
	switch cfg.Format {
	case "", FormatMarkdown, FormatJSON:
	default:
		return fmt.Errorf("config: unknown format %q (want %s or %s)", cfg.Format, FormatMarkdown, FormatJSON)
	}
	if cfg.MaxAttempts < 0 || cfg.Concurrency < 0 || cfg.RedirectMaxHops < 0 || cfg.MetaRefreshMaxHops < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	if cfg.PerRequestTimeout < 0 || cfg.RatePerHost < 0 || cfg.CacheMaxAge < 0 {
		return errors.New("config: negative durations or rates are not allowed")
	}
	return nil
}
