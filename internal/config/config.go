package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/process"
)

//go:embed schema.cue
var schemaSource string

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config is the decoded engine configuration.
type Config struct {
	BuildRoot   string
	Parallelism int
	Store       StoreConfig
	Remote      RemoteConfig
	Watch       WatchConfig
	Globs       GlobsConfig
	Process     ProcessConfig
	Log         LogConfig
}

// StoreConfig selects the local store backend.
type StoreConfig struct {
	Backend string
	Path    string
}

// RemoteConfig configures the optional GCS byte store.
type RemoteConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// Enabled reports whether a remote is configured.
func (r RemoteConfig) Enabled() bool {
	return r.Bucket != ""
}

// WatchConfig configures the filesystem watcher.
type WatchConfig struct {
	Enabled  bool
	Debounce time.Duration
	Ignore   []string
}

// GlobsConfig holds capture defaults.
type GlobsConfig struct {
	MatchPolicy fs.GlobMatchPolicy
}

// ProcessConfig holds process execution defaults.
type ProcessConfig struct {
	Timeout    time.Duration
	CacheScope process.CacheScope
}

// LogConfig configures logging.
type LogConfig struct {
	Level slog.Level
}

// document mirrors the schema field names for decoding.
type document struct {
	BuildRoot   string `json:"build_root"`
	Parallelism int    `json:"parallelism"`
	Store       struct {
		Backend string `json:"backend"`
		Path    string `json:"path"`
	} `json:"store"`
	Remote struct {
		Bucket          string `json:"bucket"`
		Prefix          string `json:"prefix"`
		CredentialsFile string `json:"credentials_file"`
	} `json:"remote"`
	Watch struct {
		Enabled  bool     `json:"enabled"`
		Debounce string   `json:"debounce"`
		Ignore   []string `json:"ignore"`
	} `json:"watch"`
	Globs struct {
		MatchPolicy string `json:"match_policy"`
	} `json:"globs"`
	Process struct {
		Timeout    string `json:"timeout"`
		CacheScope string `json:"cache_scope"`
	} `json:"process"`
	Log struct {
		Level string `json:"level"`
	} `json:"log"`
}

// Error reports an invalid configuration file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := decode(cuecontext.New(), "", nil)
	if err != nil {
		// the embedded schema is known-good
		panic(err)
	}
	return cfg
}

// Load reads path as YAML (.yaml, .yml) or CUE (.cue).
// A relative build_root is resolved against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Path: path, Err: err}
	}
	cfg, err := Parse(path, data)
	if err != nil {
		return Config{}, err
	}
	if !filepath.IsAbs(cfg.BuildRoot) {
		cfg.BuildRoot = filepath.Join(filepath.Dir(path), cfg.BuildRoot)
	}
	return cfg, nil
}

// Parse decodes data. The format is chosen by name's extension.
func Parse(name string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	var v cue.Value
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Config{}, &Error{Path: name, Err: err}
		}
		if m == nil {
			m = map[string]any{}
		}
		v = ctx.Encode(m)
	case ".cue":
		v = ctx.CompileBytes(data, cue.Filename(name))
	default:
		return Config{}, &Error{Path: name, Err: fmt.Errorf("unsupported config format %q", filepath.Ext(name))}
	}
	if err := v.Err(); err != nil {
		return Config{}, &Error{Path: name, Err: err}
	}

	cfg, err := decode(ctx, name, &v)
	if err != nil {
		return Config{}, &Error{Path: name, Err: err}
	}
	return cfg, nil
}

// decode unifies data (nil for none) with the schema and converts the
// result.
func decode(ctx *cue.Context, name string, data *cue.Value) (Config, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))
	if data != nil {
		v = v.Unify(*data)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, err
	}

	var doc document
	if err := v.Decode(&doc); err != nil {
		return Config{}, err
	}
	return doc.convert()
}

func (d document) convert() (Config, error) {
	debounce, err := time.ParseDuration(d.Watch.Debounce)
	if err != nil {
		return Config{}, fmt.Errorf("watch.debounce: %w", err)
	}
	timeout, err := time.ParseDuration(d.Process.Timeout)
	if err != nil {
		return Config{}, fmt.Errorf("process.timeout: %w", err)
	}
	policy, err := fs.ParseGlobMatchPolicy(d.Globs.MatchPolicy)
	if err != nil {
		return Config{}, err
	}
	scope, err := process.ParseCacheScope(d.Process.CacheScope)
	if err != nil {
		return Config{}, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(d.Log.Level)); err != nil {
		return Config{}, fmt.Errorf("log.level: %w", err)
	}

	return Config{
		BuildRoot:   d.BuildRoot,
		Parallelism: d.Parallelism,
		Store:       StoreConfig{Backend: d.Store.Backend, Path: d.Store.Path},
		Remote: RemoteConfig{
			Bucket:          d.Remote.Bucket,
			Prefix:          d.Remote.Prefix,
			CredentialsFile: d.Remote.CredentialsFile,
		},
		Watch: WatchConfig{
			Enabled:  d.Watch.Enabled,
			Debounce: debounce,
			Ignore:   d.Watch.Ignore,
		},
		Globs:   GlobsConfig{MatchPolicy: policy},
		Process: ProcessConfig{Timeout: timeout, CacheScope: scope},
		Log:     LogConfig{Level: level},
	}, nil
}

// StorePath returns the backend location, resolved against the build root.
// It is empty for the memory backend.
func (c Config) StorePath() string {
	p := c.Store.Path
	if p == "" {
		switch c.Store.Backend {
		case BackendSQLite:
			p = filepath.Join(".strata", "store.db")
		case BackendBadger:
			p = filepath.Join(".strata", "badger")
		default:
			return ""
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BuildRoot, p)
}

// Validate checks invariants the schema cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.Remote.CredentialsFile != "" && !c.Remote.Enabled() {
		errs = append(errs, errors.New("remote.credentials_file set without remote.bucket"))
	}
	for _, p := range c.Watch.Ignore {
		if p == "" {
			errs = append(errs, errors.New("watch.ignore contains an empty pattern"))
		}
	}
	return errors.Join(errs...)
}
