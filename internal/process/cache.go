package process

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/strata/internal/canonical"
	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/store"
)

// CachingExecutor serves repeated processes from an action cache and runs
// the rest with its inner Executor. Concurrent runs of the same Process are
// collapsed into one.
//
// Persistent entries live in the store backend's action table and survive
// restarts; ScopePerRestart entries live in memory only.
type CachingExecutor struct {
	inner  Executor
	store  *store.Store
	logger *slog.Logger
	flight singleflight.Group

	mu      sync.Mutex
	restart map[[32]byte]Result
}

// NewCachingExecutor wraps inner with an action cache in st.
func NewCachingExecutor(inner Executor, st *store.Store, logger *slog.Logger) *CachingExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingExecutor{
		inner:   inner,
		store:   st,
		logger:  logger,
		restart: make(map[[32]byte]Result),
	}
}

// Run implements Executor.
func (c *CachingExecutor) Run(ctx context.Context, p Process) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	key, err := p.Key()
	if err != nil {
		return Result{}, fmt.Errorf("action key: %w", err)
	}
	scope, _ := ParseCacheScope(string(p.CacheScope))

	if res, ok := c.lookup(ctx, key, scope); ok {
		res.CacheHit = true
		res.Description = p.String()
		c.logger.Debug("action cache hit", "process", p.String())
		return res, nil
	}

	v, err, _ := c.flight.Do(hex.EncodeToString(key[:]), func() (any, error) {
		res, err := c.inner.Run(ctx, p)
		if err != nil {
			return Result{}, err
		}
		if err := c.record(ctx, key, scope, res); err != nil {
			c.logger.Warn("action cache write failed", "process", p.String(), "error", err)
		}
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *CachingExecutor) lookup(ctx context.Context, key [32]byte, scope CacheScope) (Result, bool) {
	if scope == ScopePerRestart {
		c.mu.Lock()
		defer c.mu.Unlock()
		res, ok := c.restart[key]
		return res, ok
	}

	data, err := c.store.Backend().LoadAction(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNoAction) {
			c.logger.Warn("action cache read failed", "error", err)
		}
		return Result{}, false
	}
	res, err := decodeResult(data)
	if err != nil {
		c.logger.Warn("corrupt action cache entry", "error", err)
		return Result{}, false
	}
	if scope == ScopeSuccessful && res.ExitCode != 0 {
		return Result{}, false
	}

	// The entry is only usable if its content is still in the store.
	if res.Stdout, err = c.store.LoadFileBytes(ctx, res.StdoutDigest); err != nil {
		return Result{}, false
	}
	if res.Stderr, err = c.store.LoadFileBytes(ctx, res.StderrDigest); err != nil {
		return Result{}, false
	}
	if ok, err := c.store.Has(ctx, store.BlobDirectory, res.OutputDigest); err != nil || !ok {
		return Result{}, false
	}
	return res, true
}

func (c *CachingExecutor) record(ctx context.Context, key [32]byte, scope CacheScope, res Result) error {
	switch scope {
	case ScopePerRestart:
		c.mu.Lock()
		c.restart[key] = res
		c.mu.Unlock()
		return nil
	case ScopeSuccessful:
		if res.ExitCode != 0 || res.TimedOut {
			return nil
		}
	}
	if res.TimedOut {
		return nil
	}
	data, err := encodeResult(res)
	if err != nil {
		return err
	}
	return c.store.Backend().StoreAction(ctx, key, data)
}

// cachedResult is the persisted form of a Result. Output bytes are stored
// by digest.
type cachedResult struct {
	ExitCode     int64  `json:"exit_code"`
	StdoutDigest string `json:"stdout_digest"`
	StderrDigest string `json:"stderr_digest"`
	OutputDigest string `json:"output_digest"`
	DurationMS   int64  `json:"duration_ms"`
}

func encodeResult(r Result) ([]byte, error) {
	return canonical.Marshal(canonical.Object{
		"exit_code":     canonical.Int(r.ExitCode),
		"stdout_digest": canonical.String(r.StdoutDigest.String()),
		"stderr_digest": canonical.String(r.StderrDigest.String()),
		"output_digest": canonical.String(r.OutputDigest.String()),
		"duration_ms":   canonical.Int(r.Duration.Milliseconds()),
	})
}

func decodeResult(data []byte) (Result, error) {
	var w cachedResult
	if err := json.Unmarshal(data, &w); err != nil {
		return Result{}, err
	}
	var (
		res Result
		err error
	)
	res.ExitCode = int(w.ExitCode)
	res.Duration = time.Duration(w.DurationMS) * time.Millisecond
	for _, f := range []struct {
		dst *fs.Digest
		src string
	}{
		{&res.StdoutDigest, w.StdoutDigest},
		{&res.StderrDigest, w.StderrDigest},
		{&res.OutputDigest, w.OutputDigest},
	} {
		if *f.dst, err = fs.ParseDigest(f.src); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}
