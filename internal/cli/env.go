package cli

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/config"
	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/rules"
	"github.com/roach88/strata/internal/store"
)

// env is the store and scheduler a command works against.
type env struct {
	cfg   config.Config
	store *store.Store
	sched *engine.Scheduler
	out   *OutputFormatter
}

// openEnv loads the config, opens the store and builds a scheduler over the
// intrinsic rules. A non-empty root overrides the configured build root;
// the store location is always taken from the config.
func (o *RootOptions) openEnv(cmd *cobra.Command, root string) (*env, error) {
	out := o.formatter(cmd)
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, out.Fail(ExitCommandError, "failed to load config", err)
	}

	ctx := commandContext(cmd)
	st, err := config.OpenStore(ctx, cfg, o.logger())
	if err != nil {
		return nil, out.Fail(ExitCommandError, "failed to open store", err)
	}
	out.VerboseLog("store: %s %s", cfg.Store.Backend, cfg.StorePath())

	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			st.Close()
			return nil, out.Fail(ExitCommandError, "invalid build root", err)
		}
		cfg.BuildRoot = abs
	}

	rg, err := engine.RegisterIntrinsics(rules.NewBuilder()).Build()
	if err != nil {
		st.Close()
		return nil, out.Fail(ExitFailure, "invalid rule graph", err)
	}

	opts := []engine.Option{
		engine.WithBuildRoot(cfg.BuildRoot),
		engine.WithIgnore(cfg.Watch.Ignore...),
		engine.WithLogger(o.logger()),
	}
	if cfg.Parallelism > 0 {
		opts = append(opts, engine.WithParallelism(cfg.Parallelism))
	}
	sched, err := engine.New(rg, st, opts...)
	if err != nil {
		st.Close()
		return nil, out.Fail(ExitCommandError, "failed to start scheduler", err)
	}
	return &env{cfg: cfg, store: st, sched: sched, out: out}, nil
}

func (e *env) close(o *RootOptions) {
	if err := e.store.Close(); err != nil {
		o.logger().Error("error closing store", "error", err)
	}
}

// commandContext returns cmd's context, or Background when it has none.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
