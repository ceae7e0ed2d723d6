package sandbox

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"

	"prayukti-judge/internal/config"
	"prayukti-judge/internal/guard"
	"prayukti-judge/internal/runtime"
)

// NewEngineFromConfig checks that the toolchain is installed, prepares the
// scratch area, sweeps workspaces left by a previous process and returns a
// ready engine. onCleanupError may be nil.
func NewEngineFromConfig(cfg *config.Config, onCleanupError func(path string, err error)) (*Engine, error) {
	registry := runtime.NewRegistry()
	registry.Register(runtime.NewJavaToolchain(cfg.Judge.JavacPath, cfg.Judge.JavaPath))

	tc, err := registry.Get(cfg.Judge.Toolchain)
	if err != nil {
		return nil, err
	}
	for _, bin := range tc.Binaries() {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("%s not found in PATH: %w", bin, err)
		}
	}

	cleaner := NewCleaner(cfg.Judge.CleanupQueue)
	if onCleanupError != nil {
		cleaner.OnError(onCleanupError)
	}
	scratch, err := NewScratch(cfg.Judge.ScratchDir, cleaner)
	if err != nil {
		return nil, err
	}
	cleaner.Start()

	if _, err := scratch.CleanupOrphaned(cfg.Judge.OrphanMaxAge); err != nil {
		log.Warn().Err(err).Msg("failed to cleanup orphaned workspaces")
	}

	rules := cfg.Guard.Rules
	if len(rules) == 0 {
		rules = guard.DefaultRules()
	}

	g := guard.New(rules)
	engine, err := NewEngine(EngineConfig{
		Toolchain: tc,
		Guard:     g,
		Scratch:   scratch,
		Limits: Limits{
			Timeout:        cfg.Judge.DefaultTimeout,
			MaxTimeout:     cfg.Judge.MaxTimeout,
			CompileTimeout: cfg.Judge.CompileTimeout,
			MemoryMB:       cfg.Judge.MemoryMB,
			StackMB:        cfg.Judge.StackMB,
			MaxCodeBytes:   cfg.Judge.MaxCodeBytes,
			MaxOutputBytes: cfg.Judge.MaxOutputBytes,
		},
		MaxConcurrent: cfg.Judge.MaxConcurrent,
	})
	if err != nil {
		cleaner.Flush(0)
		return nil, err
	}

	log.Info().
		Str("toolchain", tc.Name()).
		Str("scratch", scratch.Root()).
		Int("max_concurrent", cfg.Judge.MaxConcurrent).
		Int("guard_rules", len(g.Rules())).
		Msg("judge engine ready")
	return engine, nil
}
