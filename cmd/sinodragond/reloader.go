package main

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/EvanSunde/Sinodragon/internal/config"
	"github.com/EvanSunde/Sinodragon/internal/engine"
	"github.com/EvanSunde/Sinodragon/internal/profile"
	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

type submitter interface {
	Submit(ev engine.Event) error
}

type configReloader struct {
	mu             sync.Mutex
	path           string
	logger         *util.Logger
	engine         submitter
	pinnedLevel    bool
	lastConfig     *config.Config
	lastSerialized []byte
}

func newConfigReloader(path string, logger *util.Logger, eng submitter, pinnedLevel bool, cfg *config.Config, serialized []byte) *configReloader {
	return &configReloader{
		path:           path,
		logger:         logger,
		engine:         eng,
		pinnedLevel:    pinnedLevel,
		lastConfig:     cfg,
		lastSerialized: append([]byte(nil), serialized...),
	}
}

// Reload re-reads the config file. Baseline, aliases and log level apply
// live; every cached profile is dropped. Other sections need a restart.
func (r *configReloader) Reload(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Infof("%s, reloading config", reason)
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		r.logDiff(raw)
		return err
	}
	if lintErrs := cfg.Lint(); len(lintErrs) > 0 {
		r.logLintErrors(lintErrs)
		r.logDiff(raw)
		return errors.New(lintErrs[0].Error())
	}

	baseline := cfg.Baseline
	if baseline == nil {
		baseline = state.Mapping{}
	}
	apply := engine.ApplyEvent(baseline)
	apply.Resolver = profile.NewResolver(cfg.Aliases)
	apply.Source = "reload"
	if err := r.engine.Submit(apply); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	invalidate := engine.InvalidateEvent("")
	invalidate.Source = "reload"
	if err := r.engine.Submit(invalidate); err != nil {
		return fmt.Errorf("invalidate profiles: %w", err)
	}
	if !r.pinnedLevel {
		r.logger.SetLevel(util.ParseLogLevel(cfg.LogLevel))
	}
	r.warnRestartOnly(cfg)

	r.lastConfig = cfg
	r.lastSerialized = append([]byte(nil), raw...)
	r.logger.Infof("config reloaded")
	return nil
}

func (r *configReloader) warnRestartOnly(cfg *config.Config) {
	for _, section := range config.RestartSections(r.lastConfig, cfg) {
		r.logger.Warnf("config section %s changed; restart sinodragond to apply it", section)
	}
}

func (r *configReloader) logDiff(current []byte) {
	diff := config.DiffSerialized(r.lastSerialized, current)
	if diff == "" {
		r.logger.Warnf("config change rejected; unable to compute diff vs last valid config")
		return
	}
	r.logger.Warnf("config change rejected; diff vs last valid config:\n%s", diff)
}

func (r *configReloader) logLintErrors(errs []config.LintError) {
	r.logger.Warnf("config validation failed with %d issue(s):", len(errs))
	for _, lintErr := range errs {
		if lintErr.Path != "" {
			r.logger.Warnf(" - %s: %s", lintErr.Path, lintErr.Message)
			continue
		}
		r.logger.Warnf(" - %s", lintErr.Message)
	}
}
