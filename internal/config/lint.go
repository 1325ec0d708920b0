package config

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/EvanSunde/Sinodragon/internal/util"
)

// LintError describes one configuration issue.
type LintError struct {
	Path    string
	Message string
}

func (e LintError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// LintFile parses the file at path and returns every issue found. The error
// is non-nil only when the file cannot be read or decoded.
func LintFile(path string) ([]LintError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg.Lint(), nil
}

// Lint checks the configuration and returns every issue, in document order.
func (c *Config) Lint() []LintError {
	var errs []LintError
	add := func(path, format string, args ...any) {
		errs = append(errs, LintError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if _, ok := util.LookupLogLevel(c.LogLevel); !ok {
		add("logLevel", "unknown level %q", c.LogLevel)
	}
	for _, key := range c.Baseline.Keys() {
		if strings.TrimSpace(key) == "" {
			add("baseline", "key id cannot be empty")
		}
	}

	ids := make([]string, 0, len(c.Aliases))
	for id := range c.Aliases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	owners := map[string]string{}
	for _, id := range ids {
		path := "aliases." + id
		if strings.ContainsAny(id, `/\`) || id == "" {
			add(path, "profile id must be a plain name")
		}
		if len(c.Aliases[id]) == 0 {
			add(path, "must list at least one window class")
		}
		for _, class := range c.Aliases[id] {
			key := strings.ToLower(strings.TrimSpace(class))
			if key == "" {
				add(path, "window class cannot be empty")
				continue
			}
			if owner, exists := owners[key]; exists {
				add(path, "class %q already mapped to %q", class, owner)
				continue
			}
			owners[key] = id
		}
	}

	switch c.Compositor.Query {
	case "socket", "hyprctl":
	default:
		add("compositor.query", "must be socket or hyprctl, got %q", c.Compositor.Query)
	}

	if c.Backoff.Initial < 0 {
		add("backoff.initial", "cannot be negative")
	}
	if c.Backoff.Max < 0 {
		add("backoff.max", "cannot be negative")
	}
	if c.Backoff.Initial > c.Backoff.Max && c.Backoff.Max > 0 {
		add("backoff.initial", "cannot exceed backoff.max")
	}
	if c.Backoff.Factor < 1 {
		add("backoff.factor", "must be >= 1")
	}

	if c.Engine.QueueSize < 1 {
		add("engine.queueSize", "must be positive")
	}
	if c.Engine.HistoryLimit < 1 {
		add("engine.historyLimit", "must be positive")
	}
	if c.Sink.Timeout <= 0 {
		add("sink.timeout", "must be positive")
	}
	if c.Sink.QueueSize < 1 {
		add("sink.queueSize", "must be positive")
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			add("metrics.listen", "invalid address: %v", err)
		}
	}
	return errs
}
