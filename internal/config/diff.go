package config

import (
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// DiffSerialized returns a line diff between two serialized configs, empty when they match.
func DiffSerialized(previous, current []byte) string {
	return cmp.Diff(configLines(previous), configLines(current))
}

// configLines splits a payload into lines, ignoring CRLF endings and trailing blanks.
func configLines(data []byte) []string {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return lines
}

// RestartSections lists the top-level sections that differ between prev and
// next but are only read at startup. Baseline, aliases and log level apply live.
func RestartSections(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	opts := cmpopts.EquateEmpty()
	sections := []struct {
		name       string
		prev, next any
	}{
		{"profilesDir", prev.ProfilesDir, next.ProfilesDir},
		{"dryRun", prev.DryRun, next.DryRun},
		{"compositor", prev.Compositor, next.Compositor},
		{"bridge", prev.Bridge, next.Bridge},
		{"backoff", prev.Backoff, next.Backoff},
		{"engine", prev.Engine, next.Engine},
		{"sink", prev.Sink, next.Sink},
		{"metrics", prev.Metrics, next.Metrics},
		{"control", prev.Control, next.Control},
	}
	var changed []string
	for _, s := range sections {
		if !cmp.Equal(s.prev, s.next, opts) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
