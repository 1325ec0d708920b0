package ipc

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
)

const (
	eventSocketName   = ".socket2.sock"
	commandSocketName = ".socket.sock"
)

// ErrNoSocketFound reports that no compositor event socket exists.
var ErrNoSocketFound = errors.New("no hyprland event socket found")

// DefaultSearchRoots returns the directories scanned for instance sockets,
// in priority order.
func DefaultSearchRoots() []string {
	var roots []string
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		roots = append(roots, filepath.Join(runtimeDir, "hypr"))
	}
	return append(roots, "/tmp/hypr")
}

// Discover locates the event socket of the running compositor instance.
// The instance named by HYPRLAND_INSTANCE_SIGNATURE wins; otherwise the
// first socket found under the search roots is used.
func Discover(roots []string) (string, error) {
	if len(roots) == 0 {
		roots = DefaultSearchRoots()
	}
	if sig := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE"); sig != "" {
		for _, root := range roots {
			path := filepath.Join(root, sig, eventSocketName)
			if isSocket(path) {
				return path, nil
			}
		}
	}
	for _, root := range roots {
		matches, err := filepath.Glob(filepath.Join(root, "*", eventSocketName))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, path := range matches {
			if isSocket(path) {
				return path, nil
			}
		}
	}
	return "", ErrNoSocketFound
}

// CommandSocketFor returns the request socket that sits next to an event socket.
func CommandSocketFor(eventSocket string) string {
	return filepath.Join(filepath.Dir(eventSocket), commandSocketName)
}

func isSocket(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSocket != 0
}
