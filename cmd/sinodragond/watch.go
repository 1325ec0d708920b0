package main

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/EvanSunde/Sinodragon/internal/profile"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

const debounceWindow = 250 * time.Millisecond

// watchFiles debounces writes to the config file into reload requests and
// writes to profile files into per-app invalidations.
func watchFiles(logger *util.Logger, watcher *fsnotify.Watcher, configPath, profilesDir string, reloadRequests chan<- string, invalidate func(appID string)) {
	profilesDir = filepath.Clean(profilesDir)
	var (
		timer         *time.Timer
		timerCh       <-chan time.Time
		configChanged bool
		pending       = make(map[string]struct{})
	)
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(debounceWindow)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timerCh:
			default:
			}
		}
		timer.Reset(debounceWindow)
	}
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			name := filepath.Clean(event.Name)
			switch {
			case name == configPath:
				if event.Op&fsnotify.Remove != 0 {
					continue
				}
				configChanged = true
			case filepath.Dir(name) == profilesDir:
				appID, ok := profile.AppIDForPath(name)
				if !ok {
					continue
				}
				pending[appID] = struct{}{}
			default:
				continue
			}
			arm()
		case <-timerCh:
			timer = nil
			timerCh = nil
			if configChanged {
				configChanged = false
				select {
				case reloadRequests <- "config file updated":
				default:
				}
			}
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				logger.Debugf("profile %s changed, invalidating", id)
				invalidate(id)
				delete(pending, id)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("file watcher error: %v", err)
		}
	}
}
