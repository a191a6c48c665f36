// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads Config from PIV_HOME's `.env` file whenever it changes,
// grounded on the teacher's steering.SteeringEngine.StartWatcher (watch the
// containing directory rather than the file itself, since editors often
// replace a file via rename-into-place rather than an in-place write, and
// debounce with a short sleep before reloading).
type Watcher struct {
	home    string
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// WatchReload starts a background fsnotify watcher on home and invokes
// onReload with a freshly Load()-ed Config every time `.env` changes.
// Reload errors are logged, not returned, so a malformed `.env` edit never
// brings down a running supervisor process.
func WatchReload(home string, onReload func(Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(home); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{home: home, watcher: fsw, stop: make(chan struct{})}
	envFile := filepath.Join(home, ".env")

	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Name != envFile {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// Debounce: editors frequently emit a burst of events for one
				// logical save (write-then-rename, or several partial writes).
				time.Sleep(100 * time.Millisecond)
				cfg, err := Load(home)
				if err != nil {
					log.Errorf("config: reload %s: %v", envFile, err)
					continue
				}
				log.Infof("config: reloaded %s", envFile)
				onReload(cfg)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Errorf("config: watcher error: %v", err)
			case <-w.stop:
				return
			}
		}
	}()

	return w, nil
}

// Close stops the watcher goroutine and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	return w.watcher.Close()
}
