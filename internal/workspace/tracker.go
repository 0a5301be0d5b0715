package workspace

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/coderelay/coderelay/internal/logging"
)

// trackerMaxDirs bounds how many directories a tracker watches. Deeply
// nested repositories are tracked partially rather than exhausting inotify
// watches.
const trackerMaxDirs = 256

// Tracker records repository files changed while a command runs. It watches
// the root and its subdirectories and accumulates relative paths of
// created, written, renamed, or removed files until stopped.
type Tracker struct {
	watcher *fsnotify.Watcher
	root    string
	ignored func(rel string) bool

	mu      sync.Mutex
	changed map[string]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTracker starts tracking changes under root. Returns nil without error
// when the root cannot be watched; change tracking is best-effort.
func NewTracker(root string, ignored func(rel string) bool) (*Tracker, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && ignored != nil && ignored(rel) {
			return filepath.SkipDir
		}
		if dirs >= trackerMaxDirs {
			return filepath.SkipAll
		}
		if addErr := w.Add(path); addErr == nil {
			dirs++
		}
		return nil
	})

	if dirs == 0 {
		_ = w.Close()
		logging.Debug().Str("root", root).Msg("change tracking disabled: nothing watchable")
		return nil, nil
	}

	t := &Tracker{
		watcher: w,
		root:    root,
		ignored: ignored,
		changed: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *Tracker) run() {
	defer close(t.doneCh)

	for {
		select {
		case <-t.stopCh:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				t.record(ev.Name)
				// New directories start being watched as they appear.
				if ev.Op&fsnotify.Create != 0 {
					_ = t.watcher.Add(ev.Name)
				}
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("change tracker error")
		}
	}
}

func (t *Tracker) record(path string) {
	rel, err := filepath.Rel(t.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	if t.ignored != nil && t.ignored(rel) {
		return
	}

	t.mu.Lock()
	t.changed[rel] = struct{}{}
	t.mu.Unlock()
}

// Stop ends tracking and returns the sorted list of changed paths.
func (t *Tracker) Stop() []string {
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
	_ = t.watcher.Close()
	<-t.doneCh

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.changed))
	for rel := range t.changed {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}
