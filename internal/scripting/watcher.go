package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher flags script changes on disk. It never touches the VM: the tick
// driver polls TakePending and reloads between ticks.
type Watcher struct {
	w       *fsnotify.Watcher
	log     *zap.Logger
	pending atomic.Bool
	done    chan struct{}
}

// NewWatcher watches the engine's script root and its loaded
// subdirectories.
func NewWatcher(root string, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create script watcher: %w", err)
	}
	dirs := append([]string{root}, subdirs(root)...)
	for _, d := range dirs {
		if err := fw.Add(d); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", d, err)
		}
	}
	w := &Watcher{w: fw, log: log, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func subdirs(root string) []string {
	var out []string
	for _, sub := range scriptDirs {
		p := filepath.Join(root, sub)
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != ".lua" {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.pending.Swap(true) {
				w.log.Debug("lua script changed", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.log.Warn("script watcher error", zap.Error(err))
		}
	}
}

// TakePending reports whether scripts changed since the last call.
func (w *Watcher) TakePending() bool { return w.pending.Swap(false) }

func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}
