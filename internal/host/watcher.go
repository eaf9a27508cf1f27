package host

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"geninst/internal/log"
)

// Watcher signals when Go sources under a root change. Changes inside
// ignored directories, such as the generated package, do not count.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	ignore    []string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
}

// WatchConfig holds watcher options.
type WatchConfig struct {
	Root        string
	Ignore      []string // absolute directories
	DebounceDur time.Duration
}

func NewWatcher(cfg WatchConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	ignore := make([]string, len(cfg.Ignore))
	for i, p := range cfg.Ignore {
		ignore[i] = filepath.Clean(p)
	}
	debounce := cfg.DebounceDur
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		fsWatcher: fsw,
		root:      filepath.Clean(cfg.Root),
		ignore:    ignore,
		debounce:  debounce,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start watches every directory under the root and returns the change channel.
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.addTree(w.root); err != nil {
		return nil, err
	}
	go w.loop()
	return w.onChange, nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// fsnotify is not recursive, so each directory is added on its own.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.skipDir(p) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return fmt.Errorf("watching directory %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) skipDir(p string) bool {
	name := filepath.Base(p)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata" {
		return true
	}
	return w.ignored(p)
}

func (w *Watcher) ignored(p string) bool {
	for _, dir := range w.ignore {
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if isDir, err := statDir(event.Name); err == nil && isDir && !w.skipDir(event.Name) {
					if err := w.addTree(event.Name); err != nil {
						log.Warn(log.CatWatch, "cannot watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if !w.isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatch, "watch error", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if !strings.HasSuffix(event.Name, ".go") {
		return false
	}
	return !w.ignored(filepath.Clean(event.Name))
}

func statDir(p string) (bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
