// Package watch turns a directory into a hot folder: every image or PDF
// written into it is handed to a callback once its writes have settled.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/menta2k/layout-ocr/internal/utils"
)

// DefaultSettle is how long a file must stay unchanged before it is handled
const DefaultSettle = time.Second

// Handler processes one settled file
type Handler func(ctx context.Context, path string)

// Option configures a Watcher
type Option struct {
	Settle time.Duration
}

// Watcher feeds new files of a directory to a handler, one at a time
type Watcher struct {
	dir     string
	opt     Option
	handler Handler
	logger  hclog.Logger
}

// New creates a watcher for dir
func New(dir string, opt Option, handler Handler, logger hclog.Logger) *Watcher {
	if opt.Settle <= 0 {
		opt.Settle = DefaultSettle
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Watcher{dir: dir, opt: opt, handler: handler, logger: logger}
}

// Accept reports whether name is an input the watcher hands on. Hidden
// files and annotated outputs are ignored.
func Accept(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.Contains(base, "_layouts.") {
		return false
	}
	return utils.IsImageFile(base) || utils.IsPDFFile(base)
}

// Watch starts watching and returns a channel closed when the watcher
// stops, which happens when ctx is done. The handler runs on the watching
// goroutine, so files are handled strictly one after another.
func (w *Watcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching", "dir", w.dir)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer fw.Close()
		w.loop(ctx, fw)
	}()
	return done, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	pending := map[string]time.Time{}
	ticker := time.NewTicker(w.opt.Settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch stopped", "dir", w.dir, "pending", len(pending))
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					delete(pending, event.Name)
				}
				continue
			}
			if !Accept(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case now := <-ticker.C:
			for _, path := range settled(pending, now, w.opt.Settle) {
				delete(pending, path)
				if ctx.Err() != nil {
					return
				}
				w.logger.Debug("file settled", "path", path)
				w.handler(ctx, path)
			}
		}
	}
}

// settled returns the pending paths untouched for at least settle, oldest first
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var paths []string
	for p, t := range pending {
		if now.Sub(t) >= settle {
			paths = append(paths, p)
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		ti, tj := pending[paths[i]], pending[paths[j]]
		if ti.Equal(tj) {
			return paths[i] < paths[j]
		}
		return ti.Before(tj)
	})
	return paths
}
