// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-triggers work when an input table changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/RiverCluster/pkg/logging"
	"github.com/fsnotify/fsnotify"
)

// ErrAlreadyStarted is returned by Start on a running watcher.
var ErrAlreadyStarted = errors.New("watcher already started")

// Handler receives the paths that changed during one debounce window,
// sorted and deduplicated. It runs on the watcher's goroutine, so a slow
// handler delays the next batch rather than overlapping it.
type Handler func(ctx context.Context, paths []string)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the watcher waits for further writes before
	// calling the handler. Default: 500ms.
	Debounce time.Duration

	// Pattern is a filepath.Match pattern applied to base names.
	// Default: "*.csv".
	Pattern string

	Logger *logging.Logger
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		Debounce: 500 * time.Millisecond,
		Pattern:  "*.csv",
	}
}

// Watcher watches one directory, or one file through its directory, and
// calls a handler after writes settle.
//
// # Description
//
// Editors and exporters often write a CSV in several chunks or replace it
// with a rename. Events are collected until Debounce passes without a new
// one, then the handler is called once with every matching path.
//
// # Thread Safety
//
// Start and Stop are safe for concurrent use. The handler is called from a
// single goroutine.
type Watcher struct {
	dir     string
	only    string
	opts    Options
	handler Handler
	logger  *logging.Logger

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
}

// New creates a watcher for path. A directory is watched for every file
// matching Options.Pattern; a file is watched on its own.
//
// # Inputs
//
//   - path: File or directory. A file need not exist yet.
//   - handler: Called with each debounced batch.
//   - opts: nil uses DefaultOptions.
func New(path string, isDir bool, handler Handler, opts *Options) (*Watcher, error) {
	o := DefaultOptions()
	if opts != nil {
		if opts.Debounce > 0 {
			o.Debounce = opts.Debounce
		}
		if opts.Pattern != "" {
			o.Pattern = opts.Pattern
		}
		o.Logger = opts.Logger
	}
	if _, err := filepath.Match(o.Pattern, "x"); err != nil {
		return nil, fmt.Errorf("watch pattern %q: %w", o.Pattern, err)
	}
	logger := o.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w := &Watcher{
		dir:     abs,
		opts:    o,
		handler: handler,
		logger:  logger.With("component", "watch"),
		done:    make(chan struct{}),
	}
	if !isDir {
		w.dir = filepath.Dir(abs)
		w.only = filepath.Base(abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w.fsw = fsw
	return w, nil
}

// Start begins watching. It returns once the directory is registered; the
// event loop runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.started = true
	w.logger.Info("Watching for input changes", "dir", w.dir, "file", w.only, "debounce", w.opts.Debounce)
	go w.loop(ctx)
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

// matches reports whether an event path is of interest.
func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	if w.only != "" {
		return base == w.only
	}
	ok, _ := filepath.Match(w.opts.Pattern, base)
	return ok
}

func (w *Watcher) loop(ctx context.Context) {
	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		clear(pending)
		if w.handler != nil {
			w.handler(ctx, paths)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// A file replaced by rename arrives as a create.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			pending[ev.Name] = true
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.opts.Debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			flush()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}
