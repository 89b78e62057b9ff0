// Package watcher turns raw fsnotify notifications under a vault root into
// debounced, classified events.FileEvent values published on a broadcast
// channel.
//
// Raw notifications are coalesced per path until the tree has been quiet for
// the debounce interval. At flush time every touched path is classified by
// comparing what is on disk now with what the watcher last knew, which makes
// the output independent of the order and duplication of raw notifications.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maxthraxx/chronicler/internal/broadcast"
	"github.com/maxthraxx/chronicler/internal/events"
	"github.com/maxthraxx/chronicler/internal/metrics"
	"github.com/maxthraxx/chronicler/internal/parser"
)

const (
	DefaultDebounce = 500 * time.Millisecond
	DefaultCapacity = 100

	// maxWaitFactor caps how long a continuously busy tree can hold back a
	// batch, as a multiple of the debounce interval.
	maxWaitFactor = 10
)

// DefaultIgnore lists editor scratch and lock files that never produce events.
var DefaultIgnore = []string{
	"**/*~",
	"**/~$*",
	"**/*.swp",
	"**/*.swx",
	"**/*.tmp",
	"**/#*#",
}

var (
	// ErrAlreadyStarted is returned when Start is called on a running watcher.
	ErrAlreadyStarted = errors.New("watcher: already started")
	ErrStopped        = errors.New("watcher: stopped")
)

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// Capacity bounds the number of events buffered per subscriber.
	Capacity int
	// Ignore is appended to DefaultIgnore.
	Ignore  []string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Watcher is inert until Start. Subscribers may attach before or after.
type Watcher struct {
	debounce time.Duration
	ignore   []string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	out      *broadcast.Channel[events.FileEvent]

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	root     string
	done     chan struct{}
	stopped  bool
	stopOnce sync.Once

	// owned by the run goroutine after Start
	files pathSet
	dirs  pathSet
}

type pathSet = map[string]struct{}

// New returns an idle watcher.
func New(opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ignore := append(append([]string(nil), DefaultIgnore...), opts.Ignore...)
	return &Watcher{
		debounce: opts.Debounce,
		ignore:   ignore,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		out:      broadcast.New[events.FileEvent](opts.Capacity),
	}
}

// Subscribe returns a receiver for events published from now on.
func (w *Watcher) Subscribe() *broadcast.Receiver[events.FileEvent] {
	return w.out.Subscribe()
}

// Start watches root and every non-hidden directory below it.
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.fsw != nil {
		return ErrAlreadyStarted
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("watcher: start: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: start: %w", err)
	}
	w.root = abs
	w.files = make(pathSet)
	w.dirs = make(pathSet)
	if err := w.addTree(fsw, abs, nil); err != nil {
		fsw.Close()
		return fmt.Errorf("watcher: start: %w", err)
	}
	w.logger.Info("watcher: started",
		slog.String("root", abs),
		slog.Int("dirs", len(w.dirs)),
		slog.Int("files", len(w.files)))

	w.fsw = fsw
	w.done = make(chan struct{})
	go w.run(fsw, w.done)
	return nil
}

// Stop ends the watch and closes the event channel. Changes still waiting
// out the debounce are published first. Receivers drain what is still
// buffered and then observe broadcast.ErrClosed. Stop is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		fsw, done := w.fsw, w.done
		w.stopped = true
		w.mu.Unlock()
		if fsw != nil {
			fsw.Close()
			<-done
		}
		w.out.Close()
		w.logger.Info("watcher: stopped")
	})
}

// addTree registers dir and all non-hidden directories below it with fsw.
// Qualifying paths found are recorded as known, or handed to touched when
// it is non-nil.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string, touched func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if path != w.root && parser.IsHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return err
			}
			if touched != nil {
				touched(path)
			} else if path != w.root {
				w.dirs[path] = struct{}{}
			}
			return nil
		}
		if !w.qualifies(path) {
			return nil
		}
		if touched != nil {
			touched(path)
		} else {
			w.files[path] = struct{}{}
		}
		return nil
	})
}

func (w *Watcher) qualifies(path string) bool {
	if !parser.IsMarkdown(path) {
		return false
	}
	return w.visible(path)
}

// visible reports whether path is inside the root, outside hidden
// directories and not matched by an ignore pattern.
func (w *Watcher) visible(path string) bool {
	if path == w.root || !parser.WithinDir(path, w.root) {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || parser.HasHiddenComponent(rel) {
		return false
	}
	return !parser.Ignored(w.ignore, rel)
}

// pending accumulates touched paths between flushes.
type pending struct {
	ops   map[string]fsnotify.Op
	start time.Time
}

func (p *pending) touch(path string, op fsnotify.Op) {
	if p.ops == nil {
		p.ops = make(map[string]fsnotify.Op)
		p.start = time.Now()
	}
	p.ops[path] |= op
}

func (w *Watcher) run(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var (
		batch  pending
		timer  *time.Timer
		timerC <-chan time.Time
	)
	arm := func() {
		wait := w.debounce
		if left := maxWaitFactor*w.debounce - time.Since(batch.start); left < wait {
			wait = max(left, 0)
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		timerC = timer.C
	}
	flush := func() {
		timerC = nil
		ops := batch.ops
		batch = pending{}
		if len(ops) > 0 {
			w.publish(w.classify(ops))
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				// Stop publishes what was still debouncing.
				flush()
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			batch.touch(ev.Name, ev.Op)
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && w.visible(ev.Name) {
					// Files written before the watch was added produce no
					// notification of their own.
					err := w.addTree(fsw, ev.Name, func(p string) { batch.touch(p, fsnotify.Create) })
					if err != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", err.Error()))
					}
				}
			}
			arm()

		case <-timerC:
			flush()

		case err, ok := <-fsw.Errors:
			if !ok {
				flush()
				return
			}
			w.metrics.IncWatcherError()
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) publish(evs []events.FileEvent) {
	for _, ev := range evs {
		w.metrics.IncWatcherEvent(string(ev.Kind()))
		if _, err := w.out.Send(ev); err != nil {
			w.logger.Warn("watcher: publish failed",
				slog.String("event", ev.String()),
				slog.String("error", err.Error()))
			return
		}
		w.logger.Debug("watcher: event", slog.String("event", ev.String()))
	}
}

// classify compares the touched paths against disk and the known sets,
// updates the known sets and returns the events to publish in apply order:
// folder renames, folder deletions, file renames, deletions, folder
// creations, creations and finally modifications.
func (w *Watcher) classify(ops map[string]fsnotify.Op) []events.FileEvent {
	var newDirs, goneDirs, newFiles, goneFiles, modified []string

	for path, op := range ops {
		info, err := os.Stat(path)
		exists := err == nil
		_, wasFile := w.files[path]
		_, wasDir := w.dirs[path]

		switch {
		case exists && info.IsDir():
			if wasFile {
				goneFiles = append(goneFiles, path)
			}
			if !wasDir && w.visible(path) {
				newDirs = append(newDirs, path)
			}
		case exists:
			if wasDir {
				goneDirs = append(goneDirs, path)
			}
			switch {
			case wasFile:
				if op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					modified = append(modified, path)
				}
			case w.qualifies(path):
				newFiles = append(newFiles, path)
			}
		default:
			if wasFile {
				goneFiles = append(goneFiles, path)
			}
			if wasDir {
				goneDirs = append(goneDirs, path)
			}
		}
	}
	for _, s := range [][]string{newDirs, goneDirs, newFiles, goneFiles, modified} {
		sort.Strings(s)
	}

	topGone := topLevel(goneDirs)
	topNew := topLevel(newDirs)

	// Everything known under a vanished directory goes with it.
	for _, dir := range topGone {
		w.forgetTree(dir)
	}
	goneFiles = outside(goneFiles, topGone)

	var out []events.FileEvent
	dirRenamed := len(topGone) == 1 && len(topNew) == 1 && ops[topGone[0]]&fsnotify.Rename != 0
	if dirRenamed {
		out = append(out, events.Renamed{From: topGone[0], To: topNew[0]})
		// The subtree arrives re-parsed with the rename; its files and
		// folders are not announced separately.
		for _, f := range newFiles {
			if parser.WithinDir(f, topNew[0]) {
				w.files[f] = struct{}{}
			}
		}
		newFiles = outside(newFiles, topNew)
	} else {
		for _, dir := range topGone {
			out = append(out, events.FolderDeleted{Dir: dir})
		}
	}
	for _, dir := range newDirs {
		w.dirs[dir] = struct{}{}
	}

	fileRenamed := len(goneFiles) == 1 && len(newFiles) == 1 && ops[goneFiles[0]]&fsnotify.Rename != 0
	for _, f := range goneFiles {
		delete(w.files, f)
	}
	for _, f := range newFiles {
		w.files[f] = struct{}{}
	}
	if fileRenamed {
		out = append(out, events.Renamed{From: goneFiles[0], To: newFiles[0]})
	} else {
		for _, f := range goneFiles {
			out = append(out, events.Deleted{File: f})
		}
	}

	if !dirRenamed {
		for _, dir := range topNew {
			out = append(out, events.FolderCreated{Dir: dir})
		}
	}
	if !fileRenamed {
		for _, f := range newFiles {
			out = append(out, events.Created{File: f})
		}
	}
	for _, f := range modified {
		out = append(out, events.Modified{File: f})
	}
	return out
}

// forgetTree drops dir and everything known below it.
func (w *Watcher) forgetTree(dir string) {
	for d := range w.dirs {
		// Kernel watches are left alone: a moved directory keeps its watch
		// descriptor, which the new path has already claimed.
		if parser.WithinDir(d, dir) {
			delete(w.dirs, d)
		}
	}
	for f := range w.files {
		if parser.WithinDir(f, dir) {
			delete(w.files, f)
		}
	}
}

// topLevel returns the sorted dirs that are not inside another listed dir.
func topLevel(sorted []string) []string {
	var out []string
	for _, d := range sorted {
		if len(outside([]string{d}, out)) == 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

// outside filters paths that lie under any of dirs.
func outside(paths, dirs []string) []string {
	out := paths[:0:0]
	for _, p := range paths {
		under := false
		for _, d := range dirs {
			if parser.WithinDir(p, d) {
				under = true
				break
			}
		}
		if !under {
			out = append(out, p)
		}
	}
	return out
}
