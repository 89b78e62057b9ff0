// Package world ties the vault engine together. It owns the open vault's
// indexer, watcher and writer, runs the background consumer that applies
// watcher batches to the index, and exposes the queries and mutations the
// HTTP and MCP surfaces use.
package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maxthraxx/chronicler/internal/apperr"
	"github.com/maxthraxx/chronicler/internal/broadcast"
	"github.com/maxthraxx/chronicler/internal/catalog"
	"github.com/maxthraxx/chronicler/internal/events"
	"github.com/maxthraxx/chronicler/internal/index"
	"github.com/maxthraxx/chronicler/internal/metrics"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/storage"
	"github.com/maxthraxx/chronicler/internal/watcher"
	"github.com/maxthraxx/chronicler/internal/writer"
)

// Update sources passed to Notifier.IndexUpdated.
const (
	SourceWatcher = "watcher"
	SourceWriter  = "writer"
	SourceScan    = "scan"
)

// Notifier is told once per applied batch, mutation or scan that the index
// changed. paths lists the affected paths and is empty after a scan.
type Notifier interface {
	IndexUpdated(source string, paths []string)
}

// Catalog mirrors the index into a searchable store.
type Catalog interface {
	Sync(pages []*models.Page, logger *slog.Logger) (catalog.SyncStats, error)
	Search(query string, limit int) ([]catalog.SearchResult, error)
}

// ErrSearchUnavailable is returned by Search when no catalog is configured.
var ErrSearchUnavailable = errors.New("world: search unavailable")

// Options configures a World. Zero values pick the package defaults of the
// indexer and the watcher.
type Options struct {
	Debounce    time.Duration
	Capacity    int
	MaxFileSize int64
	Ignore      []string
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	// Catalog and Notifier are optional.
	Catalog  Catalog
	Notifier Notifier
}

// World is safe for concurrent use. Its own lock only guards which vault is
// open; the indexer and the writer each lock independently, so reads never
// wait on a rename transaction's file I/O.
type World struct {
	opts Options

	mu   sync.RWMutex
	sess *session

	catalogMu sync.Mutex
}

type session struct {
	root    string
	fs      *storage.FS
	index   *index.Indexer
	watcher *watcher.Watcher
	writer  *writer.Writer
	rx      *broadcast.Receiver[events.FileEvent]
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a World with no vault open.
func New(opts Options) *World {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = watcher.DefaultDebounce
	}
	return &World{opts: opts}
}

// Open scans root, starts watching it and begins applying change batches.
// The scan completes before Open returns. A vault that is already open is
// closed first.
func (w *World) Open(ctx context.Context, root string) error {
	fsys, err := storage.NewFS(root)
	if err != nil {
		return fmt.Errorf("world: open: %w", err)
	}
	ix := index.New(index.Options{
		MaxFileSize: w.opts.MaxFileSize,
		Ignore:      w.opts.Ignore,
		Logger:      w.opts.Logger,
		Metrics:     w.opts.Metrics,
	})
	if err := ix.ScanVault(fsys.Root()); err != nil {
		return fmt.Errorf("world: open: %w", err)
	}

	wt := watcher.New(watcher.Options{
		Debounce: w.opts.Debounce,
		Capacity: w.opts.Capacity,
		Ignore:   w.opts.Ignore,
		Logger:   w.opts.Logger,
		Metrics:  w.opts.Metrics,
	})
	rx := wt.Subscribe()
	if err := wt.Start(fsys.Root()); err != nil {
		rx.Unsubscribe()
		wt.Stop()
		return fmt.Errorf("world: open: %w", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	s := &session{
		root:    fsys.Root(),
		fs:      fsys,
		index:   ix,
		watcher: wt,
		writer:  writer.New(fsys, writer.Options{Logger: w.opts.Logger, Metrics: w.opts.Metrics}),
		rx:      rx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	w.mu.Lock()
	prev := w.sess
	w.sess = s
	w.mu.Unlock()
	if prev != nil {
		w.stop(prev)
	}

	go w.consume(cctx, s)
	w.syncCatalog(s)
	w.notify(SourceScan, nil)

	w.opts.Logger.Info("world: vault opened",
		slog.String("root", s.root),
		slog.Int("pages", len(ix.GetAllPages())))
	return nil
}

// Close stops the watcher and the consumer of the open vault, if any.
func (w *World) Close() {
	w.mu.Lock()
	s := w.sess
	w.sess = nil
	w.mu.Unlock()
	if s != nil {
		w.stop(s)
	}
}

func (w *World) stop(s *session) {
	s.cancel()
	s.watcher.Stop()
	<-s.done
	s.rx.Unsubscribe()
	w.opts.Logger.Info("world: vault closed", slog.String("root", s.root))
}

// IsOpen reports whether a vault is open.
func (w *World) IsOpen() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sess != nil
}

// Root returns the open vault's directory.
func (w *World) Root() (string, error) {
	s, err := w.current()
	if err != nil {
		return "", err
	}
	return s.root, nil
}

// Resolve turns a vault-relative or absolute path into the absolute path
// used by the index, rejecting anything outside the vault.
func (w *World) Resolve(path string) (string, error) {
	s, err := w.current()
	if err != nil {
		return "", err
	}
	return s.fs.Abs(path)
}

// Relative maps an absolute vault path to its slash-separated form relative
// to the vault root. Paths outside the vault, and any path while no vault is
// open, are returned unchanged.
func (w *World) Relative(abs string) string {
	s, err := w.current()
	if err != nil {
		return abs
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	return filepath.ToSlash(rel)
}

// Rescan rebuilds the index from disk. It repairs any divergence left by
// change notifications lost to a lagging consumer.
func (w *World) Rescan() error {
	s, err := w.current()
	if err != nil {
		return err
	}
	if err := s.index.ScanVault(s.root); err != nil {
		return fmt.Errorf("world: rescan: %w", err)
	}
	w.syncCatalog(s)
	w.notify(SourceScan, nil)
	return nil
}

func (w *World) current() (*session, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.sess == nil {
		return nil, apperr.ErrVaultNotInitialized
	}
	return w.sess, nil
}

// consume applies watcher events in batches: it blocks for one event, waits
// out the debounce interval, drains whatever else is queued and applies the
// lot with a single rebuild.
func (w *World) consume(ctx context.Context, s *session) {
	defer close(s.done)
	log := w.opts.Logger

	for {
		first, err := s.rx.Recv(ctx)
		if err != nil {
			var lag *broadcast.LaggedError
			if errors.As(err, &lag) {
				w.lagged(s, lag)
				continue
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.Debounce):
		}

		batch := []events.FileEvent{first}
		for {
			ev, err := s.rx.TryRecv()
			if err == nil {
				batch = append(batch, ev)
				continue
			}
			var lag *broadcast.LaggedError
			if errors.As(err, &lag) {
				w.lagged(s, lag)
				continue
			}
			break
		}

		s.index.HandleEventBatch(batch)
		w.opts.Metrics.ObserveBatch(len(batch))
		log.Debug("world: batch applied", slog.Int("events", len(batch)))

		w.syncCatalog(s)
		paths := make([]string, 0, len(batch))
		for _, ev := range batch {
			if r, ok := ev.(events.Renamed); ok {
				paths = append(paths, r.From)
			}
			paths = append(paths, ev.Path())
		}
		w.notify(SourceWatcher, paths)
	}
}

func (w *World) lagged(s *session, lag *broadcast.LaggedError) {
	w.opts.Metrics.AddLagged(lag.Skipped)
	w.opts.Logger.Warn("world: event stream lagged, index may be stale until rescan",
		slog.String("root", s.root),
		slog.Uint64("skipped", lag.Skipped))
}

func (w *World) syncCatalog(s *session) {
	if w.opts.Catalog == nil {
		return
	}
	w.catalogMu.Lock()
	defer w.catalogMu.Unlock()
	if _, err := w.opts.Catalog.Sync(s.index.Snapshot(), w.opts.Logger); err != nil {
		w.opts.Logger.Warn("world: catalog sync failed", slog.String("error", err.Error()))
	}
}

func (w *World) notify(source string, paths []string) {
	if w.opts.Notifier != nil {
		w.opts.Notifier.IndexUpdated(source, paths)
	}
}
