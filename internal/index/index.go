// Package index holds the in-memory knowledge base of a vault: pages, tags,
// the resolved link graph, backlinks and the name resolver.
//
// Derived structures are never patched. Every mutation path ends with a
// full rebuild of relations from the current pages, so no sequence of
// events can leave stale tags, edges or backlinks behind.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maxthraxx/chronicler/internal/apperr"
	"github.com/maxthraxx/chronicler/internal/events"
	"github.com/maxthraxx/chronicler/internal/metrics"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/parser"
)

// DefaultMaxFileSize is the parse size ceiling used when none is configured.
const DefaultMaxFileSize = 1 << 20

// Options configures an Indexer.
type Options struct {
	// MaxFileSize is the largest file parsed; bigger files become stubs.
	MaxFileSize int64
	// Ignore holds doublestar patterns, relative to the vault root, for
	// markdown files that are never indexed.
	Ignore  []string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type pathSet = map[string]struct{}

// Indexer is safe for concurrent use. Queries share a read lock; scans and
// event application take the write lock.
type Indexer struct {
	maxFileSize int64
	ignore      []string
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu        sync.RWMutex
	root      string
	pages     map[string]*models.Page
	tags      map[string]pathSet
	resolver  map[string]string
	graph     map[string]map[string][]models.Link
	backlinks map[string]pathSet
}

// New returns an empty Indexer. Call ScanVault before querying.
func New(opts Options) *Indexer {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Indexer{
		maxFileSize: opts.MaxFileSize,
		ignore:      opts.Ignore,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		pages:       map[string]*models.Page{},
		tags:        map[string]pathSet{},
		resolver:    map[string]string{},
		graph:       map[string]map[string][]models.Link{},
		backlinks:   map[string]pathSet{},
	}
}

// Root returns the vault root of the last successful scan, or "".
func (ix *Indexer) Root() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.root
}

// ScanVault rebuilds the index from scratch. Every markdown file is parsed
// first, files that fail to parse are kept as stubs, and relations are
// rebuilt once at the end.
func (ix *Indexer) ScanVault(root string) error {
	start := time.Now()

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("index: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return apperr.NewPathError(apperr.ErrNotADirectory, abs)
	}

	pages := make(map[string]*models.Page)
	if err := ix.collect(abs, abs, pages); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.root = abs
	ix.pages = pages
	ix.rebuildRelations()

	ix.logger.Info("index: full scan completed",
		slog.String("root", abs),
		slog.Int("pages", len(ix.pages)),
		slog.Int("tags", len(ix.tags)),
		slog.Int("links", ix.linkCount()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

// collect parses every accepted markdown file below dir into pages.
// Unreadable subdirectories are logged and skipped.
func (ix *Indexer) collect(root, dir string, pages map[string]*models.Page) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			ix.logger.Warn("index: walk failed", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && parser.IsHidden(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !ix.accepts(root, path) {
			return nil
		}
		if page := ix.parse(path); page != nil {
			pages[path] = page
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index: walk %s: %w", dir, err)
	}
	return nil
}

// HandleEventBatch applies every event in order and rebuilds relations once.
func (ix *Indexer) HandleEventBatch(batch []events.FileEvent) {
	if len(batch) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, ev := range batch {
		ix.applyEvent(ev)
	}
	ix.rebuildRelations()
}

// HandleEventAndRebuild applies a single event and rebuilds immediately.
func (ix *Indexer) HandleEventAndRebuild(ev events.FileEvent) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.applyEvent(ev)
	ix.rebuildRelations()
}

// applyEvent must be called with the write lock held.
func (ix *Indexer) applyEvent(ev events.FileEvent) {
	ix.logger.Debug("index: applying event", slog.String("event", ev.String()))

	switch e := ev.(type) {
	case events.Created:
		ix.updateFile(e.File)
	case events.Modified:
		ix.updateFile(e.File)
	case events.Deleted:
		delete(ix.pages, e.File)
	case events.FolderCreated:
		// Empty folders hold no pages. Anything moved in with the folder
		// arrives as its own Created event.
	case events.FolderDeleted:
		ix.removeFolder(e.Dir)
	case events.Renamed:
		ix.handleRename(e.From, e.To)
	default:
		ix.logger.Error("index: unknown event", slog.String("event", fmt.Sprintf("%T", ev)))
	}
}

func (ix *Indexer) updateFile(path string) {
	delete(ix.pages, path)
	if !ix.accepts(ix.root, path) {
		return
	}
	if page := ix.parse(path); page != nil {
		ix.pages[path] = page
	}
}

func (ix *Indexer) removeFolder(dir string) {
	for path := range ix.pages {
		if parser.WithinDir(path, dir) {
			delete(ix.pages, path)
		}
	}
}

// handleRename drops every page under from and parses what now exists at
// to. Whether this is a folder rename is decided by looking at to on disk.
func (ix *Indexer) handleRename(from, to string) {
	info, err := os.Stat(to)
	isDir := err == nil && info.IsDir()

	var moved []string
	for path := range ix.pages {
		if parser.WithinDir(path, from) {
			moved = append(moved, path)
		}
	}

	if !isDir {
		for _, old := range moved {
			delete(ix.pages, old)
		}
		// Also covers renames into a markdown name from something unindexed.
		ix.updateFile(to)
		return
	}

	for _, old := range moved {
		delete(ix.pages, old)
	}
	// The whole destination subtree is read, so files the watcher folded
	// into the folder rename are picked up too.
	if err := ix.collect(ix.root, to, ix.pages); err != nil {
		ix.logger.Warn("index: rename rescan failed",
			slog.String("dir", to),
			slog.String("error", err.Error()))
	}
}

// parse returns nil only when path no longer exists. Any other failure
// yields a stub so the file stays visible.
func (ix *Indexer) parse(path string) *models.Page {
	page, err := parser.ParseFile(path, ix.maxFileSize)
	if err == nil {
		return page
	}
	if errors.Is(err, fs.ErrNotExist) {
		ix.logger.Debug("index: file vanished before parse", slog.String("path", path))
		return nil
	}
	ix.metrics.IncParseFailure()
	ix.logger.Warn("index: parse failed, indexing stub",
		slog.String("path", path),
		slog.String("error", err.Error()))
	return parser.Stub(path)
}

// accepts reports whether path is a markdown file under root that the
// index should track.
func (ix *Indexer) accepts(root, path string) bool {
	if root == "" || !parser.IsMarkdown(path) || !parser.WithinDir(path, root) {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || parser.HasHiddenComponent(rel) {
		return false
	}
	return !parser.Ignored(ix.ignore, rel)
}

// rebuildRelations recomputes the resolver, tags, link graph and backlinks
// from ix.pages and swaps them in. Must be called with the write lock held.
func (ix *Indexer) rebuildRelations() {
	start := time.Now()

	paths := make([]string, 0, len(ix.pages))
	for p := range ix.pages {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	resolver := make(map[string]string, len(paths))
	for _, p := range paths {
		key := parser.NormalizeTarget(parser.Stem(p))
		if prev, dup := resolver[key]; dup {
			ix.logger.Warn("index: ambiguous page name, keeping first path",
				slog.String("name", key),
				slog.String("kept", prev),
				slog.String("ignored", p))
			continue
		}
		resolver[key] = p
	}

	tags := make(map[string]pathSet)
	graph := make(map[string]map[string][]models.Link)
	backlinks := make(map[string]pathSet)
	broken := make(map[string]struct{})

	for _, src := range paths {
		page := ix.pages[src]
		for _, tag := range page.Tags {
			if tags[tag] == nil {
				tags[tag] = pathSet{}
			}
			tags[tag][src] = struct{}{}
		}
		for _, link := range page.Links {
			key := parser.NormalizeTarget(link.Target)
			dst, ok := resolver[key]
			if !ok {
				broken[key] = struct{}{}
				continue
			}
			if graph[src] == nil {
				graph[src] = map[string][]models.Link{}
			}
			graph[src][dst] = append(graph[src][dst], link)
			if backlinks[dst] == nil {
				backlinks[dst] = pathSet{}
			}
			backlinks[dst][src] = struct{}{}
		}
	}

	ix.resolver = resolver
	ix.tags = tags
	ix.graph = graph
	ix.backlinks = backlinks

	ix.metrics.ObserveRebuild(time.Since(start), len(ix.pages), len(broken))
}

func (ix *Indexer) linkCount() int {
	n := 0
	for _, targets := range ix.graph {
		for _, links := range targets {
			n += len(links)
		}
	}
	return n
}

// lessByTitle orders headers by case-insensitive title, then path.
func lessByTitle(a, b models.PageHeader) bool {
	at, bt := strings.ToLower(a.Title), strings.ToLower(b.Title)
	if at != bt {
		return at < bt
	}
	return a.Path < b.Path
}
