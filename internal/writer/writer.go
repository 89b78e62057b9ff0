// Package writer performs every filesystem mutation on the vault. Renames
// and moves run as transactions that also rewrite the wikilinks of
// referring pages, and are undone as a whole when any step fails.
package writer

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/maxthraxx/chronicler/internal/apperr"
	"github.com/maxthraxx/chronicler/internal/checksum"
	"github.com/maxthraxx/chronicler/internal/metrics"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/parser"
	"github.com/maxthraxx/chronicler/internal/storage"
)

// Options configures a Writer.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Writer serialises mutations: one runs to completion before the next starts.
type Writer struct {
	fs      storage.Provider
	logger  *slog.Logger
	metrics *metrics.Metrics
	newTxID func() string

	mu sync.Mutex
}

// New returns a Writer operating through fs.
func New(fs storage.Provider, opts Options) *Writer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Writer{
		fs:      fs,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		newTxID: uuid.NewString,
	}
}

// Root returns the vault directory the writer operates on.
func (w *Writer) Root() string { return w.fs.Root() }

// newPageContent is the frontmatter seeded into every new page.
func newPageContent(title string) []byte {
	return []byte("---\ntitle: " + title + "\ntags: [add, your, tags]\n---\n\n")
}

// CreateNewFile creates "<name>.md" in parentDir, seeded with default
// frontmatter, and returns its identity.
func (w *Writer) CreateNewFile(parentDir, name string) (models.PageHeader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name, err := cleanName(name)
	if err != nil {
		return models.PageHeader{}, err
	}
	if !parser.IsMarkdown(name) {
		name += ".md"
	}
	parent, err := w.dir(parentDir)
	if err != nil {
		return models.PageHeader{}, err
	}
	path := filepath.Join(parent, name)
	if err := w.vacant(path); err != nil {
		return models.PageHeader{}, err
	}
	title := parser.Stem(path)
	if err := w.fs.Write(path, newPageContent(title)); err != nil {
		return models.PageHeader{}, fmt.Errorf("writer: create file: %w", err)
	}
	w.logger.Info("writer: file created", slog.String("path", path))
	return models.PageHeader{Title: title, Path: path}, nil
}

// CreateNewFolder creates directory name in parentDir and returns its path.
func (w *Writer) CreateNewFolder(parentDir, name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	parent, err := w.dir(parentDir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(parent, name)
	if err := w.vacant(path); err != nil {
		return "", err
	}
	if err := w.fs.Mkdir(path); err != nil {
		return "", fmt.Errorf("writer: create folder: %w", err)
	}
	w.logger.Info("writer: folder created", slog.String("path", path))
	return path, nil
}

// DeletePath removes a file, or a folder with everything below it. It
// returns the resolved path and whether it was a directory.
func (w *Writer) DeletePath(path string) (string, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	abs, err := w.fs.Abs(path)
	if err != nil {
		return "", false, err
	}
	info, err := w.fs.Stat(abs)
	if err != nil {
		return "", false, err
	}
	if err := w.fs.Remove(abs); err != nil {
		return "", false, fmt.Errorf("writer: delete: %w", err)
	}
	w.logger.Info("writer: path deleted", slog.String("path", abs), slog.Bool("dir", info.IsDir()))
	return abs, info.IsDir(), nil
}

// WritePageContent atomically replaces the content of an existing page.
// A non-empty ifMatch must equal the checksum of the current content,
// otherwise apperr.ErrConflict is returned. It returns the resolved path
// and the checksum of the new content.
func (w *Writer) WritePageContent(path string, content []byte, ifMatch string) (string, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	abs, err := w.fs.Abs(path)
	if err != nil {
		return "", "", err
	}
	if !parser.IsMarkdown(abs) {
		return "", "", apperr.NewPathError(apperr.ErrInvalidPath, abs)
	}
	existing, err := w.fs.Read(abs)
	if err != nil {
		return "", "", err
	}
	if ifMatch != "" && !checksum.Matches(existing, ifMatch) {
		return "", "", apperr.NewPathError(apperr.ErrConflict, abs)
	}
	if err := w.fs.Write(abs, content); err != nil {
		return "", "", fmt.Errorf("writer: write page: %w", err)
	}
	w.logger.Debug("writer: page written", slog.String("path", abs), slog.Int("bytes", len(content)))
	return abs, checksum.Sum(content), nil
}

// DuplicatePage copies a page to "<stem> N.md" next to it, using the
// smallest N whose name is free.
func (w *Writer) DuplicatePage(path string) (models.PageHeader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	abs, err := w.fs.Abs(path)
	if err != nil {
		return models.PageHeader{}, err
	}
	if !parser.IsMarkdown(abs) {
		return models.PageHeader{}, apperr.NewPathError(apperr.ErrInvalidPath, abs)
	}
	content, err := w.fs.Read(abs)
	if err != nil {
		return models.PageHeader{}, err
	}
	stem, dir := parser.Stem(abs), filepath.Dir(abs)
	for n := 1; ; n++ {
		title := stem + " " + strconv.Itoa(n)
		candidate := filepath.Join(dir, title+".md")
		_, err := w.fs.Stat(candidate)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrFileNotFound) {
			return models.PageHeader{}, fmt.Errorf("writer: duplicate: %w", err)
		}
		if err := w.fs.Write(candidate, content); err != nil {
			return models.PageHeader{}, fmt.Errorf("writer: duplicate: %w", err)
		}
		w.logger.Info("writer: page duplicated", slog.String("from", abs), slog.String("to", candidate))
		return models.PageHeader{Title: title, Path: candidate}, nil
	}
}

// RenamePath renames a file or folder in place. For a file the ".md"
// extension is kept when newName omits it. backlinks lists the pages that
// link to the renamed page; their links are rewritten to the new stem.
func (w *Writer) RenamePath(oldPath, newName string, backlinks []string) (*RenameResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name, err := cleanName(newName)
	if err != nil {
		return nil, err
	}
	from, info, err := w.existing(oldPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() && parser.IsMarkdown(from) && !parser.IsMarkdown(name) {
		name += ".md"
	}
	return w.relocate(from, filepath.Join(filepath.Dir(from), name), info.IsDir(), backlinks)
}

// MovePath moves a file or folder into destDir, keeping its name.
func (w *Writer) MovePath(oldPath, destDir string, backlinks []string) (*RenameResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	from, info, err := w.existing(oldPath)
	if err != nil {
		return nil, err
	}
	dest, err := w.dir(destDir)
	if err != nil {
		return nil, err
	}
	if info.IsDir() && parser.WithinDir(dest, from) {
		return nil, apperr.NewPathError(apperr.ErrInvalidPath, dest)
	}
	return w.relocate(from, filepath.Join(dest, filepath.Base(from)), info.IsDir(), backlinks)
}

func (w *Writer) existing(path string) (string, fs.FileInfo, error) {
	abs, err := w.fs.Abs(path)
	if err != nil {
		return "", nil, err
	}
	if abs == w.fs.Root() {
		return "", nil, apperr.NewPathError(apperr.ErrInvalidPath, abs)
	}
	info, err := w.fs.Stat(abs)
	if err != nil {
		return "", nil, err
	}
	return abs, info, nil
}

// dir resolves path and requires it to be an existing directory.
func (w *Writer) dir(path string) (string, error) {
	abs, err := w.fs.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := w.fs.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", apperr.NewPathError(apperr.ErrNotADirectory, abs)
	}
	return abs, nil
}

// vacant fails with ErrAlreadyExists when path is occupied.
func (w *Writer) vacant(path string) error {
	_, err := w.fs.Stat(path)
	switch {
	case err == nil:
		return apperr.NewPathError(apperr.ErrAlreadyExists, path)
	case errors.Is(err, apperr.ErrFileNotFound):
		return nil
	default:
		return err
	}
}

// vacantFor is vacant for the destination of renaming from to to. A
// case-only rename on a case-insensitive file system finds its own source
// at the destination, which does not count as occupied.
func (w *Writer) vacantFor(from, to string) error {
	err := w.vacant(to)
	if err == nil || from == to || !strings.EqualFold(from, to) || !errors.Is(err, apperr.ErrAlreadyExists) {
		return err
	}
	fromInfo, ferr := w.fs.Stat(from)
	toInfo, terr := w.fs.Stat(to)
	if ferr == nil && terr == nil && os.SameFile(fromInfo, toInfo) {
		return nil
	}
	return err
}

// cleanName trims a user-supplied file or folder name and rejects names
// that are empty or would leave the target directory.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", apperr.NewPathError(apperr.ErrInvalidPath, name)
	}
	return name, nil
}
