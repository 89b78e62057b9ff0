package world

import (
	"fmt"

	"github.com/maxthraxx/chronicler/internal/catalog"
	"github.com/maxthraxx/chronicler/internal/checksum"
	"github.com/maxthraxx/chronicler/internal/events"
	"github.com/maxthraxx/chronicler/internal/models"
)

// PageView is a page as shown to a reader: parsed data, raw content and
// weighted backlinks.
type PageView struct {
	Page      *models.Page
	Content   string
	Checksum  string
	Backlinks []models.Backlink
}

// GetPage returns the indexed page at path together with its content.
func (w *World) GetPage(path string) (*PageView, error) {
	s, abs, err := w.resolved(path)
	if err != nil {
		return nil, err
	}
	page, err := s.index.GetPage(abs)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.Read(abs)
	if err != nil {
		return nil, err
	}
	return &PageView{
		Page:      page,
		Content:   string(data),
		Checksum:  checksum.Sum(data),
		Backlinks: s.index.GetBacklinks(abs),
	}, nil
}

func (w *World) GetAllPages() ([]models.PageHeader, error) {
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	return s.index.GetAllPages(), nil
}

func (w *World) GetBacklinks(path string) ([]models.Backlink, error) {
	s, abs, err := w.resolved(path)
	if err != nil {
		return nil, err
	}
	if _, err := s.index.GetPage(abs); err != nil {
		return nil, err
	}
	return s.index.GetBacklinks(abs), nil
}

func (w *World) GetAllTags() ([]models.TagGroup, error) {
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	return s.index.GetAllTags(), nil
}

func (w *World) GetAllBrokenLinks() ([]models.BrokenLink, error) {
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	return s.index.GetAllBrokenLinks(), nil
}

func (w *World) GetFileTree() (*models.FileNode, error) {
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	return s.index.GetFileTree()
}

func (w *World) GetAllDirectoryPaths() ([]string, error) {
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	return s.index.GetAllDirectoryPaths()
}

func (w *World) GetGraph() (models.Graph, error) {
	s, err := w.current()
	if err != nil {
		return models.Graph{}, err
	}
	return s.index.GetGraph(), nil
}

// ResolveLink returns the page a wikilink target names, if any.
func (w *World) ResolveLink(target string) (string, bool, error) {
	s, err := w.current()
	if err != nil {
		return "", false, err
	}
	p, ok := s.index.ResolveLink(models.Link{Target: target})
	return p, ok, nil
}

// Search queries the catalog. It needs an open vault and a configured
// catalog.
func (w *World) Search(query string, limit int) ([]catalog.SearchResult, error) {
	if _, err := w.current(); err != nil {
		return nil, err
	}
	if w.opts.Catalog == nil {
		return nil, ErrSearchUnavailable
	}
	w.catalogMu.Lock()
	defer w.catalogMu.Unlock()
	res, err := w.opts.Catalog.Search(query, limit)
	if err != nil {
		return nil, fmt.Errorf("world: search: %w", err)
	}
	return res, nil
}

// Mutations run through the writer and then apply the matching event to
// the index directly, so the caller sees the new state on return. The
// watcher reports the same change later; applying it again changes nothing.

func (w *World) CreateNewFile(parentDir, name string) (models.PageHeader, error) {
	s, parent, err := w.resolved(parentDir)
	if err != nil {
		return models.PageHeader{}, err
	}
	h, err := s.writer.CreateNewFile(parent, name)
	if err != nil {
		return models.PageHeader{}, err
	}
	w.applied(s, events.Created{File: h.Path})
	return h, nil
}

func (w *World) CreateNewFolder(parentDir, name string) (string, error) {
	s, parent, err := w.resolved(parentDir)
	if err != nil {
		return "", err
	}
	path, err := s.writer.CreateNewFolder(parent, name)
	if err != nil {
		return "", err
	}
	w.applied(s, events.FolderCreated{Dir: path})
	return path, nil
}

func (w *World) DeletePath(path string) error {
	s, abs, err := w.resolved(path)
	if err != nil {
		return err
	}
	abs, isDir, err := s.writer.DeletePath(abs)
	if err != nil {
		return err
	}
	if isDir {
		w.applied(s, events.FolderDeleted{Dir: abs})
	} else {
		w.applied(s, events.Deleted{File: abs})
	}
	return nil
}

// WritePageContent replaces a page's content; see writer.WritePageContent
// for the ifMatch precondition. It returns the new checksum.
func (w *World) WritePageContent(path string, content []byte, ifMatch string) (string, error) {
	s, abs, err := w.resolved(path)
	if err != nil {
		return "", err
	}
	abs, sum, err := s.writer.WritePageContent(abs, content, ifMatch)
	if err != nil {
		return "", err
	}
	w.applied(s, events.Modified{File: abs})
	return sum, nil
}

func (w *World) DuplicatePage(path string) (models.PageHeader, error) {
	s, abs, err := w.resolved(path)
	if err != nil {
		return models.PageHeader{}, err
	}
	h, err := s.writer.DuplicatePage(abs)
	if err != nil {
		return models.PageHeader{}, err
	}
	w.applied(s, events.Created{File: h.Path})
	if page, err := s.index.GetPage(h.Path); err == nil {
		h = page.Header()
	}
	return h, nil
}

// RenamePath renames a page or folder and rewrites links to a renamed page.
func (w *World) RenamePath(path, newName string) (string, error) {
	s, abs, err := w.resolved(path)
	if err != nil {
		return "", err
	}
	res, err := s.writer.RenamePath(abs, newName, s.index.BacklinkPaths(abs))
	if err != nil {
		return "", err
	}
	w.relocated(s, res.OldPath, res.NewPath, res.Rewritten)
	return res.NewPath, nil
}

// MovePath moves a page or folder into destDir.
func (w *World) MovePath(path, destDir string) (string, error) {
	s, abs, err := w.resolved(path)
	if err != nil {
		return "", err
	}
	dest, err := s.fs.Abs(destDir)
	if err != nil {
		return "", err
	}
	res, err := s.writer.MovePath(abs, dest, s.index.BacklinkPaths(abs))
	if err != nil {
		return "", err
	}
	w.relocated(s, res.OldPath, res.NewPath, res.Rewritten)
	return res.NewPath, nil
}

func (w *World) resolved(path string) (*session, string, error) {
	s, err := w.current()
	if err != nil {
		return nil, "", err
	}
	abs, err := s.fs.Abs(path)
	if err != nil {
		return nil, "", err
	}
	return s, abs, nil
}

func (w *World) applied(s *session, ev events.FileEvent) {
	s.index.HandleEventAndRebuild(ev)
	w.syncCatalog(s)
	w.notify(SourceWriter, []string{ev.Path()})
}

// relocated applies a committed rename: the move itself and every page
// whose links were rewritten, with one rebuild.
func (w *World) relocated(s *session, from, to string, rewritten []string) {
	batch := make([]events.FileEvent, 0, len(rewritten)+1)
	batch = append(batch, events.Renamed{From: from, To: to})
	paths := []string{from, to}
	for _, p := range rewritten {
		if p != to {
			batch = append(batch, events.Modified{File: p})
			paths = append(paths, p)
		}
	}
	s.index.HandleEventBatch(batch)
	w.syncCatalog(s)
	w.notify(SourceWriter, paths)
}
