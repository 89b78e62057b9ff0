package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maxthraxx/chronicler/internal/apperr"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/parser"
)

// ResolveLink returns the path a link points to. Matching is exact on the
// lowercased page name; there is no fuzzy or partial matching.
func (ix *Indexer) ResolveLink(link models.Link) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.resolver[parser.NormalizeTarget(link.Target)]
	return p, ok
}

// GetPage returns a copy of the page at path with its backlinks filled in.
func (ix *Indexer) GetPage(path string) (*models.Page, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	page, ok := ix.pages[path]
	if !ok {
		return nil, apperr.NewPathError(apperr.ErrFileNotFound, path)
	}
	cp := *page
	cp.Tags = append([]string(nil), page.Tags...)
	cp.Links = append([]models.Link(nil), page.Links...)
	cp.Backlinks = sortedKeys(ix.backlinks[path])
	return &cp, nil
}

// HasPage reports whether path is indexed.
func (ix *Indexer) HasPage(path string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.pages[path]
	return ok
}

// GetAllPages lists every page sorted by title.
func (ix *Indexer) GetAllPages() []models.PageHeader {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]models.PageHeader, 0, len(ix.pages))
	for _, p := range ix.pages {
		out = append(out, p.Header())
	}
	sort.Slice(out, func(i, j int) bool { return lessByTitle(out[i], out[j]) })
	return out
}

// BacklinkPaths returns the sorted source paths linking to path.
func (ix *Indexer) BacklinkPaths(path string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return sortedKeys(ix.backlinks[path])
}

// GetBacklinks returns the pages linking to path with their link counts.
func (ix *Indexer) GetBacklinks(path string) []models.Backlink {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]models.Backlink, 0, len(ix.backlinks[path]))
	for src := range ix.backlinks[path] {
		page := ix.pages[src]
		out = append(out, models.Backlink{
			Title: page.Title,
			Path:  src,
			Count: len(ix.graph[src][path]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return lessByTitle(models.PageHeader{Title: out[i].Title, Path: out[i].Path},
			models.PageHeader{Title: out[j].Title, Path: out[j].Path})
	})
	return out
}

// GetAllTags returns tags sorted by name, each with its pages sorted by title.
func (ix *Indexer) GetAllTags() []models.TagGroup {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]models.TagGroup, 0, len(ix.tags))
	for tag, paths := range ix.tags {
		group := models.TagGroup{Tag: tag, Pages: make([]models.PageHeader, 0, len(paths))}
		for p := range paths {
			group.Pages = append(group.Pages, ix.pages[p].Header())
		}
		sort.Slice(group.Pages, func(i, j int) bool { return lessByTitle(group.Pages[i], group.Pages[j]) })
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// GetAllBrokenLinks aggregates unresolved links by target name. Names that
// differ only in case share one entry, shown with the spelling found first.
// Sources are sorted by title and entries by target.
func (ix *Indexer) GetAllBrokenLinks() []models.BrokenLink {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	paths := make([]string, 0, len(ix.pages))
	for p := range ix.pages {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	type entry struct {
		target  string
		sources map[string]models.PageHeader
	}
	byKey := make(map[string]*entry)
	for _, src := range paths {
		page := ix.pages[src]
		for _, link := range page.Links {
			key := parser.NormalizeTarget(link.Target)
			if _, ok := ix.resolver[key]; ok {
				continue
			}
			e, ok := byKey[key]
			if !ok {
				e = &entry{target: strings.TrimSpace(link.Target), sources: map[string]models.PageHeader{}}
				byKey[key] = e
			}
			e.sources[src] = page.Header()
		}
	}

	out := make([]models.BrokenLink, 0, len(byKey))
	for _, e := range byKey {
		bl := models.BrokenLink{Target: e.target, Sources: make([]models.PageHeader, 0, len(e.sources))}
		for _, h := range e.sources {
			bl.Sources = append(bl.Sources, h)
		}
		sort.Slice(bl.Sources, func(i, j int) bool { return lessByTitle(bl.Sources[i], bl.Sources[j]) })
		out = append(out, bl)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Target) < strings.ToLower(out[j].Target)
	})
	return out
}

// GetGraph returns every page as a node and every resolved edge with its
// link count.
func (ix *Indexer) GetGraph() models.Graph {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	g := models.Graph{
		Nodes: make([]models.PageHeader, 0, len(ix.pages)),
		Edges: []models.GraphEdge{},
	}
	for _, p := range ix.pages {
		g.Nodes = append(g.Nodes, p.Header())
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].Path < g.Nodes[j].Path })
	for src, targets := range ix.graph {
		for dst, links := range targets {
			g.Edges = append(g.Edges, models.GraphEdge{Source: src, Target: dst, Count: len(links)})
		}
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].Source != g.Edges[j].Source {
			return g.Edges[i].Source < g.Edges[j].Source
		}
		return g.Edges[i].Target < g.Edges[j].Target
	})
	return g
}

// Snapshot returns the indexed pages sorted by path. Pages are shared, not
// copied, and must not be modified; their Backlinks field is not populated.
func (ix *Indexer) Snapshot() []*models.Page {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*models.Page, 0, len(ix.pages))
	for _, p := range ix.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// GetFileTree walks the vault root. Hidden entries are skipped and only
// directories, markdown files and images are listed; directories sort
// before files, then by name.
func (ix *Indexer) GetFileTree() (*models.FileNode, error) {
	root := ix.Root()
	if root == "" {
		return nil, apperr.ErrVaultNotInitialized
	}
	return buildTree(root, filepath.Base(root))
}

// GetAllDirectoryPaths returns the root followed by every directory of the
// file tree in depth-first order.
func (ix *Indexer) GetAllDirectoryPaths() ([]string, error) {
	tree, err := ix.GetFileTree()
	if err != nil {
		return nil, err
	}
	dirs := []string{tree.Path}
	var walk func(n *models.FileNode)
	walk = func(n *models.FileNode) {
		for _, c := range n.Children {
			if c.Type == models.FileTypeDirectory {
				dirs = append(dirs, c.Path)
				walk(c)
			}
		}
	}
	walk(tree)
	return dirs, nil
}

var fileTypeOrder = map[models.FileType]int{
	models.FileTypeDirectory: 0,
	models.FileTypeMarkdown:  1,
	models.FileTypeImage:     1,
}

func buildTree(path, name string) (*models.FileNode, error) {
	node := &models.FileNode{Name: name, Path: path, Type: models.FileTypeDirectory, Children: []*models.FileNode{}}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("index: read dir %s: %w", path, err)
	}
	for _, e := range entries {
		if parser.IsHidden(e.Name()) {
			continue
		}
		child := filepath.Join(path, e.Name())
		switch {
		case e.IsDir():
			sub, err := buildTree(child, e.Name())
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, sub)
		case parser.IsMarkdown(child):
			node.Children = append(node.Children, &models.FileNode{Name: parser.Stem(child), Path: child, Type: models.FileTypeMarkdown})
		case parser.IsImage(child):
			node.Children = append(node.Children, &models.FileNode{Name: e.Name(), Path: child, Type: models.FileTypeImage})
		}
	}

	sort.SliceStable(node.Children, func(i, j int) bool {
		a, b := node.Children[i], node.Children[j]
		if fileTypeOrder[a.Type] != fileTypeOrder[b.Type] {
			return fileTypeOrder[a.Type] < fileTypeOrder[b.Type]
		}
		return a.Name < b.Name
	})
	return node, nil
}

func sortedKeys(set pathSet) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
