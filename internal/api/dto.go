package api

import (
	"github.com/maxthraxx/chronicler/internal/catalog"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/world"
)

// All paths in requests and responses are vault-relative with forward
// slashes.

// CreateRequest is the request body for creating a page or a folder.
type CreateRequest struct {
	Parent string `json:"parent" example:"lore"`
	Name   string `json:"name" example:"Dragons" validate:"required"`
}

// UpdatePageRequest is the request body for replacing a page's content.
type UpdatePageRequest struct {
	Content string `json:"content" example:"---\ntitle: Dragons\n---\n" validate:"required"`
}

// RenameRequest is the request body for renaming a page or folder.
type RenameRequest struct {
	Path    string `json:"path" example:"lore/Dragons.md" validate:"required"`
	NewName string `json:"new_name" example:"Wyrms" validate:"required"`
}

// MoveRequest is the request body for moving a page or folder.
type MoveRequest struct {
	Path    string `json:"path" example:"lore/Dragons.md" validate:"required"`
	DestDir string `json:"dest_dir" example:"bestiary"`
}

// PathRequest is a request body naming a single path.
type PathRequest struct {
	Path string `json:"path" example:"lore/Dragons.md" validate:"required"`
}

// PathResponse reports the path an operation produced.
type PathResponse struct {
	Path string `json:"path" example:"bestiary/Wyrms.md" validate:"required"`
}

// WriteResponse is returned after a page's content was replaced.
type WriteResponse struct {
	Path     string `json:"path" example:"lore/Dragons.md" validate:"required"`
	Checksum string `json:"checksum" example:"e3b0c44298fc1c14..." validate:"required"`
}

// PageHeader identifies a page.
type PageHeader struct {
	Title string `json:"title" example:"Dragons" validate:"required"`
	Path  string `json:"path" example:"lore/Dragons.md" validate:"required"`
}

// PageListResponse wraps page listings.
type PageListResponse struct {
	Pages []PageHeader `json:"pages" validate:"required"`
	Total int          `json:"total" example:"42" validate:"required"`
}

// Link is an outgoing wikilink of a page.
type Link struct {
	Target   string `json:"target" example:"Wyrms" validate:"required"`
	Section  string `json:"section,omitempty" example:"Habitat"`
	Alias    string `json:"alias,omitempty" example:"the old ones"`
	Resolved string `json:"resolved,omitempty" example:"bestiary/Wyrms.md"`
	Line     int    `json:"line,omitempty" example:"3"`
	Column   int    `json:"column,omitempty" example:"12"`
}

// Backlink is a page linking to another, with its link count.
type Backlink struct {
	Title string `json:"title" example:"Index" validate:"required"`
	Path  string `json:"path" example:"Index.md" validate:"required"`
	Count int    `json:"count" example:"2" validate:"required"`
}

// PageDetail is the full page response.
type PageDetail struct {
	Path        string         `json:"path" example:"lore/Dragons.md" validate:"required"`
	Title       string         `json:"title" example:"Dragons" validate:"required"`
	Tags        []string       `json:"tags" validate:"required"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Links       []Link         `json:"links" validate:"required"`
	Backlinks   []Backlink     `json:"backlinks" validate:"required"`
	Content     string         `json:"content" validate:"required"`
	Checksum    string         `json:"checksum" validate:"required"`
}

// TagGroup lists the pages carrying a tag.
type TagGroup struct {
	Tag   string       `json:"tag" example:"creature" validate:"required"`
	Pages []PageHeader `json:"pages" validate:"required"`
}

// BrokenLink groups the pages referencing a target that resolves nowhere.
type BrokenLink struct {
	Target  string       `json:"target" example:"Unwritten" validate:"required"`
	Sources []PageHeader `json:"sources" validate:"required"`
}

// FileNode is an entry of the vault file tree.
type FileNode struct {
	Name     string      `json:"name" example:"Dragons.md" validate:"required"`
	Path     string      `json:"path" example:"lore/Dragons.md" validate:"required"`
	Type     string      `json:"type" example:"markdown" validate:"required" enums:"directory,markdown,image"`
	Children []*FileNode `json:"children,omitempty"`
}

// DirectoryListResponse wraps the vault's directories. The root is ".".
type DirectoryListResponse struct {
	Directories []string `json:"directories" validate:"required"`
}

// GraphEdge is a resolved link between two pages.
type GraphEdge struct {
	Source string `json:"source" example:"Index.md" validate:"required"`
	Target string `json:"target" example:"lore/Dragons.md" validate:"required"`
	Count  int    `json:"count" example:"1" validate:"required"`
}

// GraphResponse wraps the resolved link graph.
type GraphResponse struct {
	Nodes []PageHeader `json:"nodes" validate:"required"`
	Edges []GraphEdge  `json:"edges" validate:"required"`
}

// SearchResult is a single search hit.
type SearchResult struct {
	Path    string `json:"path" example:"lore/Dragons.md" validate:"required"`
	Title   string `json:"title" example:"Dragons" validate:"required"`
	Snippet string `json:"snippet" example:"...the [old] ones..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// Conversions from the domain types. rel maps an absolute vault path to
// its relative form.

func toHeader(h models.PageHeader, rel func(string) string) PageHeader {
	return PageHeader{Title: h.Title, Path: rel(h.Path)}
}

func toHeaders(hs []models.PageHeader, rel func(string) string) []PageHeader {
	out := make([]PageHeader, 0, len(hs))
	for _, h := range hs {
		out = append(out, toHeader(h, rel))
	}
	return out
}

func toBacklinks(bls []models.Backlink, rel func(string) string) []Backlink {
	out := make([]Backlink, 0, len(bls))
	for _, b := range bls {
		out = append(out, Backlink{Title: b.Title, Path: rel(b.Path), Count: b.Count})
	}
	return out
}

func toPageDetail(v *world.PageView, resolve func(models.Link) string, rel func(string) string) PageDetail {
	links := make([]Link, 0, len(v.Page.Links))
	for _, l := range v.Page.Links {
		dl := Link{Target: l.Target, Section: l.Section, Alias: l.Alias}
		if p := resolve(l); p != "" {
			dl.Resolved = rel(p)
		}
		if l.Position != nil {
			dl.Line, dl.Column = l.Position.Line, l.Position.Column
		}
		links = append(links, dl)
	}
	tags := v.Page.Tags
	if tags == nil {
		tags = []string{}
	}
	return PageDetail{
		Path:        rel(v.Page.Path),
		Title:       v.Page.Title,
		Tags:        tags,
		Frontmatter: v.Page.Frontmatter,
		Links:       links,
		Backlinks:   toBacklinks(v.Backlinks, rel),
		Content:     v.Content,
		Checksum:    v.Checksum,
	}
}

func toTagGroups(gs []models.TagGroup, rel func(string) string) []TagGroup {
	out := make([]TagGroup, 0, len(gs))
	for _, g := range gs {
		out = append(out, TagGroup{Tag: g.Tag, Pages: toHeaders(g.Pages, rel)})
	}
	return out
}

func toBrokenLinks(bls []models.BrokenLink, rel func(string) string) []BrokenLink {
	out := make([]BrokenLink, 0, len(bls))
	for _, b := range bls {
		out = append(out, BrokenLink{Target: b.Target, Sources: toHeaders(b.Sources, rel)})
	}
	return out
}

func toFileNode(n *models.FileNode, rel func(string) string) *FileNode {
	out := &FileNode{Name: n.Name, Path: rel(n.Path), Type: string(n.Type)}
	for _, c := range n.Children {
		out.Children = append(out.Children, toFileNode(c, rel))
	}
	return out
}

func toGraph(g models.Graph, rel func(string) string) GraphResponse {
	edges := make([]GraphEdge, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, GraphEdge{Source: rel(e.Source), Target: rel(e.Target), Count: e.Count})
	}
	return GraphResponse{Nodes: toHeaders(g.Nodes, rel), Edges: edges}
}

func toSearchResults(rs []catalog.SearchResult, rel func(string) string) []SearchResult {
	out := make([]SearchResult, 0, len(rs))
	for _, r := range rs {
		out = append(out, SearchResult{Path: rel(r.Path), Title: r.Title, Snippet: r.Snippet})
	}
	return out
}
