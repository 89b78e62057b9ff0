// Package models defines the domain types of the vault index.
package models

// Page is one markdown document plus its derived metadata. A Page is
// replaced wholesale on every re-parse and never mutated in place.
type Page struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Tags        []string       `json:"tags"`
	Links       []Link         `json:"links"`
	Backlinks   []string       `json:"backlinks"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
}

// Header returns the lightweight identity of p.
func (p *Page) Header() PageHeader {
	return PageHeader{Title: p.Title, Path: p.Path}
}

// Link is an outgoing wikilink as written in the source page. Target is
// the raw page name and is resolved to a path only by the index.
type Link struct {
	Target   string        `json:"target"`
	Section  string        `json:"section,omitempty"`
	Alias    string        `json:"alias,omitempty"`
	Position *LinkPosition `json:"position,omitempty"`
}

// LinkPosition is the 1-based line and column (in characters) of a link.
type LinkPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PageHeader identifies a page without its content.
type PageHeader struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}

// Backlink is a page linking to another, with the number of links it holds.
type Backlink struct {
	Title string `json:"title"`
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// BrokenLink groups every page referencing a target name that resolves nowhere.
type BrokenLink struct {
	Target  string       `json:"target"`
	Sources []PageHeader `json:"sources"`
}

// TagGroup lists the pages carrying a tag.
type TagGroup struct {
	Tag   string       `json:"tag"`
	Pages []PageHeader `json:"pages"`
}

// GraphEdge is a resolved link between two pages with its multiplicity.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Count  int    `json:"count"`
}

// Graph is the resolved link graph of the vault.
type Graph struct {
	Nodes []PageHeader `json:"nodes"`
	Edges []GraphEdge  `json:"edges"`
}

// FileType classifies a FileNode.
type FileType string

const (
	FileTypeDirectory FileType = "directory"
	FileTypeMarkdown  FileType = "markdown"
	FileTypeImage     FileType = "image"
)

// FileNode is an entry of the vault file tree.
type FileNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     FileType    `json:"type"`
	Children []*FileNode `json:"children,omitempty"`
}
