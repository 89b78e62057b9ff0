// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the vault index and its file operations for LLM
// integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/maxthraxx/chronicler/internal/catalog"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/world"
)

const contractURI = "vault://page-format"

// Vault is the engine surface the tools use. *world.World implements it.
type Vault interface {
	Relative(abs string) string
	GetAllPages() ([]models.PageHeader, error)
	GetPage(path string) (*world.PageView, error)
	GetBacklinks(path string) ([]models.Backlink, error)
	GetAllTags() ([]models.TagGroup, error)
	GetAllBrokenLinks() ([]models.BrokenLink, error)
	Search(query string, limit int) ([]catalog.SearchResult, error)
	CreateNewFile(parentDir, name string) (models.PageHeader, error)
	WritePageContent(path string, content []byte, ifMatch string) (string, error)
	RenamePath(path, newName string) (string, error)
	MovePath(path, destDir string) (string, error)
}

// Server wraps the MCP server with the vault tools.
type Server struct {
	mcp   *server.MCPServer
	vault Vault
}

// New creates a new MCP server with all tools registered.
func New(vault Vault, version string) *Server {
	s := &Server{vault: vault}

	s.mcp = server.NewMCPServer(
		"Chronicler",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List every indexed page as title and path, optionally limited to a folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read the full Markdown content of a page."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the page (e.g. lore/Dragons.md)")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all pages that link to the specified page, with link counts."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the page to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List every tag with the pages carrying it."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("get_broken_links",
		mcp.WithDescription("List link targets that resolve to no page, with the pages referencing them."),
	), s.getBrokenLinks)

	s.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a new page. Without content the page gets a title and tags template. "+
			"Content should follow the page format from the get_page_contract tool or the "+
			contractURI+" resource."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Page name; .md is appended when missing")),
		mcp.WithString("folder", mcp.Description("Folder to create the page in (empty for the vault root)")),
		mcp.WithString("content", mcp.Description("Optional Markdown content replacing the template")),
	), s.createPage)

	s.mcp.AddTool(mcp.NewTool("rename_page",
		mcp.WithDescription("Rename a page or folder in place. Links to a renamed page are rewritten across the vault."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Current path")),
		mcp.WithString("new_name", mcp.Required(), mcp.Description("New file or folder name")),
	), s.renamePage)

	s.mcp.AddTool(mcp.NewTool("move_page",
		mcp.WithDescription("Move a page or folder into another folder. Links to a moved page are rewritten."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Current path")),
		mcp.WithString("dest_dir", mcp.Description("Destination folder (empty for the vault root)")),
	), s.movePage)

	s.mcp.AddTool(mcp.NewTool("search_pages",
		mcp.WithDescription("Full-text search through page titles and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchPages)

	s.mcp.AddTool(mcp.NewTool("get_page_contract",
		mcp.WithDescription("Returns the page format the vault indexes. "+
			"Call this before creating or editing pages."),
	), s.getPageContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Page Format",
			mcp.WithResourceDescription("Markdown page format, wikilink syntax and tag rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) headers(hs []models.PageHeader) []models.PageHeader {
	out := make([]models.PageHeader, 0, len(hs))
	for _, h := range hs {
		out = append(out, models.PageHeader{Title: h.Title, Path: s.vault.Relative(h.Path)})
	}
	return out
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := strings.Trim(req.GetString("folder", ""), "/")
	pages, err := s.vault.GetAllPages()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := s.headers(pages)
	if folder != "" {
		kept := out[:0]
		for _, h := range out {
			if strings.HasPrefix(h.Path, folder+"/") {
				kept = append(kept, h)
			}
		}
		out = kept
	}
	return jsonResult(out)
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	view, err := s.vault.GetPage(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(view.Content), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bls, err := s.vault.GetBacklinks(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bls) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	for i := range bls {
		bls[i].Path = s.vault.Relative(bls[i].Path)
	}
	return jsonResult(bls)
}

func (s *Server) listTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups, err := s.vault.GetAllTags()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for i := range groups {
		groups[i].Pages = s.headers(groups[i].Pages)
	}
	return jsonResult(groups)
}

func (s *Server) getBrokenLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	broken, err := s.vault.GetAllBrokenLinks()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(broken) == 0 {
		return mcp.NewToolResultText("no broken links"), nil
	}
	for i := range broken {
		broken[i].Sources = s.headers(broken[i].Sources)
	}
	return jsonResult(broken)
}

func (s *Server) createPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	header, err := s.vault.CreateNewFile(req.GetString("folder", ""), name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if content := req.GetString("content", ""); content != "" {
		if _, err := s.vault.WritePageContent(header.Path, []byte(content), ""); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	return mcp.NewToolResultText("created: " + s.vault.Relative(header.Path)), nil
}

func (s *Server) renamePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newName, err := req.RequireString("new_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newPath, err := s.vault.RenamePath(path, newName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("renamed to: " + s.vault.Relative(newPath)), nil
}

func (s *Server) movePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newPath, err := s.vault.MovePath(path, req.GetString("dest_dir", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("moved to: " + s.vault.Relative(newPath)), nil
}

func (s *Server) searchPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.vault.Search(query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for i := range results {
		results[i].Path = s.vault.Relative(results[i].Path)
	}
	return jsonResult(results)
}

func (s *Server) getPageContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PageFormatContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}
