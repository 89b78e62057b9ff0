package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maxthraxx/chronicler/internal/apperr"
	"github.com/maxthraxx/chronicler/internal/catalog"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/world"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 10 << 20

// Vault is the engine surface the handlers use. *world.World implements it.
type Vault interface {
	Relative(abs string) string
	ResolveLink(target string) (string, bool, error)

	GetAllPages() ([]models.PageHeader, error)
	GetPage(path string) (*world.PageView, error)
	GetBacklinks(path string) ([]models.Backlink, error)
	GetAllTags() ([]models.TagGroup, error)
	GetAllBrokenLinks() ([]models.BrokenLink, error)
	GetFileTree() (*models.FileNode, error)
	GetAllDirectoryPaths() ([]string, error)
	GetGraph() (models.Graph, error)
	Search(query string, limit int) ([]catalog.SearchResult, error)

	CreateNewFile(parentDir, name string) (models.PageHeader, error)
	CreateNewFolder(parentDir, name string) (string, error)
	DeletePath(path string) error
	WritePageContent(path string, content []byte, ifMatch string) (string, error)
	DuplicatePage(path string) (models.PageHeader, error)
	RenamePath(path, newName string) (string, error)
	MovePath(path, destDir string) (string, error)
	Rescan() error
}

// Handler holds API route handlers.
type Handler struct {
	svc    Vault
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc Vault, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// vaultPath extracts the wildcard path from the URL. It supports encoded
// slashes from OpenAPI clients (e.g. lore%2FDragons.md).
func vaultPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decodeBody reads a JSON request body into v. It writes the error response
// itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large"))
		} else {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		}
		return false
	}
	return true
}

// fail maps an engine error to its HTTP status. Unexpected errors are
// logged; a critical inconsistency is logged at error level with its full
// rollback detail.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var status int
	var code, msg string
	switch {
	case errors.Is(err, apperr.ErrCriticalInconsistency):
		h.logger.Error("api: critical inconsistency", slog.String("op", op), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorCode("critical_inconsistency", "critical inconsistency, vault needs attention"))
		return
	case errors.Is(err, apperr.ErrVaultNotInitialized):
		status, code, msg = http.StatusServiceUnavailable, "vault_not_initialized", "vault not initialized"
	case errors.Is(err, world.ErrSearchUnavailable):
		status, code, msg = http.StatusServiceUnavailable, "search_unavailable", "search unavailable"
	case errors.Is(err, apperr.ErrNotFound):
		status, code, msg = http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, apperr.ErrAlreadyExists):
		status, code, msg = http.StatusConflict, "already_exists", "already exists"
	case errors.Is(err, apperr.ErrConflict):
		status, code, msg = http.StatusConflict, "conflict", "checksum mismatch"
	case errors.Is(err, apperr.ErrNotADirectory):
		status, code, msg = http.StatusBadRequest, "not_a_directory", "not a directory"
	case errors.Is(err, apperr.ErrInvalidPath):
		status, code, msg = http.StatusBadRequest, "invalid_path", "invalid path"
	case errors.Is(err, apperr.ErrFileTooLarge):
		status, code, msg = http.StatusRequestEntityTooLarge, "file_too_large", "file too large"
	default:
		h.logger.Error("api: "+op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorCode(code, msg))
}

func (h *Handler) resolveLink(l models.Link) string {
	p, ok, err := h.svc.ResolveLink(l.Target)
	if err != nil || !ok {
		return ""
	}
	return p
}

// ListPages handles GET /api/pages.
//
//	@Summary		List every indexed page
//	@Tags			pages
//	@Produce		json
//	@Success		200	{object}	PageListResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.svc.GetAllPages()
	if err != nil {
		h.fail(w, "list pages", err)
		return
	}
	writeJSON(w, http.StatusOK, PageListResponse{
		Pages: toHeaders(pages, h.svc.Relative),
		Total: len(pages),
	})
}

// GetPage handles GET /api/pages/*.
//
//	@Summary		Get a page with its content, links and backlinks
//	@Tags			pages
//	@Produce		json
//	@Param			path	path		string	true	"Page path"
//	@Success		200		{object}	PageDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{path} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	path := vaultPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	view, err := h.svc.GetPage(path)
	if err != nil {
		h.fail(w, "get page", err)
		return
	}
	w.Header().Set("ETag", `"`+view.Checksum+`"`)
	writeJSON(w, http.StatusOK, toPageDetail(view, h.resolveLink, h.svc.Relative))
}

// UpdatePage handles PUT /api/pages/*.
//
//	@Summary		Replace a page's content with optimistic concurrency
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			path		path	string				true	"Page path"
//	@Param			If-Match	header	string				false	"SHA-256 checksum of the content being replaced"
//	@Param			body		body	UpdatePageRequest	true	"New content"
//	@Success		200		{object}	WriteResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{path} [put]
func (h *Handler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	path := vaultPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdatePageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// The If-Match value may be a quoted ETag; the writer normalizes it.
	sum, err := h.svc.WritePageContent(path, []byte(req.Content), r.Header.Get("If-Match"))
	if err != nil {
		h.fail(w, "update page", err)
		return
	}
	w.Header().Set("ETag", `"`+sum+`"`)
	writeJSON(w, http.StatusOK, WriteResponse{Path: path, Checksum: sum})
}

// GetBacklinks handles GET /api/backlinks/*.
//
//	@Summary		List the pages linking to a page
//	@Tags			pages
//	@Produce		json
//	@Param			path	path		string	true	"Page path"
//	@Success		200		{array}		Backlink
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backlinks/{path} [get]
func (h *Handler) GetBacklinks(w http.ResponseWriter, r *http.Request) {
	path := vaultPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	bls, err := h.svc.GetBacklinks(path)
	if err != nil {
		h.fail(w, "get backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, toBacklinks(bls, h.svc.Relative))
}

// Tags handles GET /api/tags.
//
//	@Summary		List tags with the pages carrying them
//	@Tags			index
//	@Produce		json
//	@Success		200	{array}	TagGroup
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.GetAllTags()
	if err != nil {
		h.fail(w, "tags", err)
		return
	}
	writeJSON(w, http.StatusOK, toTagGroups(groups, h.svc.Relative))
}

// BrokenLinks handles GET /api/broken-links.
//
//	@Summary		List link targets that resolve to no page
//	@Tags			index
//	@Produce		json
//	@Success		200	{array}	BrokenLink
//	@Security		BearerAuth
//	@Router			/broken-links [get]
func (h *Handler) BrokenLinks(w http.ResponseWriter, r *http.Request) {
	bls, err := h.svc.GetAllBrokenLinks()
	if err != nil {
		h.fail(w, "broken links", err)
		return
	}
	writeJSON(w, http.StatusOK, toBrokenLinks(bls, h.svc.Relative))
}

// Tree handles GET /api/tree.
//
//	@Summary		Get the vault file tree
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	FileNode
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	root, err := h.svc.GetFileTree()
	if err != nil {
		h.fail(w, "tree", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileNode(root, h.svc.Relative))
}

// Directories handles GET /api/directories.
func (h *Handler) Directories(w http.ResponseWriter, r *http.Request) {
	dirs, err := h.svc.GetAllDirectoryPaths()
	if err != nil {
		h.fail(w, "directories", err)
		return
	}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, h.svc.Relative(d))
	}
	writeJSON(w, http.StatusOK, DirectoryListResponse{Directories: out})
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the resolved link graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.GetGraph()
	if err != nil {
		h.fail(w, "graph", err)
		return
	}
	writeJSON(w, http.StatusOK, toGraph(g, h.svc.Relative))
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across pages
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(q, limit)
	if err != nil {
		h.fail(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: toSearchResults(results, h.svc.Relative)})
}

// CreateFile handles POST /api/files.
//
//	@Summary		Create a page from the new-page template
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateRequest	true	"Parent folder and page name"
//	@Success		201		{object}	PageHeader
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/files [post]
func (h *Handler) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	header, err := h.svc.CreateNewFile(req.Parent, req.Name)
	if err != nil {
		h.fail(w, "create file", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHeader(header, h.svc.Relative))
}

// CreateFolder handles POST /api/folders.
//
//	@Summary		Create a folder
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateRequest	true	"Parent folder and folder name"
//	@Success		201		{object}	PathResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders [post]
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	path, err := h.svc.CreateNewFolder(req.Parent, req.Name)
	if err != nil {
		h.fail(w, "create folder", err)
		return
	}
	writeJSON(w, http.StatusCreated, PathResponse{Path: h.svc.Relative(path)})
}

// DeletePath handles DELETE /api/paths/*.
//
//	@Summary		Delete a page or a folder with its contents
//	@Tags			files
//	@Param			path	path	string	true	"Page or folder path"
//	@Success		204		"Deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/paths/{path} [delete]
func (h *Handler) DeletePath(w http.ResponseWriter, r *http.Request) {
	path := vaultPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeletePath(path); err != nil {
		h.fail(w, "delete path", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rename handles POST /api/rename.
//
//	@Summary		Rename a page or folder, rewriting links to a renamed page
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenameRequest	true	"Path and new name"
//	@Success		200		{object}	PathResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rename [post]
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" || req.NewName == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and new_name are required"))
		return
	}
	path, err := h.svc.RenamePath(req.Path, req.NewName)
	if err != nil {
		h.fail(w, "rename", err)
		return
	}
	writeJSON(w, http.StatusOK, PathResponse{Path: h.svc.Relative(path)})
}

// Move handles POST /api/move.
//
//	@Summary		Move a page or folder into another folder
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MoveRequest	true	"Path and destination folder"
//	@Success		200		{object}	PathResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/move [post]
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	path, err := h.svc.MovePath(req.Path, req.DestDir)
	if err != nil {
		h.fail(w, "move", err)
		return
	}
	writeJSON(w, http.StatusOK, PathResponse{Path: h.svc.Relative(path)})
}

// Duplicate handles POST /api/duplicate.
//
//	@Summary		Copy a page next to itself
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PathRequest	true	"Page to copy"
//	@Success		201		{object}	PageHeader
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/duplicate [post]
func (h *Handler) Duplicate(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	header, err := h.svc.DuplicatePage(req.Path)
	if err != nil {
		h.fail(w, "duplicate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHeader(header, h.svc.Relative))
}

// Rescan handles POST /api/rescan.
func (h *Handler) Rescan(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Rescan(); err != nil {
		h.fail(w, "rescan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
