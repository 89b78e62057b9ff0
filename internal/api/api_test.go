package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maxthraxx/chronicler/internal/testutil"
	"github.com/maxthraxx/chronicler/internal/world"
)

// testEnv opens files as a vault and returns it with a router. An empty
// authToken disables auth.
func testEnv(t *testing.T, authToken string, files map[string]string) (string, http.Handler) {
	t.Helper()
	root := testutil.WriteVault(t, files)
	w := world.New(world.Options{Logger: testutil.Logger()})
	if err := w.Open(context.Background(), root); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(w.Close)
	r, err := w.Root()
	if err != nil {
		t.Fatal(err)
	}
	return r, NewRouter(w, authToken != "", authToken, nil, testutil.Logger())
}

func do(t *testing.T, router http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

var lore = map[string]string{
	"Index.md":        "---\ntitle: Home\n---\nSee [[Dragons#Habitat|wyrms]] and [[Missing]].",
	"lore/Dragons.md": "#creature\nBig.",
	"lore/Kobolds.md": "Small, unlike [[Dragons]].",
	"assets/map.png":  "png",
}

func TestGetPage(t *testing.T) {
	_, router := testEnv(t, "", lore)

	w := do(t, router, http.MethodGet, "/pages/Index.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	page := decode[PageDetail](t, w)
	if page.Path != "Index.md" || page.Title != "Home" {
		t.Errorf("page = %q %q", page.Path, page.Title)
	}
	if w.Header().Get("ETag") != `"`+page.Checksum+`"` {
		t.Errorf("ETag = %q, checksum %q", w.Header().Get("ETag"), page.Checksum)
	}
	if len(page.Links) != 2 {
		t.Fatalf("links = %+v", page.Links)
	}
	if l := page.Links[0]; l.Target != "Dragons" || l.Section != "Habitat" || l.Alias != "wyrms" || l.Resolved != "lore/Dragons.md" {
		t.Errorf("first link = %+v", l)
	}
	if l := page.Links[1]; l.Resolved != "" {
		t.Errorf("broken link resolved to %q", l.Resolved)
	}

	// Encoded slashes are accepted.
	w = do(t, router, http.MethodGet, "/pages/lore%2FDragons.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("encoded get = %d", w.Code)
	}
	dragons := decode[PageDetail](t, w)
	if len(dragons.Backlinks) != 2 {
		t.Errorf("backlinks = %+v", dragons.Backlinks)
	}
	if len(dragons.Tags) != 1 || dragons.Tags[0] != "creature" {
		t.Errorf("tags = %v", dragons.Tags)
	}
}

func TestGetPage_NotFound(t *testing.T) {
	_, router := testEnv(t, "", lore)
	w := do(t, router, http.MethodGet, "/pages/nope.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if body := decode[errResponse](t, w); body.Code != "not_found" {
		t.Errorf("code = %q", body.Code)
	}
	w = do(t, router, http.MethodGet, "/backlinks/nope.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("backlinks status = %d, want 404", w.Code)
	}
}

func TestVaultNotOpen(t *testing.T) {
	router := NewRouter(world.New(world.Options{Logger: testutil.Logger()}), false, "", nil, testutil.Logger())
	for _, target := range []string{"/pages", "/tags", "/tree", "/graph", "/broken-links"} {
		w := do(t, router, http.MethodGet, target, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", target, w.Code)
		}
	}
}

func TestListViews(t *testing.T) {
	_, router := testEnv(t, "", lore)

	list := decode[PageListResponse](t, do(t, router, http.MethodGet, "/pages", nil))
	if list.Total != 3 {
		t.Errorf("total = %d", list.Total)
	}

	tags := decode[[]TagGroup](t, do(t, router, http.MethodGet, "/tags", nil))
	if len(tags) != 1 || tags[0].Tag != "creature" || tags[0].Pages[0].Path != "lore/Dragons.md" {
		t.Errorf("tags = %+v", tags)
	}

	broken := decode[[]BrokenLink](t, do(t, router, http.MethodGet, "/broken-links", nil))
	if len(broken) != 1 || broken[0].Target != "Missing" || broken[0].Sources[0].Path != "Index.md" {
		t.Errorf("broken = %+v", broken)
	}

	graph := decode[GraphResponse](t, do(t, router, http.MethodGet, "/graph", nil))
	if len(graph.Nodes) != 3 || len(graph.Edges) != 2 {
		t.Errorf("graph = %+v", graph)
	}

	tree := decode[FileNode](t, do(t, router, http.MethodGet, "/tree", nil))
	if tree.Path != "." || tree.Type != "directory" {
		t.Errorf("tree root = %+v", tree)
	}

	dirs := decode[DirectoryListResponse](t, do(t, router, http.MethodGet, "/directories", nil))
	if strings.Join(dirs.Directories, ",") != ".,assets,lore" {
		t.Errorf("directories = %v", dirs.Directories)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	_, router := testEnv(t, "", lore)

	page := decode[PageDetail](t, do(t, router, http.MethodGet, "/pages/Index.md", nil))

	w := do(t, router, http.MethodPut, "/pages/Index.md", UpdatePageRequest{Content: "v2"}, "If-Match", `"stale"`)
	if w.Code != http.StatusConflict {
		t.Fatalf("stale update = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodPut, "/pages/Index.md", UpdatePageRequest{Content: "v2 [[Kobolds]]"}, "If-Match", `"`+page.Checksum+`"`)
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[WriteResponse](t, w)
	if res.Checksum == page.Checksum {
		t.Error("checksum did not change")
	}

	// The index reflects the write before the response returns.
	updated := decode[PageDetail](t, do(t, router, http.MethodGet, "/pages/Index.md", nil))
	if updated.Content != "v2 [[Kobolds]]" || len(updated.Links) != 1 || updated.Links[0].Resolved != "lore/Kobolds.md" {
		t.Errorf("updated = %+v", updated)
	}
}

func TestUpdateWithoutIfMatch(t *testing.T) {
	_, router := testEnv(t, "", lore)
	w := do(t, router, http.MethodPut, "/pages/lore/Dragons.md", UpdatePageRequest{Content: "new"})
	if w.Code != http.StatusOK {
		t.Errorf("update = %d, want 200", w.Code)
	}
}

func TestUpdatePage_NotMarkdown(t *testing.T) {
	_, router := testEnv(t, "", lore)
	w := do(t, router, http.MethodPut, "/pages/assets/map.png", UpdatePageRequest{Content: "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateFileAndFolder(t *testing.T) {
	root, router := testEnv(t, "", lore)

	w := do(t, router, http.MethodPost, "/files", CreateRequest{Parent: "lore", Name: "Giants"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	if h := decode[PageHeader](t, w); h.Path != "lore/Giants.md" || h.Title != "Giants" {
		t.Errorf("header = %+v", h)
	}
	if got := testutil.ReadFile(t, filepath.Join(root, "lore", "Giants.md")); !strings.Contains(got, "title: Giants") {
		t.Errorf("content = %q", got)
	}

	w = do(t, router, http.MethodPost, "/files", CreateRequest{Parent: "lore", Name: "Giants.md"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodPost, "/folders", CreateRequest{Name: "maps"})
	if w.Code != http.StatusCreated {
		t.Fatalf("folder = %d", w.Code)
	}
	if p := decode[PathResponse](t, w); p.Path != "maps" {
		t.Errorf("folder path = %q", p.Path)
	}

	w = do(t, router, http.MethodPost, "/files", CreateRequest{Parent: "../outside", Name: "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("escape = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPost, "/files", CreateRequest{Parent: "lore"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name = %d, want 400", w.Code)
	}
}

func TestRenameRewritesLinks(t *testing.T) {
	root, router := testEnv(t, "", lore)

	w := do(t, router, http.MethodPost, "/rename", RenameRequest{Path: "lore/Dragons.md", NewName: "Wyrms"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename = %d, body = %s", w.Code, w.Body.String())
	}
	if p := decode[PathResponse](t, w); p.Path != "lore/Wyrms.md" {
		t.Errorf("new path = %q", p.Path)
	}
	got := testutil.ReadFile(t, filepath.Join(root, "Index.md"))
	if !strings.Contains(got, "[[Wyrms#Habitat|wyrms]]") {
		t.Errorf("Index.md = %q", got)
	}
	bls := decode[[]Backlink](t, do(t, router, http.MethodGet, "/backlinks/lore/Wyrms.md", nil))
	if len(bls) != 2 {
		t.Errorf("backlinks = %+v", bls)
	}

	w = do(t, router, http.MethodPost, "/rename", RenameRequest{Path: "lore/Kobolds.md", NewName: "Wyrms"})
	if w.Code != http.StatusConflict {
		t.Errorf("rename onto existing = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPost, "/rename", RenameRequest{Path: "lore/Gone.md", NewName: "X"})
	if w.Code != http.StatusNotFound {
		t.Errorf("rename missing = %d, want 404", w.Code)
	}
}

func TestMoveAndDuplicate(t *testing.T) {
	_, router := testEnv(t, "", lore)

	w := do(t, router, http.MethodPost, "/move", MoveRequest{Path: "lore/Kobolds.md", DestDir: "assets"})
	if w.Code != http.StatusOK {
		t.Fatalf("move = %d, body = %s", w.Code, w.Body.String())
	}
	if p := decode[PathResponse](t, w); p.Path != "assets/Kobolds.md" {
		t.Errorf("moved to %q", p.Path)
	}

	w = do(t, router, http.MethodPost, "/duplicate", PathRequest{Path: "assets/Kobolds.md"})
	if w.Code != http.StatusCreated {
		t.Fatalf("duplicate = %d, body = %s", w.Code, w.Body.String())
	}
	if h := decode[PageHeader](t, w); h.Path != "assets/Kobolds 1.md" {
		t.Errorf("copy = %+v", h)
	}
}

func TestDeletePath(t *testing.T) {
	_, router := testEnv(t, "", lore)

	w := do(t, router, http.MethodDelete, "/paths/lore", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/pages/lore/Dragons.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	broken := decode[[]BrokenLink](t, do(t, router, http.MethodGet, "/broken-links", nil))
	if len(broken) != 2 {
		t.Errorf("broken = %+v", broken)
	}

	w = do(t, router, http.MethodDelete, "/paths/lore", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestInvalidBody(t *testing.T) {
	_, router := testEnv(t, "", lore)
	req := httptest.NewRequest(http.MethodPost, "/rename", strings.NewReader("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSearch(t *testing.T) {
	_, router := testEnv(t, "", lore)
	w := do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodGet, "/search?q=dragons", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("no catalog = %d, want 503", w.Code)
	}
}

func TestRescan(t *testing.T) {
	root, router := testEnv(t, "", lore)
	testutil.WriteFile(t, filepath.Join(root, "Late.md"), "late")
	w := do(t, router, http.MethodPost, "/rescan", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("rescan = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/pages/Late.md", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get after rescan = %d", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123", lore)
	w := do(t, router, http.MethodGet, "/pages", nil, "Authorization", "Bearer secret123")
	if w.Code != http.StatusOK {
		t.Errorf("authed = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123", lore)
	w := do(t, router, http.MethodGet, "/pages", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123", lore)
	w := do(t, router, http.MethodGet, "/pages", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "", lore)
	w := do(t, router, http.MethodGet, "/pages", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	sse := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router := NewRouter(world.New(world.Options{}), true, "tok", sse, testutil.Logger())

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
	w = do(t, router, http.MethodGet, "/events", nil, "Authorization", "Bearer tok")
	if w.Code != http.StatusOK {
		t.Errorf("SSE with token = %d, want 200", w.Code)
	}
}
