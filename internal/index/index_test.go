package index

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/maxthraxx/chronicler/internal/apperr"
	"github.com/maxthraxx/chronicler/internal/events"
	"github.com/maxthraxx/chronicler/internal/models"
	"github.com/maxthraxx/chronicler/internal/testutil"
)

func scanned(t *testing.T, root string) *Indexer {
	t.Helper()
	ix := New(Options{Logger: testutil.Logger()})
	if err := ix.ScanVault(root); err != nil {
		t.Fatalf("ScanVault: %v", err)
	}
	return ix
}

func titles(headers []models.PageHeader) string {
	var out []string
	for _, h := range headers {
		out = append(out, h.Title)
	}
	return strings.Join(out, ",")
}

func TestScanVault_NotADirectory(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{"a.md": "x"})
	ix := New(Options{Logger: testutil.Logger()})
	err := ix.ScanVault(filepath.Join(root, "a.md"))
	if !errors.Is(err, apperr.ErrNotADirectory) {
		t.Fatalf("err = %v, want ErrNotADirectory", err)
	}
	if err := ix.ScanVault(filepath.Join(root, "missing")); !errors.Is(err, apperr.ErrNotADirectory) {
		t.Fatalf("missing root: err = %v", err)
	}
}

func TestScanVault_BrokenLinksScenario(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"Page One.md": "Links to [[Page Two]] and [[Missing Page]]",
		"Page Two.md": "Links to [[Another Missing Page]]",
	})
	ix := scanned(t, root)

	broken := ix.GetAllBrokenLinks()
	if len(broken) != 2 {
		t.Fatalf("broken = %+v, want 2 entries", broken)
	}
	if broken[0].Target != "Another Missing Page" || titles(broken[0].Sources) != "Page Two" {
		t.Errorf("broken[0] = %+v", broken[0])
	}
	if broken[1].Target != "Missing Page" || titles(broken[1].Sources) != "Page One" {
		t.Errorf("broken[1] = %+v", broken[1])
	}
}

func TestBrokenLinks_AggregatedPerTarget(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"b.md": "[[Ghost Page]] and again [[Ghost Page]]",
		"a.md": "[[ghost page]]",
	})
	ix := scanned(t, root)

	broken := ix.GetAllBrokenLinks()
	if len(broken) != 1 {
		t.Fatalf("broken = %+v, want one aggregated entry", broken)
	}
	if got := titles(broken[0].Sources); got != "a,b" {
		t.Errorf("sources = %s, want a,b", got)
	}
}

func TestScanVault_InvalidFrontmatterKeepsStub(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"Broken Meta.md": "---\ntitle: Fancy\ntags: [unclosed\n---\nBody [[Other]]\n",
		"Other.md":       "fine",
	})
	ix := scanned(t, root)

	if got := titles(ix.GetAllPages()); got != "Broken Meta,Other" {
		t.Fatalf("pages = %s", got)
	}
	page, err := ix.GetPage(filepath.Join(root, "Broken Meta.md"))
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Tags) != 0 || len(page.Links) != 0 || page.Frontmatter != nil {
		t.Errorf("stub page carries data: %+v", page)
	}
}

func TestScanVault_TooLargeFileIsStub(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"big.md": "---\ntags: [x]\n---\n" + strings.Repeat("a", 200),
	})
	ix := New(Options{MaxFileSize: 64, Logger: testutil.Logger()})
	if err := ix.ScanVault(root); err != nil {
		t.Fatal(err)
	}
	page, err := ix.GetPage(filepath.Join(root, "big.md"))
	if err != nil {
		t.Fatalf("big file missing from index: %v", err)
	}
	if page.Title != "big" || len(page.Tags) != 0 {
		t.Errorf("page = %+v, want stub", page)
	}
}

func TestScanVault_SkipsHiddenAndIgnored(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"visible.md":        "x",
		".obsidian/conf.md": "x",
		"dir/.hidden.md":    "x",
		"dir/~$lock.md":     "x",
		"notes.txt":         "x",
	})
	ix := New(Options{Ignore: []string{"**/~$*"}, Logger: testutil.Logger()})
	if err := ix.ScanVault(root); err != nil {
		t.Fatal(err)
	}
	if got := titles(ix.GetAllPages()); got != "visible" {
		t.Errorf("pages = %s, want visible only", got)
	}
}

func TestResolveLink_CaseInsensitive(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{"Page One.md": "x"})
	ix := scanned(t, root)

	want := filepath.Join(root, "Page One.md")
	for _, target := range []string{"page one", "Page One", "PAGE ONE", " Page One "} {
		got, ok := ix.ResolveLink(models.Link{Target: target})
		if !ok || got != want {
			t.Errorf("ResolveLink(%q) = (%q, %v), want %q", target, got, ok, want)
		}
	}
	if _, ok := ix.ResolveLink(models.Link{Target: "Page"}); ok {
		t.Error("partial names must not resolve")
	}
}

func TestBacklinksWithCounts(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"A.md": "[[B]] [[B#Intro]] [[b|bee]]",
		"C.md": "[[B]]",
		"B.md": "[[A]]",
	})
	ix := scanned(t, root)
	b := filepath.Join(root, "B.md")

	bl := ix.GetBacklinks(b)
	if len(bl) != 2 {
		t.Fatalf("backlinks = %+v", bl)
	}
	if bl[0].Title != "A" || bl[0].Count != 3 {
		t.Errorf("bl[0] = %+v, want A x3", bl[0])
	}
	if bl[1].Title != "C" || bl[1].Count != 1 {
		t.Errorf("bl[1] = %+v, want C x1", bl[1])
	}

	page, _ := ix.GetPage(b)
	if !reflect.DeepEqual(page.Backlinks, []string{filepath.Join(root, "A.md"), filepath.Join(root, "C.md")}) {
		t.Errorf("page backlinks = %v", page.Backlinks)
	}

	g := ix.GetGraph()
	if len(g.Nodes) != 3 || len(g.Edges) != 3 {
		t.Errorf("graph = %+v", g)
	}
}

func TestGetAllTags_Sorted(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"zeta.md":  "---\ntags: [npc, city]\n---\n",
		"Alpha.md": "---\ntags: [npc]\n---\n",
		"mid.md":   "---\ntags: [city]\n---\n",
	})
	ix := scanned(t, root)

	groups := ix.GetAllTags()
	if len(groups) != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Tag != "city" || titles(groups[0].Pages) != "mid,zeta" {
		t.Errorf("groups[0] = %+v", groups[0])
	}
	if groups[1].Tag != "npc" || titles(groups[1].Pages) != "Alpha,zeta" {
		t.Errorf("groups[1] = %+v", groups[1])
	}
}

func TestGetFileTree(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"b.md":           "x",
		"a.png":          "x",
		"notes.txt":      "x",
		".git/HEAD":      "x",
		"zdir/inner.md":  "x",
		"adir/deep/x.md": "x",
	})
	ix := New(Options{Logger: testutil.Logger()})
	if _, err := ix.GetFileTree(); !errors.Is(err, apperr.ErrVaultNotInitialized) {
		t.Fatalf("before scan: err = %v", err)
	}
	if err := ix.ScanVault(root); err != nil {
		t.Fatal(err)
	}

	tree, err := ix.GetFileTree()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, c := range tree.Children {
		names = append(names, fmt.Sprintf("%s:%s", c.Type, c.Name))
	}
	want := "directory:adir,directory:zdir,image:a.png,markdown:b"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("children = %s\nwant %s", got, want)
	}

	dirs, err := ix.GetAllDirectoryPaths()
	if err != nil {
		t.Fatal(err)
	}
	wantDirs := []string{root, filepath.Join(root, "adir"), filepath.Join(root, "adir", "deep"), filepath.Join(root, "zdir")}
	if !reflect.DeepEqual(dirs, wantDirs) {
		t.Errorf("dirs = %v\nwant %v", dirs, wantDirs)
	}
}

func TestFolderDeleteCascade(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"lore/Dragon.md":      "x",
		"lore/deep/Castle.md": "x",
		"lorem.md":            "[[Dragon]] [[Castle]]",
	})
	ix := scanned(t, root)
	if len(ix.GetAllBrokenLinks()) != 0 {
		t.Fatal("precondition: no broken links")
	}

	if err := os.RemoveAll(filepath.Join(root, "lore")); err != nil {
		t.Fatal(err)
	}
	ix.HandleEventAndRebuild(events.FolderDeleted{Dir: filepath.Join(root, "lore")})

	if got := titles(ix.GetAllPages()); got != "lorem" {
		t.Errorf("pages = %s, want only lorem (sibling prefix kept)", got)
	}
	broken := ix.GetAllBrokenLinks()
	if len(broken) != 2 {
		t.Errorf("broken = %+v, want Castle and Dragon", broken)
	}
}

func TestRename_FileReparsedAtDestination(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"A.md": "[[B]]",
		"B.md": "[[A]]",
	})
	ix := scanned(t, root)

	from, to := filepath.Join(root, "B.md"), filepath.Join(root, "B2.md")
	if err := os.Rename(from, to); err != nil {
		t.Fatal(err)
	}
	// Content drifted during the rename.
	testutil.WriteFile(t, to, "---\ntags: [moved]\n---\n[[A]]")
	ix.HandleEventAndRebuild(events.Renamed{From: from, To: to})

	if ix.HasPage(from) {
		t.Error("old path still indexed")
	}
	page, err := ix.GetPage(to)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Tags) != 1 || page.Tags[0] != "moved" {
		t.Errorf("page not re-parsed: %+v", page)
	}
	if bl := ix.BacklinkPaths(filepath.Join(root, "A.md")); len(bl) != 1 || bl[0] != to {
		t.Errorf("A backlinks = %v", bl)
	}
}

func TestRename_FolderRelocatesSubtree(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"old/One.md":     "[[Two]]",
		"old/sub/Two.md": "x",
		"Other.md":       "[[One]]",
	})
	ix := scanned(t, root)

	from, to := filepath.Join(root, "old"), filepath.Join(root, "new")
	if err := os.Rename(from, to); err != nil {
		t.Fatal(err)
	}
	ix.HandleEventAndRebuild(events.Renamed{From: from, To: to})

	for _, rel := range []string{"new/One.md", "new/sub/Two.md", "Other.md"} {
		if !ix.HasPage(filepath.Join(root, rel)) {
			t.Errorf("%s missing after folder rename", rel)
		}
	}
	if ix.HasPage(filepath.Join(root, "old", "One.md")) {
		t.Error("old subtree still indexed")
	}
	if len(ix.GetAllBrokenLinks()) != 0 {
		t.Errorf("broken = %+v", ix.GetAllBrokenLinks())
	}
}

func TestModifiedOnMissingFileRemovesPage(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{"gone.md": "x"})
	ix := scanned(t, root)
	path := filepath.Join(root, "gone.md")
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	ix.HandleEventAndRebuild(events.Modified{File: path})
	if ix.HasPage(path) {
		t.Error("vanished file still indexed")
	}
}

func TestDuplicateStemsResolveDeterministically(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"b/Same.md": "x",
		"a/Same.md": "x",
		"Link.md":   "[[Same]]",
	})
	for i := 0; i < 3; i++ {
		ix := scanned(t, root)
		got, ok := ix.ResolveLink(models.Link{Target: "same"})
		if !ok || got != filepath.Join(root, "a", "Same.md") {
			t.Fatalf("run %d: resolved to %q", i, got)
		}
	}
}

// assertSameState compares every structure of two indexers.
func assertSameState(t *testing.T, got, want *Indexer) {
	t.Helper()
	if !reflect.DeepEqual(got.pages, want.pages) {
		t.Errorf("pages differ:\n got %v\nwant %v", keys(got.pages), keys(want.pages))
	}
	if !reflect.DeepEqual(got.tags, want.tags) {
		t.Errorf("tags differ:\n got %v\nwant %v", got.tags, want.tags)
	}
	if !reflect.DeepEqual(got.resolver, want.resolver) {
		t.Errorf("resolver differs:\n got %v\nwant %v", got.resolver, want.resolver)
	}
	if !reflect.DeepEqual(got.graph, want.graph) {
		t.Errorf("graph differs")
	}
	if !reflect.DeepEqual(got.backlinks, want.backlinks) {
		t.Errorf("backlinks differ:\n got %v\nwant %v", got.backlinks, want.backlinks)
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestBatchedEventsMatchFreshScan(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{
		"p0.md": "[[p1]] #seed",
		"p1.md": "[[p0]]",
	})
	ix := scanned(t, root)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 10; round++ {
		var batch []events.FileEvent
		for step := 0; step < 8; step++ {
			name := fmt.Sprintf("p%d.md", rng.Intn(6))
			path := filepath.Join(root, name)
			_, statErr := os.Stat(path)
			exists := statErr == nil

			switch op := rng.Intn(3); {
			case op == 0 && exists:
				if err := os.Remove(path); err != nil {
					t.Fatal(err)
				}
				batch = append(batch, events.Deleted{File: path})
			default:
				content := fmt.Sprintf("---\ntags: [t%d]\n---\n[[p%d]] [[P%d#s|x]] [[ghost%d]]\n",
					rng.Intn(3), rng.Intn(6), rng.Intn(6), rng.Intn(2))
				testutil.WriteFile(t, path, content)
				if exists {
					batch = append(batch, events.Modified{File: path})
				} else {
					batch = append(batch, events.Created{File: path})
				}
			}
		}
		ix.HandleEventBatch(batch)
		assertSameState(t, ix, scanned(t, root))
	}
}
