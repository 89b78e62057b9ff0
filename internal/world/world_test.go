package world

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/maxthraxx/chronicler/internal/apperr"
	"github.com/maxthraxx/chronicler/internal/broadcast"
	"github.com/maxthraxx/chronicler/internal/catalog"
	"github.com/maxthraxx/chronicler/internal/events"
	"github.com/maxthraxx/chronicler/internal/index"
	"github.com/maxthraxx/chronicler/internal/metrics"
	"github.com/maxthraxx/chronicler/internal/testutil"
)

type update struct {
	source string
	paths  []string
}

// recorder is a Notifier that keeps every call.
type recorder struct {
	mu      sync.Mutex
	updates []update
}

func (r *recorder) IndexUpdated(source string, paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update{source, slices.Clone(paths)})
}

func (r *recorder) from(source string) []update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []update
	for _, u := range r.updates {
		if u.source == source {
			out = append(out, u)
		}
	}
	return out
}

func openWorld(t *testing.T, files map[string]string, opts Options) (string, *World) {
	t.Helper()
	root := testutil.WriteVault(t, files)
	if opts.Logger == nil {
		opts.Logger = testutil.Logger()
	}
	if opts.Debounce == 0 {
		opts.Debounce = 50 * time.Millisecond
	}
	w := New(opts)
	if err := w.Open(context.Background(), root); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(w.Close)
	return root, w
}

func hasBacklink(t *testing.T, w *World, page, from string) bool {
	t.Helper()
	bls, err := w.GetBacklinks(page)
	if err != nil {
		t.Fatalf("GetBacklinks(%s): %v", page, err)
	}
	for _, bl := range bls {
		if bl.Path == from {
			return true
		}
	}
	return false
}

func TestWorld_NotInitialized(t *testing.T) {
	w := New(Options{Logger: testutil.Logger()})
	if _, err := w.GetAllPages(); !errors.Is(err, apperr.ErrVaultNotInitialized) {
		t.Errorf("GetAllPages = %v", err)
	}
	if _, err := w.CreateNewFile("", "x"); !errors.Is(err, apperr.ErrVaultNotInitialized) {
		t.Errorf("CreateNewFile = %v", err)
	}
	if err := w.Rescan(); !errors.Is(err, apperr.ErrVaultNotInitialized) {
		t.Errorf("Rescan = %v", err)
	}
	if w.IsOpen() {
		t.Error("IsOpen before Open")
	}
	w.Close()
}

func TestWorld_OpenNotADirectory(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{"file.md": "x"})
	w := New(Options{Logger: testutil.Logger()})
	err := w.Open(context.Background(), filepath.Join(root, "file.md"))
	if !errors.Is(err, apperr.ErrNotADirectory) {
		t.Fatalf("Open = %v, want ErrNotADirectory", err)
	}
	if w.IsOpen() {
		t.Error("failed Open left a vault open")
	}
}

func TestWorld_Relative(t *testing.T) {
	w := New(Options{Logger: testutil.Logger()})
	if got := w.Relative("/x/a.md"); got != "/x/a.md" {
		t.Errorf("closed Relative = %q", got)
	}

	_, w = openWorld(t, map[string]string{"lore/a.md": "x"}, Options{})
	root, err := w.Root()
	if err != nil {
		t.Fatal(err)
	}
	if got := w.Relative(filepath.Join(root, "lore", "a.md")); got != "lore/a.md" {
		t.Errorf("page = %q", got)
	}
	if got := w.Relative(root); got != "." {
		t.Errorf("root = %q", got)
	}
	outside := filepath.Join(filepath.Dir(root), "other.md")
	if got := w.Relative(outside); got != outside {
		t.Errorf("outside = %q", got)
	}
}

func TestWorld_RenameUpdatesLinksAndIndex(t *testing.T) {
	rec := &recorder{}
	root, w := openWorld(t, map[string]string{"A.md": "[[B]]", "B.md": "[[A]]"}, Options{Notifier: rec})

	newPath, err := w.RenamePath("B.md", "B2")
	if err != nil {
		t.Fatalf("RenamePath: %v", err)
	}
	if newPath != filepath.Join(root, "B2.md") {
		t.Errorf("new path = %s", newPath)
	}
	if got := testutil.ReadFile(t, filepath.Join(root, "A.md")); got != "[[B2]]" {
		t.Errorf("A.md = %q", got)
	}
	if _, err := w.GetPage("B.md"); !errors.Is(err, apperr.ErrFileNotFound) {
		t.Errorf("old page still indexed: %v", err)
	}
	if !hasBacklink(t, w, "A.md", filepath.Join(root, "B2.md")) {
		t.Error("A has no backlink from B2")
	}
	if !hasBacklink(t, w, "B2.md", filepath.Join(root, "A.md")) {
		t.Error("B2 has no backlink from A")
	}
	broken, _ := w.GetAllBrokenLinks()
	if len(broken) != 0 {
		t.Errorf("broken links after rename: %+v", broken)
	}
	if len(rec.from(SourceWriter)) != 1 {
		t.Errorf("writer notifications = %+v", rec.from(SourceWriter))
	}
}

func TestWorld_MutationsVisibleOnReturn(t *testing.T) {
	root, w := openWorld(t, map[string]string{
		"Hub.md":        "[[Leaf]] [[Other]]",
		"lore/Leaf.md":  "leaf",
		"lore/Other.md": "other",
	}, Options{})

	h, err := w.CreateNewFile("lore", "Fresh")
	if err != nil {
		t.Fatal(err)
	}
	view, err := w.GetPage(h.Path)
	if err != nil {
		t.Fatalf("created page not indexed: %v", err)
	}
	if view.Page.Title != "Fresh" || len(view.Page.Tags) != 3 {
		t.Errorf("created page = %+v", view.Page)
	}

	if _, err := w.CreateNewFile("lore", "Fresh"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("second create = %v, want ErrAlreadyExists", err)
	}

	if err := w.DeletePath("lore"); err != nil {
		t.Fatal(err)
	}
	broken, err := w.GetAllBrokenLinks()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 2 || broken[0].Target != "Leaf" || broken[1].Target != "Other" {
		t.Fatalf("broken = %+v", broken)
	}
	if broken[0].Sources[0].Path != filepath.Join(root, "Hub.md") {
		t.Errorf("source = %+v", broken[0].Sources)
	}
}

func TestWorld_WriteDuplicateMove(t *testing.T) {
	root, w := openWorld(t, map[string]string{"Note.md": "#draft body", "archive/keep.md": "k"}, Options{})

	view, err := w.GetPage("Note.md")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WritePageContent("Note.md", []byte("x"), "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale write = %v, want ErrConflict", err)
	}
	if _, err := w.WritePageContent("Note.md", []byte("#final [[Ghost]]"), view.Checksum); err != nil {
		t.Fatal(err)
	}
	tags, _ := w.GetAllTags()
	if len(tags) != 1 || tags[0].Tag != "final" {
		t.Errorf("tags = %+v", tags)
	}

	dup, err := w.DuplicatePage("Note.md")
	if err != nil {
		t.Fatal(err)
	}
	if dup.Title != "Note 1" {
		t.Errorf("duplicate = %+v", dup)
	}
	broken, _ := w.GetAllBrokenLinks()
	if len(broken) != 1 || len(broken[0].Sources) != 2 {
		t.Errorf("broken = %+v", broken)
	}

	moved, err := w.MovePath("Note.md", "archive")
	if err != nil {
		t.Fatal(err)
	}
	if moved != filepath.Join(root, "archive", "Note.md") {
		t.Errorf("moved to %s", moved)
	}
	if _, err := w.GetPage(moved); err != nil {
		t.Errorf("moved page not indexed: %v", err)
	}
}

func TestWorld_WatcherChangesReachIndex(t *testing.T) {
	rec := &recorder{}
	root, w := openWorld(t, map[string]string{"Home.md": "[[Later]]"}, Options{Notifier: rec})

	testutil.WriteFile(t, filepath.Join(root, "Later.md"), "now here")

	testutil.Eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		broken, err := w.GetAllBrokenLinks()
		return err == nil && len(broken) == 0
	}, "external file never indexed")
	testutil.Eventually(t, 2*time.Second, 20*time.Millisecond, func() bool {
		return len(rec.from(SourceWatcher)) > 0
	}, "no watcher notification")
}

func TestWorld_ReopenSwitchesVault(t *testing.T) {
	_, w := openWorld(t, map[string]string{"first.md": "1"}, Options{})
	second := testutil.WriteVault(t, map[string]string{"second.md": "2", "third.md": "3"})

	if err := w.Open(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	root, _ := w.Root()
	if root != second {
		t.Errorf("root = %s, want %s", root, second)
	}
	pages, _ := w.GetAllPages()
	if len(pages) != 2 {
		t.Errorf("pages = %+v", pages)
	}
	if err := w.Rescan(); err != nil {
		t.Errorf("Rescan: %v", err)
	}
}

func TestWorld_SearchNeedsCatalog(t *testing.T) {
	_, w := openWorld(t, map[string]string{"a.md": "dragon"}, Options{})
	if _, err := w.Search("dragon", 10); !errors.Is(err, ErrSearchUnavailable) {
		t.Fatalf("Search = %v, want ErrSearchUnavailable", err)
	}
}

func TestWorld_SearchThroughCatalog(t *testing.T) {
	db, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	root, w := openWorld(t, map[string]string{"Lair.md": "a red dragon sleeps", "Inn.md": "ale"}, Options{Catalog: db})
	res, err := w.Search("dragon", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Path != filepath.Join(root, "Lair.md") {
		t.Fatalf("results = %+v", res)
	}

	if _, err := w.CreateNewFile("", "Dragon Notes"); err != nil {
		t.Fatal(err)
	}
	res, _ = w.Search("dragon", 10)
	if len(res) != 2 {
		t.Errorf("results after create = %+v", res)
	}
}

// consumerSession wires a session around a bare broadcast channel so the
// consumer loop can be driven deterministically.
func consumerSession(t *testing.T, root string, capacity int) (*session, *broadcast.Channel[events.FileEvent]) {
	t.Helper()
	ix := index.New(index.Options{Logger: testutil.Logger()})
	if err := ix.ScanVault(root); err != nil {
		t.Fatal(err)
	}
	ch := broadcast.New[events.FileEvent](capacity)
	return &session{root: root, index: ix, rx: ch.Subscribe(), done: make(chan struct{}), cancel: func() {}}, ch
}

func TestConsume_OneNotificationPerBatch(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{"a.md": "a", "b.md": "b", "c.md": "c"})
	rec := &recorder{}
	w := New(Options{Logger: testutil.Logger(), Debounce: 20 * time.Millisecond, Notifier: rec, Metrics: metrics.New()})

	s, ch := consumerSession(t, root, 16)
	a := filepath.Join(root, "a.md")
	s.index.HandleEventAndRebuild(events.Deleted{File: a})
	for _, name := range []string{"a.md", "b.md", "c.md"} {
		if _, err := ch.Send(events.Modified{File: filepath.Join(root, name)}); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.consume(ctx, s)

	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(rec.from(SourceWatcher)) == 1
	}, "batch not applied")
	ups := rec.from(SourceWatcher)
	if len(ups) != 1 || len(ups[0].paths) != 3 {
		t.Fatalf("updates = %+v", ups)
	}
	if !s.index.HasPage(a) {
		t.Error("batched Modified did not restore a.md")
	}

	cancel()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not exit on cancel")
	}
}

func TestConsume_LagIsCountedAndSurvived(t *testing.T) {
	root := testutil.WriteVault(t, map[string]string{"a.md": "a"})
	rec := &recorder{}
	w := New(Options{Logger: testutil.Logger(), Debounce: 20 * time.Millisecond, Notifier: rec, Metrics: metrics.New()})

	s, ch := consumerSession(t, root, 2)
	for i := 0; i < 5; i++ {
		if _, err := ch.Send(events.Modified{File: filepath.Join(root, "a.md")}); err != nil {
			t.Fatal(err)
		}
	}

	go w.consume(context.Background(), s)

	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(rec.from(SourceWatcher)) == 1
	}, "consumer stopped after lag")
	if ups := rec.from(SourceWatcher); len(ups) == 1 && len(ups[0].paths) != 2 {
		t.Errorf("batch after lag = %+v, want the two retained events", ups)
	}

	// Closing the channel ends the consumer.
	ch.Close()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not exit on close")
	}
}
