package storage

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/maxthraxx/chronicler/internal/apperr"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestNewFS_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.md")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(file); !errors.Is(err, apperr.ErrNotADirectory) {
		t.Errorf("err = %v, want ErrNotADirectory", err)
	}
}

func TestWriteAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("# Hello\nWorld\n")
	if err := s.Write("note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(filepath.Join(s.Root(), "note.md"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempVault(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := tempVault(t)
	for i := 0; i < 3; i++ {
		if err := s.Write("note.md", []byte(strings.Repeat("x", i))); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "note.md" {
		t.Errorf("unexpected entries: %v", entries)
	}
}

func TestWritePreservesPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	s := tempVault(t)
	path := filepath.Join(s.Root(), "exec.md")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(path, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := tempVault(t)
	if err := s.Write("../escape.md", []byte("x")); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("relative escape: err = %v", err)
	}
	if _, err := s.Read("/etc/passwd"); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("absolute escape: err = %v", err)
	}
	sibling := s.Root() + "-sibling/x.md"
	if _, err := s.Abs(sibling); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("prefix sibling: err = %v", err)
	}
}

func TestRemoveFileAndDirectory(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("del.md", []byte("bye"))
	_ = s.Write("dir/nested/a.md", []byte("a"))

	if err := s.Remove("del.md"); err != nil {
		t.Fatalf("Remove file: %v", err)
	}
	if err := s.Remove("dir"); err != nil {
		t.Fatalf("Remove dir: %v", err)
	}
	if _, err := s.Stat("dir"); !errors.Is(err, apperr.ErrFileNotFound) {
		t.Errorf("dir still present: %v", err)
	}
	if err := s.Remove("del.md"); !errors.Is(err, apperr.ErrFileNotFound) {
		t.Errorf("second remove: err = %v", err)
	}
	if err := s.Remove(""); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("removing root: err = %v", err)
	}
}

func TestRename(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("old.md", []byte("data"))
	_ = s.Mkdir("sub")
	if err := s.Rename("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, err := s.Read("sub/new.md")
	if err != nil {
		t.Fatalf("Read after rename: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); !errors.Is(err, os.ErrNotExist) {
		t.Error("old path should not exist")
	}
}
