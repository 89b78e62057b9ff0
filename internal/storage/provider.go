// Package storage defines the vault file-system abstraction.
package storage

import "io/fs"

// Provider performs every file operation the writer needs. Paths may be
// absolute (they must then lie inside the vault) or relative to the root.
type Provider interface {
	// Root returns the absolute vault directory.
	Root() string
	// Abs resolves path against the root and rejects escapes.
	Abs(path string) (string, error)
	Stat(path string) (fs.FileInfo, error)
	Read(path string) ([]byte, error)
	// Write atomically replaces the content of path.
	Write(path string, content []byte) error
	// Rename moves oldPath to newPath without creating parent directories.
	Rename(oldPath, newPath string) error
	// Mkdir creates path and any missing parents.
	Mkdir(path string) error
	// Remove deletes a file, or a directory recursively.
	Remove(path string) error
}
