// Package events defines the closed set of filesystem changes the index accepts.
package events

import "fmt"

// Kind names an event variant.
type Kind string

const (
	KindCreated       Kind = "created"
	KindModified      Kind = "modified"
	KindDeleted       Kind = "deleted"
	KindRenamed       Kind = "renamed"
	KindFolderCreated Kind = "folder_created"
	KindFolderDeleted Kind = "folder_deleted"
)

// FileEvent is implemented only by the variants in this package, so a type
// switch over them is exhaustive.
type FileEvent interface {
	Kind() Kind
	// Path is the primary path of the event; the destination for renames.
	Path() string
	fmt.Stringer
	sealed()
}

// Created reports a new markdown file.
type Created struct{ File string }

// Modified reports changed content of an existing file.
type Modified struct{ File string }

// Deleted reports a removed file.
type Deleted struct{ File string }

// Renamed reports a file or folder moved from From to To.
type Renamed struct{ From, To string }

// FolderCreated reports a new directory.
type FolderCreated struct{ Dir string }

// FolderDeleted reports a removed directory and, implicitly, its subtree.
type FolderDeleted struct{ Dir string }

func (Created) Kind() Kind       { return KindCreated }
func (Modified) Kind() Kind      { return KindModified }
func (Deleted) Kind() Kind       { return KindDeleted }
func (Renamed) Kind() Kind       { return KindRenamed }
func (FolderCreated) Kind() Kind { return KindFolderCreated }
func (FolderDeleted) Kind() Kind { return KindFolderDeleted }

func (e Created) Path() string       { return e.File }
func (e Modified) Path() string      { return e.File }
func (e Deleted) Path() string       { return e.File }
func (e Renamed) Path() string       { return e.To }
func (e FolderCreated) Path() string { return e.Dir }
func (e FolderDeleted) Path() string { return e.Dir }

func (e Created) String() string       { return "created " + e.File }
func (e Modified) String() string      { return "modified " + e.File }
func (e Deleted) String() string       { return "deleted " + e.File }
func (e Renamed) String() string       { return "renamed " + e.From + " -> " + e.To }
func (e FolderCreated) String() string { return "folder_created " + e.Dir }
func (e FolderDeleted) String() string { return "folder_deleted " + e.Dir }

func (Created) sealed()       {}
func (Modified) sealed()      {}
func (Deleted) sealed()       {}
func (Renamed) sealed()       {}
func (FolderCreated) sealed() {}
func (FolderDeleted) sealed() {}
