// Package resource implements the write-back resource cache: a Redis
// tier that absorbs reads and writes of small JSON resources and a
// background scheduler that reconciles dirty entries to blob storage.
package resource

import "strings"

// Type is the resource kind; it namespaces cache keys.
type Type string

const (
	TypeFile         Type = "FILE"
	TypeConversation Type = "CONVERSATION"
	TypePrompt       Type = "PROMPT"
)

// Descriptor identifies one resource or folder. Path is the absolute
// forward-slash file path; folder paths end in "/" (the root folder may
// be the bare bucket prefix).
type Descriptor struct {
	Type Type   `json:"type"`
	Path string `json:"path"`

	root bool
}

// Item returns a descriptor for a single resource.
func Item(t Type, path string) Descriptor {
	return Descriptor{Type: t, Path: path}
}

// Folder returns a descriptor for a non-root folder.
func Folder(t Type, path string) Descriptor {
	if path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return Descriptor{Type: t, Path: path}
}

// RootFolder returns the descriptor of a caller's root folder.
func RootFolder(t Type, path string) Descriptor {
	d := Folder(t, path)
	d.root = true
	return d
}

// FromDecoded returns the descriptor of a decoded child path found under
// the given parent folder.
func FromDecoded(parent Descriptor, path string) Descriptor {
	return Descriptor{Type: parent.Type, Path: path}
}

// IsFolder reports whether the descriptor names a folder.
func (d Descriptor) IsFolder() bool {
	return d.root || d.Path == "" || strings.HasSuffix(d.Path, "/")
}

// IsRootFolder reports whether the descriptor names the root folder.
func (d Descriptor) IsRootFolder() bool {
	return d.root
}
