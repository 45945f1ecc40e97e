// Package core provides shared types, version matching and the feed registry.
package core

import (
	"strings"
	"time"
)

// PackageID identifies a universal package. Group and name keep their
// original case but compare case-insensitively.
type PackageID struct {
	Group string
	Name  string
}

// NewPackageID builds an id from a fully-qualified "group/name" string.
// The group is everything before the last slash.
func NewPackageID(fullName string) PackageID {
	fullName = strings.Trim(fullName, "/")
	if idx := strings.LastIndex(fullName, "/"); idx >= 0 {
		return PackageID{Group: fullName[:idx], Name: fullName[idx+1:]}
	}
	return PackageID{Name: fullName}
}

// FullName returns "group/name", or just the name when group is empty.
func (id PackageID) FullName() string {
	if id.Group == "" {
		return id.Name
	}
	return id.Group + "/" + id.Name
}

func (id PackageID) String() string {
	return id.FullName()
}

// Equal compares two ids case-insensitively.
func (id PackageID) Equal(other PackageID) bool {
	return strings.EqualFold(id.Group, other.Group) && strings.EqualFold(id.Name, other.Name)
}

// Key returns a lowercase key suitable for map lookups.
func (id PackageID) Key() string {
	return strings.ToLower(id.FullName())
}

// FileEntry describes one path inside a package. Directory paths end in "/"
// and never carry a size or timestamp.
type FileEntry struct {
	Path     string
	Size     int64
	Modified time.Time
}

// IsDir reports whether the entry is a directory.
func (e FileEntry) IsDir() bool {
	return strings.HasSuffix(e.Path, "/")
}

// Metadata is the upack.json document of a package.
type Metadata struct {
	Group        string   `json:"group,omitempty"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// ID returns the package id declared by the metadata.
func (m Metadata) ID() PackageID {
	return PackageID{Group: m.Group, Name: m.Name}
}

// PackageManifest is what a feed knows about one package version.
type PackageManifest struct {
	ID        PackageID
	Version   Version
	Published time.Time
	SHA1      string
	Size      int64
	Metadata  map[string]any
	Files     []FileEntry
}

// Reference is a request to deploy a package: where it comes from, which
// version to pick and where it goes.
type Reference struct {
	Source  string
	ID      PackageID
	Spec    string
	FeedURL string
}
