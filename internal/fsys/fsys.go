// Package fsys is the file system abstraction deployments run against.
// OSFileSystem is the implementation backed by the os package; tests and
// remote agents can supply their own.
package fsys

import (
	"context"
	"io"
	"time"
)

// Info describes one entry returned by GetFileSystemInfos.
type Info struct {
	// FullPath is the absolute, OS-native path of the entry.
	FullPath string
	// RelPath is the slash-separated path relative to the listed root.
	RelPath string
	IsDir   bool
	// Size and ModTime are zero for directories.
	Size    int64
	ModTime time.Time
}

// WriteMode selects how OpenWrite treats an existing file.
type WriteMode int

const (
	// CreateOrTruncate creates the file or truncates an existing one.
	CreateOrTruncate WriteMode = iota
	// CreateNew fails if the file already exists.
	CreateNew
	// Append creates the file or appends to an existing one.
	Append
)

// FileSystem is the set of operations a deployment performs on a target
// machine. Every operation observes ctx cancellation before it starts.
type FileSystem interface {
	DirectoryExists(ctx context.Context, path string) (bool, error)
	CreateDirectory(ctx context.Context, path string) error
	// GetFileSystemInfos lists everything below path recursively. Entries
	// are filtered by mask against their relative path.
	GetFileSystemInfos(ctx context.Context, path string, mask Mask) ([]Info, error)
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)
	OpenWrite(ctx context.Context, path string, mode WriteMode) (io.WriteCloser, error)
	MoveFile(ctx context.Context, src, dst string, overwrite bool) error
	DeleteFile(ctx context.Context, path string) error
	DeleteDirectory(ctx context.Context, path string, recursive bool) error
	SetModTime(ctx context.Context, path string, t time.Time) error
}
