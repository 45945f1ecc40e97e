// Package dirfeed serves universal packages from a local directory laid
// out as <root>/<group>/<name>/<version>.upack.
package dirfeed

import (
	"context"
	"crypto/sha1" //nolint:gosec // matches the hash upack feeds publish
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/git-pkgs/upack/fetch"
	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/packagefile"
)

const (
	feedType  = "dir"
	extension = ".upack"
)

// ErrInvalidID is returned for a group or name that cannot be stored
// under the feed root.
var ErrInvalidID = errors.New("invalid package id")

func init() {
	core.Register(feedType, "", func(baseURL string, _ *core.Client) core.Feed {
		return New(baseURL)
	})
}

type Feed struct {
	root string
}

// New creates a feed rooted at dir. A file:// prefix is accepted.
func New(dir string) *Feed {
	return &Feed{root: filepath.Clean(strings.TrimPrefix(dir, "file://"))}
}

func (f *Feed) Type() string { return feedType }

func (f *Feed) URL() string { return f.root }

// packageDir maps id to a directory below the root. Every group segment
// and the name must be a plain path element.
func (f *Feed) packageDir(id core.PackageID) (string, error) {
	var segs []string
	if id.Group != "" {
		segs = strings.Split(id.Group, "/")
	}
	segs = append(segs, id.Name)
	for _, seg := range segs {
		if !validSegment(seg) {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id.FullName())
		}
	}
	return filepath.Join(append([]string{f.root}, segs...)...), nil
}

func validSegment(seg string) bool {
	return seg != "" && seg != "." && seg != ".." && !strings.ContainsAny(seg, `/\:`)
}

// Path returns where a package version is stored.
func (f *Feed) Path(id core.PackageID, version core.Version) (string, error) {
	dir, err := f.packageDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, version.String()+extension), nil
}

func (f *Feed) ListVersions(ctx context.Context, id core.PackageID) ([]core.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := f.packageDir(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &core.NotFoundError{Feed: f.root, Package: id.FullName()}
	}
	if err != nil {
		return nil, err
	}

	var versions []core.Version
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), extension) {
			continue
		}
		v, err := core.ParseVersion(strings.TrimSuffix(e.Name(), extension))
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil, &core.NotFoundError{Feed: f.root, Package: id.FullName()}
	}
	core.SortDescending(versions)
	return versions, nil
}

func (f *Feed) GetManifest(ctx context.Context, id core.PackageID, version core.Version) (*core.PackageManifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.Path(id, version)
	if err != nil {
		return nil, err
	}
	pkg, err := packagefile.OpenFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &core.NotFoundError{Feed: f.root, Package: id.FullName(), Spec: version.String()}
		}
		return nil, err
	}
	defer func() { _ = pkg.Close() }()

	m, err := pkg.Manifest()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.ID.Name == "" {
		m.ID = id
	}

	sum, size, err := hashFile(path)
	if err != nil {
		return nil, err
	}
	m.SHA1 = sum
	m.Size = size
	if fi, err := os.Stat(path); err == nil {
		m.Published = fi.ModTime().UTC()
	}
	return m, nil
}

func hashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = file.Close() }()

	h := sha1.New() //nolint:gosec
	n, err := io.Copy(h, file)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func (f *Feed) OpenContent(ctx context.Context, id core.PackageID, version core.Version, progress core.ProgressFunc) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.Path(id, version)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &core.NotFoundError{Feed: f.root, Package: id.FullName(), Spec: version.String()}
	}
	if err != nil {
		return nil, err
	}
	if progress == nil {
		return file, nil
	}
	var size int64
	if fi, err := file.Stat(); err == nil {
		size = fi.Size()
	}
	return fetch.NewProgressReader(file, size, progress), nil
}

// Upload stores a package archive under the path its metadata names and
// returns its SHA-1. An existing file for the same version is replaced.
func (f *Feed) Upload(ctx context.Context, r io.Reader) (string, error) {
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(f.root, "upload-*"+extension+".tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	h := sha1.New() //nolint:gosec
	_, err = io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("storing upload: %w", err)
	}

	pkg, err := packagefile.OpenFile(tmpName)
	if err != nil {
		return "", err
	}
	meta := pkg.Metadata()
	_ = pkg.Close()

	version, err := core.ParseVersion(meta.Version)
	if err != nil {
		return "", err
	}
	if meta.Name == "" {
		return "", errors.New("package metadata has no name")
	}

	dest, err := f.Path(meta.ID(), version)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ core.Feed = (*Feed)(nil)
