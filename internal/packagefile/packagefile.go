// Package packagefile reads and writes universal package archives: zip
// files with a top-level upack.json and the package contents under package/.
package packagefile

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/fsys"
)

const (
	MetadataFile  = "upack.json"
	ContentPrefix = "package/"
)

var (
	ErrNoMetadata   = errors.New("package has no upack.json")
	ErrInvalidEntry = errors.New("invalid package entry")
)

// Package is an opened package archive.
type Package struct {
	zr     *zip.Reader
	closer io.Closer
	meta   core.Metadata
	raw    map[string]any
	files  []core.FileEntry
	// content maps a manifest path to its zip entry; directories are absent.
	content map[string]*zip.File
}

// Open reads the archive index and metadata from r.
func Open(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, archiveError(err)
	}
	return load(zr, nil)
}

type statReaderAt interface {
	io.ReaderAt
	Stat() (fs.FileInfo, error)
}

// OpenReader opens an archive from a stream and takes ownership of rc.
// Files that support random access are read in place; anything else is
// buffered in memory first. The caller must Close the package.
func OpenReader(rc io.ReadCloser) (*Package, error) {
	if ra, ok := rc.(statReaderAt); ok {
		if fi, err := ra.Stat(); err == nil {
			zr, err := zip.NewReader(ra, fi.Size())
			if err != nil {
				_ = rc.Close()
				return nil, archiveError(err)
			}
			p, err := load(zr, rc)
			if err != nil {
				_ = rc.Close()
				return nil, err
			}
			return p, nil
		}
	}

	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return Open(bytes.NewReader(data), int64(len(data)))
}

// OpenFile opens a package archive on disk. The caller must Close it.
func OpenFile(name string) (*Package, error) {
	rc, err := zip.OpenReader(name)
	if err != nil {
		if rc != nil {
			_ = rc.Close()
		}
		return nil, archiveError(err)
	}
	p, err := load(&rc.Reader, rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return p, nil
}

func archiveError(err error) error {
	if errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	return fmt.Errorf("reading package archive: %w", err)
}

func load(zr *zip.Reader, closer io.Closer) (*Package, error) {
	p := &Package{zr: zr, closer: closer, content: make(map[string]*zip.File)}
	dirs := make(map[string]bool)
	var haveMeta bool

	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		if name == MetadataFile {
			if err := p.readMetadata(f); err != nil {
				return nil, err
			}
			haveMeta = true
			continue
		}
		if !strings.HasPrefix(name, ContentPrefix) {
			continue
		}

		rel := strings.TrimPrefix(name, ContentPrefix)
		if rel == "" {
			continue
		}
		if !validRelPath(strings.TrimSuffix(rel, "/")) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEntry, f.Name)
		}

		if strings.HasSuffix(rel, "/") {
			dirs[rel] = true
			continue
		}
		addParents(dirs, rel)
		p.content[rel] = f
		p.files = append(p.files, core.FileEntry{
			Path:     rel,
			Size:     int64(f.UncompressedSize64),
			Modified: f.Modified.UTC(),
		})
	}

	if !haveMeta {
		return nil, ErrNoMetadata
	}

	for d := range dirs {
		p.files = append(p.files, core.FileEntry{Path: d})
	}
	sort.Slice(p.files, func(i, j int) bool { return p.files[i].Path < p.files[j].Path })
	return p, nil
}

func (p *Package) readMetadata(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", MetadataFile, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("reading %s: %w", MetadataFile, err)
	}
	if err := json.Unmarshal(data, &p.meta); err != nil {
		return fmt.Errorf("parsing %s: %w", MetadataFile, err)
	}
	if err := json.Unmarshal(data, &p.raw); err != nil {
		return fmt.Errorf("parsing %s: %w", MetadataFile, err)
	}
	return nil
}

func addParents(dirs map[string]bool, rel string) {
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		dirs[dir+"/"] = true
	}
}

// validRelPath rejects absolute paths and any ".." segment.
func validRelPath(rel string) bool {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, ":") {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// Close releases the underlying file when the package was opened with OpenFile.
func (p *Package) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// Metadata returns the parsed upack.json.
func (p *Package) Metadata() core.Metadata { return p.meta }

// RawMetadata returns upack.json as a generic document, including
// properties the Metadata struct does not model.
func (p *Package) RawMetadata() map[string]any { return p.raw }

// Files returns the manifest: every file and directory under package/,
// sorted by path. Directories implied by file paths are included.
func (p *Package) Files() []core.FileEntry { return p.files }

// Manifest combines metadata and file list into a feed manifest.
func (p *Package) Manifest() (*core.PackageManifest, error) {
	v, err := core.ParseVersion(p.meta.Version)
	if err != nil {
		return nil, err
	}
	return &core.PackageManifest{
		ID:       p.meta.ID(),
		Version:  v,
		Metadata: p.raw,
		Files:    p.files,
	}, nil
}

// Extract writes the package contents into dest through filesystem, restoring
// modification times.
func (p *Package) Extract(ctx context.Context, filesystem fsys.FileSystem, dest string) error {
	if err := filesystem.CreateDirectory(ctx, dest); err != nil {
		return err
	}

	for _, entry := range p.files {
		target := filepath.Join(dest, filepath.FromSlash(strings.TrimSuffix(entry.Path, "/")))
		if entry.IsDir() {
			if err := filesystem.CreateDirectory(ctx, target); err != nil {
				return err
			}
			continue
		}
		if err := filesystem.CreateDirectory(ctx, filepath.Dir(target)); err != nil {
			return err
		}
		if err := p.extractFile(ctx, filesystem, p.content[entry.Path], target); err != nil {
			return fmt.Errorf("extracting %s: %w", entry.Path, err)
		}
		if !entry.Modified.IsZero() {
			if err := filesystem.SetModTime(ctx, target, entry.Modified); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Package) extractFile(ctx context.Context, filesystem fsys.FileSystem, f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	w, err := filesystem.OpenWrite(ctx, target, fsys.CreateOrTruncate)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: rc}); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
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

// Create writes a package archive to w containing meta and every file
// under srcDir.
func Create(ctx context.Context, w io.Writer, srcDir string, meta core.Metadata) error {
	if meta.Name == "" {
		return errors.New("package name is required")
	}
	if _, err := core.ParseVersion(meta.Version); err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	mw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     MetadataFile,
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return err
	}

	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == srcDir {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		name := ContentPrefix + filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := zw.CreateHeader(&zip.FileHeader{Name: name + "/", Method: zip.Store})
			return err
		}
		return addFile(zw, p, name)
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("packing %s: %w", srcDir, err)
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, src, name string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	hdr.Modified = fi.ModTime().UTC().Truncate(time.Second)

	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(fw, f)
	return err
}
