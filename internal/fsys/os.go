package fsys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// OSFileSystem implements FileSystem on the local disk.
type OSFileSystem struct{}

// NewOS returns the local file system.
func NewOS() *OSFileSystem {
	return &OSFileSystem{}
}

func (OSFileSystem) DirectoryExists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func (OSFileSystem) CreateDirectory(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func (OSFileSystem) GetFileSystemInfos(ctx context.Context, root string, mask Mask) ([]Info, error) {
	matcher, err := mask.Compile()
	if err != nil {
		return nil, err
	}

	var infos []Info
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		key := rel
		if d.IsDir() {
			key += "/"
		}
		if matcher.Excludes(key) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !matcher.Match(key) {
			return nil
		}

		info := Info{FullPath: path, RelPath: rel, IsDir: d.IsDir()}
		if !d.IsDir() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			info.Size = fi.Size()
			info.ModTime = fi.ModTime().UTC()
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	return infos, nil
}

//nolint:wrapcheck // os errors carry the path already
func (OSFileSystem) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (OSFileSystem) OpenWrite(ctx context.Context, path string, mode WriteMode) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flag := os.O_WRONLY | os.O_CREATE
	switch mode {
	case CreateNew:
		flag |= os.O_EXCL
	case Append:
		flag |= os.O_APPEND
	default:
		flag |= os.O_TRUNC
	}
	return os.OpenFile(path, flag, 0o644)
}

func (o OSFileSystem) MoveFile(ctx context.Context, src, dst string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return fmt.Errorf("move %s: %w", dst, fs.ErrExist)
		}
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		return o.copyAcross(ctx, src, dst)
	}
	return err
}

// copyAcross moves a file between devices, keeping its modification time.
func (o OSFileSystem) copyAcross(ctx context.Context, src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := o.OpenWrite(ctx, dst, CreateOrTruncate)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(dst, fi.ModTime(), fi.ModTime()); err != nil {
		return err
	}
	return os.Remove(src)
}

func (OSFileSystem) DeleteFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (OSFileSystem) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (OSFileSystem) SetModTime(ctx context.Context, path string, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Chtimes(path, t, t)
}

var _ FileSystem = OSFileSystem{}
