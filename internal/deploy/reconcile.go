package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/drift"
	"github.com/git-pkgs/upack/internal/fsys"
	"github.com/git-pkgs/upack/internal/packagefile"
)

const downloadName = "package.upack"

// install downloads the resolved version into a work directory on the
// target file system, extracts it and reconciles the target against it.
// The work directory is removed on every return path.
func (d *Deployer) install(ctx context.Context, req Request, version core.Version, progress *reporter, res *Result) error {
	logger := slogcontext.FromCtx(ctx)
	work := d.workDirFor(req.TargetDir)

	defer func() {
		// The caller's context may already be cancelled.
		cleanup := context.WithoutCancel(ctx)
		if err := d.fs.DeleteDirectory(cleanup, work, true); err != nil {
			d.warn(ctx, res, fmt.Sprintf("removing temporary directory %s: %v", work, err))
		}
	}()

	if err := d.fs.CreateDirectory(ctx, work); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}

	progress.stage(StageDownload, "downloading "+req.ID.FullName()+" "+version.String())
	archive := filepath.Join(work, downloadName)
	n, err := d.download(ctx, req, version, archive, progress)
	if err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.DownloadedBytes.Add(float64(n))
	}
	logger.Log(ctx, slog.LevelDebug, "downloaded package", slog.Int64("bytes", n))

	pkg, err := d.openArchive(ctx, archive)
	if err != nil {
		return err
	}
	defer func() { _ = pkg.Close() }()

	progress.stage(StageReconcile, "installing to "+req.TargetDir)
	staging := filepath.Join(work, "content")
	if err := pkg.Extract(ctx, d.fs, staging); err != nil {
		return fmt.Errorf("extracting package: %w", err)
	}

	return d.reconcile(ctx, req, staging, pkg.Files(), res)
}

func (d *Deployer) download(ctx context.Context, req Request, version core.Version, dest string, progress *reporter) (int64, error) {
	msg := fmt.Sprintf("downloading %s %s", req.ID.FullName(), version)
	body, err := req.Feed.OpenContent(ctx, req.ID, version, progress.transfer(msg))
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	w, err := d.fs.OpenWrite(ctx, dest, fsys.CreateNew)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	n, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("downloading %s: %w", req.ID.FullName(), err)
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}

func (d *Deployer) openArchive(ctx context.Context, path string) (*packagefile.Package, error) {
	rc, err := d.fs.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	pkg, err := packagefile.OpenReader(rc)
	if err != nil {
		return nil, fmt.Errorf("opening downloaded package: %w", err)
	}
	return pkg, nil
}

// reconcile makes targetDir match the extracted staging tree. Deleting
// extra paths only warns on failure; creating directories and moving
// files fail the deployment.
func (d *Deployer) reconcile(ctx context.Context, req Request, staging string, files []core.FileEntry, res *Result) error {
	logger := slogcontext.FromCtx(ctx)

	expected := make(map[string]bool, len(files))
	for _, f := range files {
		p := drift.NormalizePath(f.Path)
		if p == "" {
			continue
		}
		expected[p] = true
		for _, parent := range drift.Parents(p) {
			expected[parent] = true
		}
	}

	exists, err := d.fs.DirectoryExists(ctx, req.TargetDir)
	if err != nil {
		return &ReconcileError{Op: "stat", Path: req.TargetDir, Err: err}
	}

	if exists {
		infos, err := d.fs.GetFileSystemInfos(ctx, req.TargetDir, fsys.Mask{Exclude: req.Ignore})
		if err != nil {
			return &ReconcileError{Op: "list", Path: req.TargetDir, Err: err}
		}
		if err := d.removeStale(ctx, req, infos, expected, res); err != nil {
			return err
		}
	}

	if err := d.fs.CreateDirectory(ctx, req.TargetDir); err != nil {
		return &ReconcileError{Op: "mkdir", Path: req.TargetDir, Err: err}
	}

	paths := make([]string, 0, len(expected))
	for p := range expected {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if !strings.HasSuffix(p, "/") {
			continue
		}
		dir := filepath.Join(req.TargetDir, filepath.FromSlash(strings.TrimSuffix(p, "/")))
		if err := d.fs.CreateDirectory(ctx, dir); err != nil {
			return &ReconcileError{Op: "mkdir", Path: dir, Err: err}
		}
	}

	moved := 0
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			continue
		}
		src := filepath.Join(staging, filepath.FromSlash(p))
		dst := filepath.Join(req.TargetDir, filepath.FromSlash(p))
		if err := d.fs.MoveFile(ctx, src, dst, true); err != nil {
			return &ReconcileError{Op: "move", Path: dst, Err: err}
		}
		moved++
	}
	logger.Info("reconciled target directory", slog.Int("files", moved))
	return nil
}

// removeStale deletes what stands in the way of the package. With
// DeleteExtra every unexpected path goes; without it only paths whose kind
// conflicts with the package (a file where a directory belongs or the
// reverse) are removed.
func (d *Deployer) removeStale(ctx context.Context, req Request, infos []fsys.Info, expected map[string]bool, res *Result) error {
	var files, dirs []fsys.Info
	for _, info := range infos {
		key := info.RelPath
		if info.IsDir {
			key += "/"
		}
		if expected[key] {
			continue
		}

		conflict := (info.IsDir && expected[info.RelPath]) || (!info.IsDir && expected[info.RelPath+"/"])
		if !conflict && !req.DeleteExtra {
			continue
		}
		if info.IsDir {
			dirs = append(dirs, info)
		} else {
			files = append(files, info)
		}
	}

	for _, f := range files {
		if err := d.fs.DeleteFile(ctx, f.FullPath); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.warn(ctx, res, fmt.Sprintf("deleting %s: %v", f.RelPath, err))
		}
	}

	// Deepest first so each directory is empty by the time it is removed.
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i].RelPath, "/") > strings.Count(dirs[j].RelPath, "/")
	})
	for _, dir := range dirs {
		conflict := expected[dir.RelPath]
		if err := d.fs.DeleteDirectory(ctx, dir.FullPath, conflict); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if conflict {
				return &ReconcileError{Op: "delete", Path: dir.FullPath, Err: err}
			}
			d.warn(ctx, res, fmt.Sprintf("deleting directory %s: %v", dir.RelPath, err))
		}
	}
	return nil
}
