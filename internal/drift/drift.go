// Package drift compares a target directory against a package manifest.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/fsys"
)

// CompareMode selects which file attributes are compared.
type CompareMode int

const (
	// CompareNone only checks that every manifest path exists.
	CompareNone CompareMode = iota
	// CompareSizeOnly also compares file sizes.
	CompareSizeOnly
	// CompareSizeAndTimestamp also compares modification times, truncated
	// to whole seconds.
	CompareSizeAndTimestamp
)

func (m CompareMode) String() string {
	switch m {
	case CompareNone:
		return "none"
	case CompareSizeOnly:
		return "size"
	case CompareSizeAndTimestamp:
		return "size-and-timestamp"
	default:
		return fmt.Sprintf("CompareMode(%d)", int(m))
	}
}

// ParseCompareMode accepts the names returned by String.
func ParseCompareMode(s string) (CompareMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return CompareNone, nil
	case "size", "size-only":
		return CompareSizeOnly, nil
	case "size-and-timestamp", "timestamp":
		return CompareSizeAndTimestamp, nil
	}
	return CompareNone, fmt.Errorf("unknown compare mode %q", s)
}

// Options controls a drift check.
type Options struct {
	// Ignore lists glob patterns for relative paths that are neither
	// compared nor treated as extra.
	Ignore  []string
	Compare CompareMode
	// DeleteExtra counts live paths absent from the manifest as drift,
	// since an install would delete them.
	DeleteExtra bool
	// StopAtFirst returns as soon as one drifted path is found.
	StopAtFirst bool
}

// Result is the outcome of a drift check.
type Result struct {
	// Exists is false when the target directory is absent; nothing else
	// is compared in that case.
	Exists bool
	// Drifted holds the sorted relative paths that differ. Directories
	// end in "/".
	Drifted []string
}

// UpToDate reports whether the directory exists and matches.
func (r Result) UpToDate() bool {
	return r.Exists && len(r.Drifted) == 0
}

// Detect walks targetDir through filesystem and compares it against manifest.
func Detect(ctx context.Context, filesystem fsys.FileSystem, targetDir string, manifest []core.FileEntry, opts Options) (Result, error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "drift"), slog.String("target", targetDir))

	exists, err := filesystem.DirectoryExists(ctx, targetDir)
	if err != nil {
		return Result{}, fmt.Errorf("checking %s: %w", targetDir, err)
	}
	if !exists {
		logger.Log(ctx, slog.LevelDebug, "target directory does not exist")
		return Result{Exists: false}, nil
	}

	ignore, err := fsys.CompilePatterns(opts.Ignore)
	if err != nil {
		return Result{}, err
	}

	infos, err := filesystem.GetFileSystemInfos(ctx, targetDir, fsys.Mask{Exclude: opts.Ignore})
	if err != nil {
		return Result{}, err
	}
	live := make(map[string]fsys.Info, len(infos))
	for _, info := range infos {
		live[liveKey(info)] = info
	}

	d := &detector{opts: opts, drifted: make(map[string]bool)}
	expected := make(map[string]bool, len(manifest))

	for _, entry := range manifest {
		p := NormalizePath(entry.Path)
		if p == "" || fsys.Ignored(ignore, p) {
			continue
		}
		expected[p] = true
		for _, parent := range Parents(p) {
			expected[parent] = true
		}

		info, ok := live[p]
		switch {
		case !ok:
			logger.Log(ctx, slog.LevelDebug, "missing", slog.String("path", p))
			d.add(p)
		case strings.HasSuffix(p, "/"):
			// directories are never compared
		case d.fileDiffers(entry, info):
			logger.Log(ctx, slog.LevelDebug, "changed", slog.String("path", p),
				slog.Int64("size", info.Size), slog.Int64("expectedSize", entry.Size))
			d.add(p)
		}
		if d.done() {
			return d.result(), nil
		}
	}

	if opts.DeleteExtra {
		keys := make([]string, 0, len(live))
		for k := range live {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if expected[k] {
				continue
			}
			logger.Log(ctx, slog.LevelDebug, "extra", slog.String("path", k))
			d.add(k)
			if d.done() {
				break
			}
		}
	}

	return d.result(), nil
}

type detector struct {
	opts    Options
	drifted map[string]bool
}

func (d *detector) add(p string) { d.drifted[p] = true }

func (d *detector) done() bool { return d.opts.StopAtFirst && len(d.drifted) > 0 }

func (d *detector) result() Result {
	paths := make([]string, 0, len(d.drifted))
	for p := range d.drifted {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return Result{Exists: true, Drifted: paths}
}

func (d *detector) fileDiffers(entry core.FileEntry, info fsys.Info) bool {
	switch d.opts.Compare {
	case CompareSizeOnly:
		return entry.Size != info.Size
	case CompareSizeAndTimestamp:
		return entry.Size != info.Size || !SameSecond(entry.Modified, info.ModTime)
	default:
		return false
	}
}

func liveKey(info fsys.Info) string {
	if info.IsDir {
		return info.RelPath + "/"
	}
	return info.RelPath
}

// NormalizePath converts a manifest path to the slash-separated form used
// as a key: no leading slash, directories keep a trailing slash.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	dir := strings.HasSuffix(p, "/")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	if dir {
		p += "/"
	}
	return p
}

// Parents returns the directory keys above p, nearest first.
func Parents(p string) []string {
	var out []string
	for dir := path.Dir(strings.TrimSuffix(p, "/")); dir != "." && dir != "/"; dir = path.Dir(dir) {
		out = append(out, dir+"/")
	}
	return out
}

// SameSecond compares two times at whole-second precision.
func SameSecond(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
