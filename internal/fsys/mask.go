package fsys

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Mask filters entries by slash-separated relative path. An empty Include
// list includes everything; Exclude always wins.
//
// Patterns use glob syntax with "/" as separator: "*" stays within one
// path segment and "**" crosses segments.
type Mask struct {
	Include []string
	Exclude []string
}

// Matcher is a compiled Mask.
type Matcher struct {
	include []glob.Glob
	exclude []glob.Glob
}

// Compile compiles every pattern in the mask.
func (m Mask) Compile() (*Matcher, error) {
	include, err := compileAll(m.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compileAll(m.Exclude)
	if err != nil {
		return nil, err
	}
	return &Matcher{include: include, exclude: exclude}, nil
}

// CompilePatterns compiles patterns into globs matching relative paths.
func CompilePatterns(patterns []string) ([]glob.Glob, error) {
	return compileAll(patterns)
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Match reports whether a relative path passes the mask. Directories may
// carry a trailing slash.
func (m *Matcher) Match(relPath string) bool {
	if m == nil {
		return true
	}
	if m.Excludes(relPath) {
		return false
	}
	if len(m.include) == 0 {
		return true
	}
	return MatchAny(m.include, strings.TrimSuffix(relPath, "/"))
}

// Excludes reports whether relPath, or a directory above it, matches an
// exclude pattern.
func (m *Matcher) Excludes(relPath string) bool {
	return m != nil && Ignored(m.exclude, relPath)
}

// Ignored reports whether relPath or any of its parent directories matches
// one of globs. A directory path ends in "/", so "logs/**" covers the logs
// directory itself as well as everything below it.
func Ignored(globs []glob.Glob, relPath string) bool {
	if len(globs) == 0 {
		return false
	}
	if strings.HasSuffix(relPath, "/") && MatchAny(globs, relPath) {
		return true
	}
	p := strings.TrimSuffix(relPath, "/")
	for p != "" {
		if MatchAny(globs, p) {
			return true
		}
		i := strings.LastIndex(p, "/")
		if i < 0 {
			break
		}
		p = p[:i]
	}
	return false
}

// MatchAny reports whether any glob matches the path.
func MatchAny(globs []glob.Glob, relPath string) bool {
	for _, g := range globs {
		if g.Match(relPath) {
			return true
		}
	}
	return false
}
