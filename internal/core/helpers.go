package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 15

// ResolveVersion lists the versions of a package and picks the one the
// specifier asks for. No match is reported as a *NotFoundError naming the
// package and the requested specifier.
func ResolveVersion(ctx context.Context, feed Feed, id PackageID, spec Specifier) (Version, error) {
	versions, err := feed.ListVersions(ctx, id)
	if err != nil {
		return Version{}, err
	}

	// Not every feed lists versions in order.
	sorted := append([]Version(nil), versions...)
	SortDescending(sorted)

	v, ok := Resolve(spec, sorted)
	if !ok {
		return Version{}, &NotFoundError{Feed: feed.URL(), Package: id.FullName(), Spec: spec.String()}
	}
	return v, nil
}

// Sources is a named table of feeds. Names are case-insensitive.
type Sources struct {
	client *Client
	mu     sync.RWMutex
	feeds  map[string]Feed
}

// NewSources creates an empty table. Feeds created on demand for
// references that carry a repository_url use client.
func NewSources(client *Client) *Sources {
	if client == nil {
		client = DefaultClient()
	}
	return &Sources{client: client, feeds: make(map[string]Feed)}
}

// Add registers a feed under name, replacing any previous one.
func (s *Sources) Add(name string, feed Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[strings.ToLower(name)] = feed
}

// AddNew constructs a feed through the factory registry and adds it.
func (s *Sources) AddNew(name, feedType, url string) error {
	feed, err := New(feedType, url, s.client)
	if err != nil {
		return fmt.Errorf("source %s: %w", name, err)
	}
	s.Add(name, feed)
	return nil
}

// Get returns the feed registered under name.
func (s *Sources) Get(name string) (Feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	feed, ok := s.feeds[strings.ToLower(name)]
	return feed, ok
}

// Names returns the registered source names, sorted.
func (s *Sources) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.feeds))
	for name := range s.feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FeedFor picks the feed a reference points at. A named source wins over
// a repository URL; a bare URL gets an HTTP upack feed.
func (s *Sources) FeedFor(ref Reference) (Feed, error) {
	if ref.Source != "" {
		feed, ok := s.Get(ref.Source)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", ref.Source)
		}
		return feed, nil
	}
	if ref.FeedURL != "" {
		return New(PURLType, ref.FeedURL, s.client)
	}
	return nil, fmt.Errorf("package %s names neither a source nor a feed URL", ref.ID.FullName())
}

// Resolved is the outcome of resolving one reference.
type Resolved struct {
	Reference Reference
	Feed      Feed
	Version   Version
	Err       error
}

// ResolveAll resolves many references in parallel. Failures are reported
// per reference; results keep the order of refs.
func ResolveAll(ctx context.Context, sources *Sources, refs []Reference) []Resolved {
	return ResolveAllWithConcurrency(ctx, sources, refs, defaultConcurrency)
}

// ResolveAllWithConcurrency resolves references with a custom concurrency limit.
func ResolveAllWithConcurrency(ctx context.Context, sources *Sources, refs []Reference, concurrency int) []Resolved {
	results := make([]Resolved, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, ref := range refs {
		results[i].Reference = ref
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			feed, err := sources.FeedFor(ref)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Feed = feed

			spec, err := ParseSpecifier(ref.Spec)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Version, results[i].Err = ResolveVersion(gctx, feed, ref.ID, spec)
			return nil
		})
	}

	_ = g.Wait()
	return results
}
