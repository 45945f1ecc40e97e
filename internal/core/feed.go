package core

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Feed is the interface implemented by every package feed type.
type Feed interface {
	// Type returns the feed type this feed was registered under (e.g., "upack", "dir").
	Type() string

	// URL returns the feed endpoint or root the feed was created for.
	URL() string

	// ListVersions returns every version of a package, highest first.
	ListVersions(ctx context.Context, id PackageID) ([]Version, error)

	// GetManifest returns metadata and the file list for one version.
	// Fails with a NotFoundError when the feed has no such version.
	GetManifest(ctx context.Context, id PackageID, version Version) (*PackageManifest, error)

	// OpenContent streams the package archive. progress may be nil; when set
	// it receives (transferred, total) with total zero if unknown.
	OpenContent(ctx context.Context, id PackageID, version Version, progress ProgressFunc) (io.ReadCloser, error)

	// Upload publishes a package archive and returns the lowercase hex
	// SHA-1 of the bytes sent.
	Upload(ctx context.Context, r io.Reader) (string, error)
}

// Factory creates a feed instance for a given base URL.
type Factory func(baseURL string, client *Client) Feed

var (
	factories = make(map[string]Factory)
	defaults  = make(map[string]string)
	mu        sync.RWMutex
)

// Register adds a feed factory to the global registry.
// feedType is the name used in source configuration (e.g., "upack", "dir").
// defaultURL is used when a source does not name one.
func Register(feedType string, defaultURL string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[feedType] = factory
	defaults[feedType] = defaultURL
}

// New creates a new feed of the given type.
// If baseURL is empty, the default URL for the type is used.
func New(feedType string, baseURL string, client *Client) (Feed, error) {
	mu.RLock()
	factory, ok := factories[feedType]
	defaultURL := defaults[feedType]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown feed type: %s", feedType)
	}

	if baseURL == "" {
		baseURL = defaultURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("feed type %s needs a URL", feedType)
	}

	if client == nil {
		client = DefaultClient()
	}

	return factory(baseURL, client), nil
}

// SupportedFeedTypes returns all registered feed types, sorted.
func SupportedFeedTypes() []string {
	mu.RLock()
	defer mu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultURL returns the default URL for a feed type.
func DefaultURL(feedType string) string {
	mu.RLock()
	defer mu.RUnlock()
	return defaults[feedType]
}
