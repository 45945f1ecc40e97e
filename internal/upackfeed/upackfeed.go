// Package upackfeed provides a client for universal package feeds served
// over HTTP, such as ProGet's upack endpoints.
package upackfeed

import (
	"context"
	"crypto/sha1" //nolint:gosec // the feed protocol identifies packages by SHA-1
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/git-pkgs/upack/fetch"
	"github.com/git-pkgs/upack/internal/core"
)

const feedType = "upack"

func init() {
	core.Register(feedType, "", func(baseURL string, client *core.Client) core.Feed {
		return New(baseURL, client)
	})
}

type Feed struct {
	baseURL string
	client  *core.Client
	urls    *core.FeedURLs
	fetcher fetch.FetcherInterface
}

// Option configures a Feed.
type Option func(*Feed)

// WithFetcher replaces the content fetcher.
func WithFetcher(f fetch.FetcherInterface) Option {
	return func(feed *Feed) {
		feed.fetcher = f
	}
}

// New creates a feed client for a feed URL such as
// https://proget.example.com/upack/Apps. Content downloads go through a
// circuit-breaking fetcher that shares the client's User-Agent and headers.
func New(baseURL string, client *core.Client, opts ...Option) *Feed {
	if client == nil {
		client = core.DefaultClient()
	}
	f := &Feed{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
	f.urls = core.NewFeedURLs(f.baseURL)
	for _, opt := range opts {
		opt(f)
	}
	if f.fetcher == nil {
		fetchOpts := []fetch.Option{fetch.WithUserAgent(client.UserAgent())}
		for name, values := range client.Headers() {
			for _, v := range values {
				fetchOpts = append(fetchOpts, fetch.WithHeader(name, v))
			}
		}
		f.fetcher = fetch.NewCircuitBreakerFetcher(fetch.NewFetcher(fetchOpts...))
	}
	return f
}

func (f *Feed) Type() string { return feedType }

func (f *Feed) URL() string { return f.baseURL }

func (f *Feed) URLs() core.URLBuilder { return f.urls }

// BreakerState reports the circuit breaker of each feed host contacted for
// content, keyed by host. It is nil when the fetcher has no breakers.
func (f *Feed) BreakerState() map[string]string {
	cb, ok := f.fetcher.(*fetch.CircuitBreakerFetcher)
	if !ok {
		return nil
	}
	return cb.GetBreakerState()
}

type versionInfo struct {
	Group       string      `json:"group"`
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Published   string      `json:"published"`
	Size        int64       `json:"size"`
	SHA1        string      `json:"sha1"`
	FileList    *[]fileInfo `json:"fileList"`
}

type fileInfo struct {
	Name string `json:"name"`
	Size *int64 `json:"size"`
	Date string `json:"date"`
}

func (f *Feed) ListVersions(ctx context.Context, id core.PackageID) ([]core.Version, error) {
	body, err := f.client.GetBody(ctx, f.urls.Versions(id.Group, id.Name))
	if err != nil {
		return nil, f.translate(err, id, "")
	}

	infos, err := decodeVersions(body)
	if err != nil {
		return nil, fmt.Errorf("decoding versions of %s: %w", id, err)
	}
	if len(infos) == 0 {
		return nil, &core.NotFoundError{Feed: f.baseURL, Package: id.FullName()}
	}

	versions := make([]core.Version, 0, len(infos))
	for _, info := range infos {
		v, err := core.ParseVersion(info.Version)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	core.SortDescending(versions)
	return versions, nil
}

// decodeVersions accepts either an array of versions or a single object.
func decodeVersions(body []byte) ([]versionInfo, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var one versionInfo
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, err
		}
		return []versionInfo{one}, nil
	}
	var many []versionInfo
	if err := json.Unmarshal(body, &many); err != nil {
		return nil, err
	}
	return many, nil
}

func (f *Feed) GetManifest(ctx context.Context, id core.PackageID, version core.Version) (*core.PackageManifest, error) {
	body, err := f.client.GetBody(ctx, f.urls.Version(id.Group, id.Name, version.String(), true))
	if err != nil {
		return nil, f.translate(err, id, version.String())
	}

	infos, err := decodeVersions(body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", id, version, err)
	}
	if len(infos) == 0 {
		return nil, &core.NotFoundError{Feed: f.baseURL, Package: id.FullName(), Spec: version.String()}
	}
	info := infos[0]
	if info.FileList == nil {
		return nil, fmt.Errorf("%s %s: %w", id, version, core.ErrManifestUnavailable)
	}

	var raw map[string]any
	if !strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		_ = json.Unmarshal(body, &raw)
		delete(raw, "fileList")
	}

	m := &core.PackageManifest{
		ID:        core.PackageID{Group: info.Group, Name: info.Name},
		Version:   version,
		Published: parseTime(info.Published),
		SHA1:      info.SHA1,
		Size:      info.Size,
		Metadata:  raw,
		Files:     make([]core.FileEntry, 0, len(*info.FileList)),
	}
	if m.ID.Name == "" {
		m.ID = id
	}
	for _, fi := range *info.FileList {
		entry := core.FileEntry{Path: strings.TrimLeft(strings.ReplaceAll(fi.Name, "\\", "/"), "/")}
		if !entry.IsDir() {
			if fi.Size != nil {
				entry.Size = *fi.Size
			}
			entry.Modified = parseTime(fi.Date)
		}
		m.Files = append(m.Files, entry)
	}
	return m, nil
}

func (f *Feed) OpenContent(ctx context.Context, id core.PackageID, version core.Version, progress core.ProgressFunc) (io.ReadCloser, error) {
	artifact, err := f.fetcher.Fetch(ctx, f.urls.Download(id.Group, id.Name, version.String()))
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, &core.NotFoundError{Feed: f.baseURL, Package: id.FullName(), Spec: version.String()}
		}
		return nil, err
	}
	if progress == nil {
		return artifact.Body, nil
	}
	return fetch.NewProgressReader(artifact.Body, artifact.Size, progress), nil
}

// Upload streams r to the feed and returns the SHA-1 of what was sent,
// hashed on the way out.
func (f *Feed) Upload(ctx context.Context, r io.Reader) (string, error) {
	h := sha1.New() //nolint:gosec
	if _, err := f.client.Put(ctx, f.urls.Upload(), io.TeeReader(r, h), "application/zip"); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (f *Feed) translate(err error, id core.PackageID, version string) error {
	if httpErr, ok := core.AsHTTPError(err); ok && httpErr.IsNotFound() {
		return &core.NotFoundError{Feed: f.baseURL, Package: id.FullName(), Spec: version}
	}
	return err
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTime reads the timestamp formats feeds emit. Times without a zone
// are UTC. Unparseable values yield the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var _ core.Feed = (*Feed)(nil)
