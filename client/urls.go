package client

import (
	"fmt"
	"net/url"
	"strings"
)

// URLBuilder constructs URLs for a universal package feed.
type URLBuilder interface {
	Versions(group, name string) string
	Version(group, name, version string, includeFileList bool) string
	Download(group, name, version string) string
	Upload() string
	PURL(group, name, version string) string
}

// FeedURLs builds URLs for the upack feed protocol rooted at a feed URL
// such as https://proget.example.com/upack/Apps.
type FeedURLs struct {
	Base string
}

func NewFeedURLs(base string) *FeedURLs {
	return &FeedURLs{Base: strings.TrimSuffix(base, "/")}
}

func (f *FeedURLs) Versions(group, name string) string {
	q := url.Values{}
	q.Set("group", group)
	q.Set("name", name)
	return f.Base + "/versions?" + q.Encode()
}

func (f *FeedURLs) Version(group, name, version string, includeFileList bool) string {
	q := url.Values{}
	q.Set("group", group)
	q.Set("name", name)
	q.Set("version", version)
	if includeFileList {
		q.Set("includeFileList", "true")
	}
	return f.Base + "/versions?" + q.Encode()
}

func (f *FeedURLs) Download(group, name, version string) string {
	segments := make([]string, 0, 4)
	if group != "" {
		for _, part := range strings.Split(group, "/") {
			segments = append(segments, url.PathEscape(part))
		}
	}
	segments = append(segments, url.PathEscape(name), url.PathEscape(version))
	return f.Base + "/download/" + strings.Join(segments, "/")
}

func (f *FeedURLs) Upload() string {
	return f.Base + "/upload"
}

func (f *FeedURLs) PURL(group, name, version string) string {
	full := name
	if group != "" {
		full = group + "/" + name
	}
	if version == "" {
		return fmt.Sprintf("pkg:upack/%s", full)
	}
	return fmt.Sprintf("pkg:upack/%s@%s", full, version)
}
