package upackfeed

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/git-pkgs/upack/fetch"
	"github.com/git-pkgs/upack/internal/core"
)

func TestListVersions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upack/Apps/versions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("group") != "tools" || r.URL.Query().Get("name") != "hello" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"group":"tools","name":"hello","version":"1.0.0"},
			{"group":"tools","name":"hello","version":"2.0.0-beta"},
			{"group":"tools","name":"hello","version":"1.5.0"},
			{"group":"tools","name":"hello","version":"not-semver"}
		]`))
	}))
	defer server.Close()

	feed := New(server.URL+"/upack/Apps/", core.DefaultClient())
	versions, err := feed.ListVersions(context.Background(), core.PackageID{Group: "tools", Name: "hello"})
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}

	want := []string{"2.0.0-beta", "1.5.0", "1.0.0"}
	if len(versions) != len(want) {
		t.Fatalf("got %d versions, want %d", len(versions), len(want))
	}
	for i, v := range versions {
		if v.String() != want[i] {
			t.Errorf("versions[%d] = %s, want %s", i, v, want[i])
		}
	}
}

func TestListVersionsNotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"404", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"empty array", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`[]`)) }},
		{"null", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`null`)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			feed := New(server.URL, nil)
			_, err := feed.ListVersions(context.Background(), core.PackageID{Name: "missing"})
			if !errors.Is(err, core.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestListVersionsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("database offline"))
	}))
	defer server.Close()

	feed := New(server.URL, nil)
	_, err := feed.ListVersions(context.Background(), core.PackageID{Name: "hello"})
	httpErr, ok := core.AsHTTPError(err)
	if !ok {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != 500 || httpErr.Body != "database offline" {
		t.Errorf("HTTPError = %+v", httpErr)
	}
}

func TestGetManifest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("version") != "1.5.0" || q.Get("includeFileList") != "true" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{
			"group":"tools","name":"hello","version":"1.5.0",
			"title":"Hello","published":"2024-02-03T04:05:06Z","sha1":"abc","size":1234,
			"fileList":[
				{"name":"bin/"},
				{"name":"bin/app","size":100,"date":"2024-02-01T10:00:00.1234567"},
				{"name":"/README.md","size":5,"date":"2024-02-01T10:00:00Z"}
			]
		}`))
	}))
	defer server.Close()

	feed := New(server.URL, nil)
	m, err := feed.GetManifest(context.Background(), core.PackageID{Group: "tools", Name: "hello"}, core.MustParseVersion("1.5.0"))
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}

	if m.SHA1 != "abc" || m.Size != 1234 {
		t.Errorf("SHA1/Size = %q/%d", m.SHA1, m.Size)
	}
	if !m.Published.Equal(time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)) {
		t.Errorf("Published = %v", m.Published)
	}
	if m.Metadata["title"] != "Hello" {
		t.Errorf("Metadata = %v", m.Metadata)
	}
	if _, ok := m.Metadata["fileList"]; ok {
		t.Error("fileList should not be repeated in Metadata")
	}
	if len(m.Files) != 3 {
		t.Fatalf("got %d files, want 3", len(m.Files))
	}
	if !m.Files[0].IsDir() || m.Files[0].Size != 0 {
		t.Errorf("directory entry = %+v", m.Files[0])
	}
	if m.Files[1].Size != 100 || m.Files[1].Modified.IsZero() {
		t.Errorf("file entry = %+v", m.Files[1])
	}
	if m.Files[2].Path != "README.md" {
		t.Errorf("leading slash not trimmed: %q", m.Files[2].Path)
	}
}

func TestGetManifestWithoutFileList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"group":"","name":"orphan","version":"1.0.0"}`))
	}))
	defer server.Close()

	feed := New(server.URL, nil)
	_, err := feed.GetManifest(context.Background(), core.PackageID{Name: "orphan"}, core.MustParseVersion("1.0.0"))
	if !errors.Is(err, core.ErrManifestUnavailable) {
		t.Errorf("expected ErrManifestUnavailable, got %v", err)
	}
}

func TestGetManifestNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	feed := New(server.URL, nil)
	_, err := feed.GetManifest(context.Background(), core.PackageID{Name: "hello"}, core.MustParseVersion("9.9.9"))
	var nf *core.NotFoundError
	if !errors.As(err, &nf) || nf.Spec != "9.9.9" {
		t.Errorf("expected NotFoundError for 9.9.9, got %v", err)
	}
}

func TestOpenContent(t *testing.T) {
	content := strings.Repeat("z", 10000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/tools/sub/hello/1.0.0" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-ApiKey") != "secret" {
			t.Errorf("api key header not forwarded")
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write([]byte(content))
	}))
	defer server.Close()

	feed := New(server.URL, core.NewClient(core.WithHeader("X-ApiKey", "secret")))

	var lastTransferred, lastTotal int64
	rc, err := feed.OpenContent(context.Background(), core.PackageID{Group: "tools/sub", Name: "hello"}, core.MustParseVersion("1.0.0"),
		func(transferred, total int64) {
			lastTransferred, lastTotal = transferred, total
		})
	if err != nil {
		t.Fatalf("OpenContent failed: %v", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != content {
		t.Error("content mismatch")
	}
	if lastTransferred != int64(len(content)) {
		t.Errorf("progress transferred = %d", lastTransferred)
	}
	if lastTotal != int64(len(content)) {
		t.Errorf("progress total = %d, want Content-Length", lastTotal)
	}
}

func TestOpenContentNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	feed := New(server.URL, nil)
	_, err := feed.OpenContent(context.Background(), core.PackageID{Name: "hello"}, core.MustParseVersion("1.0.0"), nil)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBreakerState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	feed := New(server.URL, nil)
	if states := feed.BreakerState(); len(states) != 0 {
		t.Errorf("states before any download = %v", states)
	}

	_, err := feed.OpenContent(context.Background(), core.PackageID{Name: "hello"}, core.MustParseVersion("1.0.0"), nil)
	if err == nil {
		t.Fatal("expected error from unavailable feed")
	}
	states := feed.BreakerState()
	host := strings.TrimPrefix(server.URL, "http://")
	if states[host] != "closed" {
		t.Errorf("states = %v, want %s closed after one failure", states, host)
	}

	plain := New(server.URL, nil, WithFetcher(fetch.NewFetcher()))
	if states := plain.BreakerState(); states != nil {
		t.Errorf("plain fetcher states = %v, want nil", states)
	}
}

func TestUpload(t *testing.T) {
	payload := strings.Repeat("package bytes ", 500)
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/upload" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/zip" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	feed := New(server.URL, nil)
	sum, err := feed.Upload(context.Background(), strings.NewReader(payload))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	h := sha1.Sum([]byte(payload)) //nolint:gosec
	if sum != hex.EncodeToString(h[:]) {
		t.Errorf("sha1 = %s, want %s", sum, hex.EncodeToString(h[:]))
	}
	if string(received) != payload {
		t.Error("server received different bytes")
	}
}

func TestUploadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("no publish rights"))
	}))
	defer server.Close()

	feed := New(server.URL, nil)
	_, err := feed.Upload(context.Background(), strings.NewReader("x"))
	httpErr, ok := core.AsHTTPError(err)
	if !ok || httpErr.StatusCode != http.StatusForbidden || httpErr.Body != "no publish rights" {
		t.Errorf("expected 403 HTTPError with body, got %v", err)
	}
}

func TestRegisteredFeedType(t *testing.T) {
	feed, err := core.New("upack", "https://feed.example.com/upack/Apps", nil)
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	if feed.Type() != "upack" || feed.URL() != "https://feed.example.com/upack/Apps" {
		t.Errorf("feed = %s %s", feed.Type(), feed.URL())
	}
	if _, err := core.New("upack", "", nil); err == nil {
		t.Error("upack feed without URL should fail")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2024-01-02T03:04:05+02:00", time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC)},
		{"2024-01-02T03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2024-01-02 03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"garbage", time.Time{}},
		{"", time.Time{}},
	}
	for _, tt := range tests {
		if got := parseTime(tt.in); !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
