package upack_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/upack"
	_ "github.com/git-pkgs/upack/all"
)

func manyVersions(n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, map[string]any{
			"group":   "tools",
			"name":    "hello",
			"version": fmt.Sprintf("%d.%d.%d", i/100, (i/10)%10, i%10),
		})
	}
	return out
}

func BenchmarkNew(b *testing.B) {
	feedTypes := []string{"upack", "dir"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ft := feedTypes[i%len(feedTypes)]
		_, _ = upack.New(ft, "https://proget.example.com/upack/Apps", nil)
	}
}

func BenchmarkParseSpecifier(b *testing.B) {
	specs := []string{"", "latest-stable", "3", "3.1", "3.1.4", "3.1.4-rc.1"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = upack.ParseSpecifier(specs[i%len(specs)])
	}
}

func BenchmarkResolveVersion(b *testing.B) {
	body, _ := json.Marshal(manyVersions(500))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	feed, _ := upack.New("upack", server.URL, upack.DefaultClient())
	id := upack.NewPackageID("tools/hello")
	spec, _ := upack.ParseSpecifier("3.4")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = upack.ResolveVersion(ctx, feed, id, spec)
	}
}

func BenchmarkResolveAll(b *testing.B) {
	body, _ := json.Marshal(manyVersions(50))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	refs := make([]upack.Reference, 20)
	for i := range refs {
		refs[i] = upack.Reference{ID: upack.NewPackageID("tools/hello"), Spec: "latest", FeedURL: server.URL}
	}
	sources := upack.NewSources(upack.DefaultClient())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = upack.ResolveAll(ctx, sources, refs)
	}
}
