package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type env struct {
	dir      string
	feedDir  string
	target   string
	config   string
	packages string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:      dir,
		feedDir:  filepath.Join(dir, "feed"),
		target:   filepath.Join(dir, "target"),
		config:   filepath.Join(dir, "upack.yaml"),
		packages: filepath.Join(dir, "out"),
	}
	body := fmt.Sprintf(`sources:
  local:
    type: dir
    url: %q
registry:
  scope: machine
  root: %q
deploy:
  compare: size
`, e.feedDir, filepath.Join(dir, "registry"))
	if err := os.WriteFile(e.config, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(e.packages, 0o755); err != nil {
		t.Fatal(err)
	}
	return e
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func (e *env) publish(t *testing.T, version string, files map[string]string) {
	t.Helper()
	src := filepath.Join(e.dir, "src-"+version)
	for rel, content := range files {
		p := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	file := filepath.Join(e.packages, "hello-"+version+".upack")
	if _, err := e.run(t, "pack", src, "--group", "apps", "--name", "hello", "--version", version, "-o", file); err != nil {
		t.Fatalf("pack: %v", err)
	}
	out, err := e.run(t, "push", file, "--source", "local")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.Contains(out, "sha1 ") {
		t.Fatalf("push output = %q", out)
	}
}

func TestPackPushDeployListDrift(t *testing.T) {
	e := newEnv(t)
	e.publish(t, "1.0.0", map[string]string{"bin/app": "one", "README.md": "readme"})
	e.publish(t, "1.1.0", map[string]string{"bin/app": "one-one", "README.md": "readme"})

	out, err := e.run(t, "versions", "apps/hello", "--json")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	var versions []string
	if err := json.Unmarshal([]byte(out), &versions); err != nil {
		t.Fatalf("versions output %q: %v", out, err)
	}
	if len(versions) != 2 || versions[0] != "1.1.0" {
		t.Errorf("versions = %v", versions)
	}

	out, err = e.run(t, "deploy", "apps/hello@1.0", "--target", e.target, "--json")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	var results []deployOutput
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("deploy output %q: %v", out, err)
	}
	if len(results) != 1 || !results[0].Installed || !results[0].Registered || results[0].Version != "1.0.0" {
		t.Errorf("deploy results = %+v", results)
	}

	out, err = e.run(t, "deploy", "apps/hello@1.0", "--target", e.target)
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("second deploy output = %q", out)
	}

	out, err = e.run(t, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed []map[string]any
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("list output %q: %v", out, err)
	}
	if len(listed) != 1 || listed[0]["name"] != "hello" || listed[0]["version"] != "1.0.0" {
		t.Errorf("listed = %v", listed)
	}

	if _, err := e.run(t, "drift", "apps/hello", "--version", "1.0.0", "--target", e.target); err != nil {
		t.Errorf("drift on fresh install: %v", err)
	}
	if err := os.WriteFile(filepath.Join(e.target, "README.md"), []byte("changed here"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = e.run(t, "drift", "apps/hello", "--version", "1.0.0", "--target", e.target)
	if !errors.Is(err, errDrifted) {
		t.Errorf("drift after edit = %v, want errDrifted", err)
	}
	if !strings.Contains(out, "README.md") {
		t.Errorf("drift output = %q", out)
	}
}

func TestDeployPackageURL(t *testing.T) {
	e := newEnv(t)
	e.publish(t, "2.0.0", map[string]string{"app.sh": "echo"})

	purl := "pkg:upack/apps/hello@2?source=local"
	out, err := e.run(t, "deploy", purl, "--target", e.target, "--no-registry")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !strings.Contains(out, "2.0.0 installed") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(e.target, "app.sh")); err != nil {
		t.Error(err)
	}
}

func TestDeployUnknownPackageFails(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "deploy", "apps/missing", "--target", e.target)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out, "failed") {
		t.Errorf("output = %q", out)
	}
}

func TestDeployFailureReportsBreakers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/versions" && r.URL.Query().Get("version") != "":
			_, _ = w.Write([]byte(`{"group":"apps","name":"hello","version":"1.0.0",` +
				`"fileList":[{"name":"a.txt","size":1,"date":"2024-01-01T00:00:00Z"}]}`))
		case r.URL.Path == "/versions":
			_, _ = w.Write([]byte(`[{"group":"apps","name":"hello","version":"1.0.0"}]`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	e := newEnv(t)
	out, err := e.run(t, "deploy", "apps/hello", "--feed", server.URL, "--target", e.target, "--no-registry", "--json")
	if err == nil {
		t.Fatal("expected error from unavailable download")
	}
	var results []deployOutput
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("deploy output %q: %v", out, err)
	}
	if len(results) != 1 || results[0].Error == "" {
		t.Fatalf("results = %+v", results)
	}
	host := strings.TrimPrefix(server.URL, "http://")
	if results[0].Breakers[host] != "closed" {
		t.Errorf("breakers = %v, want %s closed", results[0].Breakers, host)
	}
}

func TestDeployRequiresTarget(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run(t, "deploy", "apps/hello"); err == nil {
		t.Error("expected error without --target")
	}
}

func TestInvalidConfigIsReported(t *testing.T) {
	e := newEnv(t)
	if err := os.WriteFile(e.config, []byte("registry:\n  scope: galaxy\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := e.run(t, "versions", "apps/hello", "--feed", e.feedDir, "--feed-type", "dir")
	if err == nil || !strings.Contains(err.Error(), "registry.scope") {
		t.Errorf("err = %v", err)
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		in      string
		group   string
		name    string
		spec    string
		source  string
		wantErr bool
	}{
		{in: "apps/hello", group: "apps", name: "hello"},
		{in: "apps/sub/hello@1.2", group: "apps/sub", name: "hello", spec: "1.2"},
		{in: "hello@latest-stable", name: "hello", spec: "latest-stable"},
		{in: "pkg:upack/apps/hello@3?source=internal", group: "apps", name: "hello", spec: "3", source: "internal"},
		{in: "pkg:npm/left-pad@1.0.0", wantErr: true},
		{in: "/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, err := parseReference(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseReference(%q) = %+v, want error", tt.in, ref)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ref.ID.Group != tt.group || ref.ID.Name != tt.name || ref.Spec != tt.spec || ref.Source != tt.source {
				t.Errorf("parseReference(%q) = %+v", tt.in, ref)
			}
		})
	}
}

func TestBaseLoggerRejectsUnknownLevel(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run(t, "--loglevel", "chatty", "list"); err == nil {
		t.Error("expected error for unknown log level")
	}
}
