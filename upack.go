// Package upack deploys universal packages from feeds into directories.
//
// A feed lists package versions and serves package archives. A deployment
// resolves a version specifier against the feed, checks the installed
// package registry and the target directory, and only downloads and
// reconciles the target when something differs.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/upack"
//		_ "github.com/git-pkgs/upack/all"
//	)
//
//	feed, err := upack.New("upack", "https://proget.example.com/upack/Apps", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	d := upack.NewDeployer(upack.OSFileSystem())
//	res, err := d.Deploy(context.Background(), upack.DeployRequest{
//		Feed:      feed,
//		ID:        upack.NewPackageID("tools/hello"),
//		Spec:      "1.2",
//		TargetDir: "/opt/hello",
//		Compare:   upack.CompareSizeAndTimestamp,
//	})
//
// To register every feed type, import the all subpackage for its side
// effects.
package upack

import (
	"context"
	"io"

	"github.com/git-pkgs/purl"
	"github.com/git-pkgs/upack/client"
	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/deploy"
	"github.com/git-pkgs/upack/internal/drift"
	"github.com/git-pkgs/upack/internal/fsys"
	"github.com/git-pkgs/upack/internal/installed"
	"github.com/git-pkgs/upack/internal/packagefile"
)

// Re-export types from internal/core
type (
	// Feed is the interface implemented by every feed type.
	Feed = core.Feed

	// PackageID identifies a package by group and name.
	PackageID = core.PackageID

	// Version is a strict semantic version.
	Version = core.Version

	// Specifier selects a version: latest, latest stable, a major or
	// major.minor line, or an exact version.
	Specifier = core.Specifier

	// PackageManifest is what a feed knows about one package version.
	PackageManifest = core.PackageManifest

	// FileEntry is one path inside a package.
	FileEntry = core.FileEntry

	// Metadata is a package's upack.json.
	Metadata = core.Metadata

	// Reference names a package, a version specifier and where to get it.
	Reference = core.Reference

	// Sources is a named table of feeds.
	Sources = core.Sources

	// Resolved is the outcome of resolving one reference.
	Resolved = core.Resolved
)

// Re-export types from client
type (
	// Client is an HTTP client for feed APIs.
	Client = client.Client

	// URLBuilder constructs URLs for a feed.
	URLBuilder = client.URLBuilder
)

// Deployment types.
type (
	Deployer         = deploy.Deployer
	DeployRequest    = deploy.Request
	DeployResult     = deploy.Result
	DeployOutcome    = deploy.Outcome
	DeployOption     = deploy.Option
	DeployMetrics    = deploy.Metrics
	Progress         = deploy.Progress
	ProgressFunc     = deploy.ProgressFunc
	Stage            = deploy.Stage
	CompareMode      = drift.CompareMode
	DriftOptions     = drift.Options
	DriftResult      = drift.Result
	FileSystem       = fsys.FileSystem
	Registry         = installed.Registry
	RegistryLock     = installed.Lock
	RegistryScope    = installed.Scope
	RegistryOption   = installed.Option
	InstalledPackage = installed.Package
	PackageFile      = packagefile.Package
)

const (
	CompareNone             = drift.CompareNone
	CompareSizeOnly         = drift.CompareSizeOnly
	CompareSizeAndTimestamp = drift.CompareSizeAndTimestamp

	ScopeNone    = installed.ScopeNone
	ScopeMachine = installed.ScopeMachine
	ScopeUser    = installed.ScopeUser
)

// Re-export errors
var (
	ErrNotFound            = core.ErrNotFound
	ErrManifestUnavailable = core.ErrManifestUnavailable
	ErrInvalidVersion      = core.ErrInvalidVersion
	ErrInvalidSpecifier    = core.ErrInvalidSpecifier
	ErrLockTimeout         = installed.ErrLockTimeout
	ErrInvalidOptions      = deploy.ErrInvalidOptions
)

// Error types
type (
	HTTPError        = client.HTTPError
	NotFoundError    = core.NotFoundError
	LockTimeoutError = installed.LockTimeoutError
	ReconcileError   = deploy.ReconcileError
)

// New creates a feed of the given type. If baseURL is empty the feed
// type's default URL is used; if client is nil, DefaultClient() is used.
//
// Supported feed types: "upack", "dir"
func New(feedType string, baseURL string, c *Client) (Feed, error) {
	return core.New(feedType, baseURL, c)
}

// DefaultClient returns a client with a 30s timeout and no retries.
func DefaultClient() *Client {
	return client.DefaultClient()
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	return client.NewClient(opts...)
}

// Option configures a Client.
type Option = client.Option

// WithTimeout sets the HTTP client timeout.
var WithTimeout = client.WithTimeout

// WithMaxRetries sets the maximum number of retries.
var WithMaxRetries = client.WithMaxRetries

// WithHeader adds a header to every request, e.g. X-ApiKey.
var WithHeader = client.WithHeader

// SupportedFeedTypes returns all registered feed types.
// Note: feed types must be imported to be registered.
func SupportedFeedTypes() []string {
	return core.SupportedFeedTypes()
}

// DefaultURL returns the default URL for a feed type.
func DefaultURL(feedType string) string {
	return core.DefaultURL(feedType)
}

// NewPackageID parses "group/name".
func NewPackageID(fullName string) PackageID {
	return core.NewPackageID(fullName)
}

// ParseVersion parses a strict semantic version.
func ParseVersion(s string) (Version, error) {
	return core.ParseVersion(s)
}

// ParseSpecifier parses a version specifier. An empty string means latest.
func ParseSpecifier(s string) (Specifier, error) {
	return core.ParseSpecifier(s)
}

// ResolveVersion picks the version of id on feed that satisfies spec.
func ResolveVersion(ctx context.Context, feed Feed, id PackageID, spec Specifier) (Version, error) {
	return core.ResolveVersion(ctx, feed, id, spec)
}

// ParseReference parses a pkg:upack package URL into a Reference.
func ParseReference(purlStr string) (*Reference, error) {
	return core.ParseReference(purlStr)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses any Package URL string into its components.
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}

// NewSources creates an empty source table.
func NewSources(c *Client) *Sources {
	return core.NewSources(c)
}

// ResolveAll resolves many references concurrently.
func ResolveAll(ctx context.Context, sources *Sources, refs []Reference) []Resolved {
	return core.ResolveAll(ctx, sources, refs)
}

// OSFileSystem returns the local file system.
func OSFileSystem() FileSystem {
	return fsys.NewOS()
}

// NewDeployer creates a Deployer operating on filesystem.
func NewDeployer(filesystem FileSystem, opts ...DeployOption) *Deployer {
	return deploy.New(filesystem, opts...)
}

var (
	WithRegistry               = deploy.WithRegistry
	WithLockTimeout            = deploy.WithLockTimeout
	WithRegisterTimeout        = deploy.WithRegisterTimeout
	WithRegistryWriteSemaphore = deploy.WithRegistryWriteSemaphore
	WithWorkDir                = deploy.WithWorkDir
	WithMetrics                = deploy.WithMetrics
	WithInstalledUsing         = deploy.WithInstalledUsing
	NewMetrics                 = deploy.NewMetrics
	WithRegistryRoot           = installed.WithRoot
	WithRegistryLease          = installed.WithLease
)

// OpenRegistry opens the installed-package registry for scope.
func OpenRegistry(scope RegistryScope, opts ...RegistryOption) (*Registry, error) {
	return installed.Open(scope, opts...)
}

// DetectDrift compares targetDir against a package file list.
func DetectDrift(ctx context.Context, filesystem FileSystem, targetDir string, files []FileEntry, opts DriftOptions) (DriftResult, error) {
	return drift.Detect(ctx, filesystem, targetDir, files, opts)
}

// CreatePackage writes a package archive of srcDir to w.
func CreatePackage(ctx context.Context, w io.Writer, srcDir string, meta Metadata) error {
	return packagefile.Create(ctx, w, srcDir, meta)
}

// OpenPackage reads a package archive.
func OpenPackage(r io.ReaderAt, size int64) (*PackageFile, error) {
	return packagefile.Open(r, size)
}
