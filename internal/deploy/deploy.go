// Package deploy runs the package deployment pipeline: resolve a version,
// decide whether the target needs it, then download, reconcile the target
// directory and record the installation.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/semaphore"

	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/drift"
	"github.com/git-pkgs/upack/internal/fsys"
	"github.com/git-pkgs/upack/internal/installed"
)

const (
	defaultLockTimeout     = 30 * time.Second
	defaultRegisterTimeout = 5 * time.Second
	defaultInstalledUsing  = "upack"
)

// Request describes one deployment.
type Request struct {
	Feed core.Feed
	ID   core.PackageID
	// Spec is the raw version specifier; empty means latest.
	Spec      string
	TargetDir string

	// Compare selects the file comparison; CompareNone skips the drift
	// check entirely.
	Compare     drift.CompareMode
	DeleteExtra bool
	// Ignore lists relative-path globs that are never compared or deleted.
	Ignore []string

	Reason      string
	InstalledBy string
	Progress    ProgressFunc
}

// Result reports what a deployment did.
type Result struct {
	ID      core.PackageID
	Version core.Version
	// Installed is true when files were reconciled.
	Installed bool
	// Reason says why an install was needed; empty when none was.
	Reason string
	// Drifted lists the paths the drift check flagged.
	Drifted []string
	// Registered is true when the registry write succeeded.
	Registered bool
	Warnings   []string
}

// Deployer runs deployments against one file system.
type Deployer struct {
	fs              fsys.FileSystem
	registry        *installed.Registry
	lockTimeout     time.Duration
	registerTimeout time.Duration
	writeSem        *semaphore.Weighted
	workDir         string
	installedUsing  string
	metrics         *Metrics
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithRegistry enables the registry check and registration.
func WithRegistry(r *installed.Registry) Option {
	return func(d *Deployer) {
		d.registry = r
	}
}

// WithLockTimeout bounds the registry lock wait during the pre-install check.
func WithLockTimeout(t time.Duration) Option {
	return func(d *Deployer) {
		d.lockTimeout = t
	}
}

// WithRegisterTimeout bounds the registry lock wait when recording an
// installation. A timeout there is only a warning.
func WithRegisterTimeout(t time.Duration) Option {
	return func(d *Deployer) {
		d.registerTimeout = t
	}
}

// WithRegistryWriteSemaphore shares a semaphore that limits how many
// deployments contend for the registry lock at once. Deployers built
// without one get a private semaphore of weight 1.
func WithRegistryWriteSemaphore(sem *semaphore.Weighted) Option {
	return func(d *Deployer) {
		d.writeSem = sem
	}
}

// WithWorkDir places temporary downloads and staging directories under dir
// instead of next to the target.
func WithWorkDir(dir string) Option {
	return func(d *Deployer) {
		d.workDir = dir
	}
}

// WithInstalledUsing sets the tool name recorded in the registry.
func WithInstalledUsing(s string) Option {
	return func(d *Deployer) {
		d.installedUsing = s
	}
}

// WithMetrics records deployment metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Deployer) {
		d.metrics = m
	}
}

// New creates a Deployer operating on filesystem.
func New(filesystem fsys.FileSystem, opts ...Option) *Deployer {
	d := &Deployer{
		fs:              filesystem,
		lockTimeout:     defaultLockTimeout,
		registerTimeout: defaultRegisterTimeout,
		installedUsing:  defaultInstalledUsing,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.writeSem == nil {
		d.writeSem = semaphore.NewWeighted(1)
	}
	return d
}

func (d *Deployer) validate(req Request) error {
	switch {
	case req.Feed == nil:
		return fmt.Errorf("%w: no feed", ErrInvalidOptions)
	case req.ID.Name == "":
		return fmt.Errorf("%w: no package name", ErrInvalidOptions)
	case strings.TrimSpace(req.TargetDir) == "":
		return fmt.Errorf("%w: no target directory", ErrInvalidOptions)
	case d.registry == nil && req.Compare == drift.CompareNone:
		return fmt.Errorf("%w: neither a registry check nor a file comparison is enabled", ErrInvalidOptions)
	}
	return nil
}

// Deploy runs the pipeline for req. Every terminal error is logged once
// with the package and spec. Warnings never fail the deployment.
func (d *Deployer) Deploy(ctx context.Context, req Request) (res *Result, err error) {
	logger := slogcontext.FromCtx(ctx).With(
		slog.String("package", req.ID.FullName()),
		slog.String("spec", req.Spec),
	)
	ctx = slogcontext.NewCtx(ctx, logger)
	progress := &reporter{fn: req.Progress}
	start := time.Now()
	res = &Result{ID: req.ID}

	defer func() {
		d.observe(res, err, time.Since(start))
		if err != nil {
			logger.Error("deployment failed", slog.Any("error", err))
			progress.emit(Progress{Stage: StageDone, Message: "failed: " + err.Error()})
			return
		}
		progress.emit(Progress{Stage: StageDone, Message: res.status()})
	}()

	if err := d.validate(req); err != nil {
		return res, err
	}

	progress.stage(StageResolve, "resolving "+req.ID.FullName())
	spec, err := core.ParseSpecifier(req.Spec)
	if err != nil {
		return res, err
	}
	version, err := core.ResolveVersion(ctx, req.Feed, req.ID, spec)
	if err != nil {
		return res, err
	}
	res.Version = version
	logger = logger.With(slog.String("version", version.String()))
	ctx = slogcontext.NewCtx(ctx, logger)
	logger.Info("resolved package version")

	var reasons []string

	if d.registry != nil {
		progress.stage(StageCheckRegistry, "checking installed packages")
		reason, err := d.checkRegistry(ctx, req, version)
		if err != nil {
			return res, err
		}
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}

	var manifest *core.PackageManifest
	if req.Compare != drift.CompareNone {
		progress.stage(StageCheckDrift, "comparing "+req.TargetDir)
		manifest, err = req.Feed.GetManifest(ctx, req.ID, version)
		if err != nil {
			return res, err
		}
		result, err := drift.Detect(ctx, d.fs, req.TargetDir, manifest.Files, drift.Options{
			Ignore:      req.Ignore,
			Compare:     req.Compare,
			DeleteExtra: req.DeleteExtra,
		})
		if err != nil {
			return res, err
		}
		res.Drifted = result.Drifted
		switch {
		case !result.Exists && (len(manifest.Files) > 0 || req.DeleteExtra):
			reasons = append(reasons, "target directory does not exist")
		case len(result.Drifted) > 0:
			reasons = append(reasons, fmt.Sprintf("%d path(s) differ", len(result.Drifted)))
		}
	}

	if len(reasons) == 0 {
		logger.Info("package is up to date")
		return res, nil
	}
	res.Reason = strings.Join(reasons, "; ")
	logger.Info("installing package", slog.String("reason", res.Reason))

	if err := d.install(ctx, req, version, progress, res); err != nil {
		return res, err
	}
	res.Installed = true

	if d.registry != nil {
		progress.stage(StageRegister, "recording installation")
		if err := d.register(ctx, req, version, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// checkRegistry returns why the registry says an install is needed, or ""
// when the resolved version is already recorded. A lock timeout is fatal.
func (d *Deployer) checkRegistry(ctx context.Context, req Request, version core.Version) (string, error) {
	lock, err := d.lock(ctx, "check "+req.ID.FullName(), d.lockTimeout, "check")
	if err != nil {
		return "", err
	}
	defer func() { _ = lock.Unlock() }()

	pkg, err := lock.Find(ctx, req.ID.Group, req.ID.Name)
	if err != nil {
		return "", err
	}
	if pkg == nil {
		return "package is not registered", nil
	}
	registered, err := core.ParseVersion(pkg.Version)
	if err != nil || !registered.Equal(version) {
		return fmt.Sprintf("registered version %s differs", pkg.Version), nil
	}
	return "", nil
}

// register records the installation. Only cancellation is returned; every
// other failure becomes a warning because the files are already in place.
func (d *Deployer) register(ctx context.Context, req Request, version core.Version, res *Result) error {
	logger := slogcontext.FromCtx(ctx)

	if err := d.writeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.writeSem.Release(1)

	lock, err := d.lock(ctx, "register "+req.ID.FullName(), d.registerTimeout, "register")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.warn(ctx, res, "package installed but not registered: "+err.Error())
		return nil
	}
	defer func() { _ = lock.Unlock() }()

	reason := req.Reason
	if reason == "" {
		reason = res.Reason
	}
	err = lock.Register(ctx, installed.Package{
		Group:          req.ID.Group,
		Name:           req.ID.Name,
		Version:        version.String(),
		InstallPath:    req.TargetDir,
		FeedURL:        req.Feed.URL(),
		InstalledAt:    time.Now().UTC(),
		InstalledBy:    req.InstalledBy,
		InstalledUsing: d.installedUsing,
		Reason:         reason,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.warn(ctx, res, "package installed but not registered: "+err.Error())
		return nil
	}
	res.Registered = true
	logger.Info("package registered")
	return nil
}

func (d *Deployer) lock(ctx context.Context, reason string, timeout time.Duration, step string) (*installed.Lock, error) {
	start := time.Now()
	lock, err := d.registry.Lock(ctx, reason, timeout)
	if d.metrics != nil {
		d.metrics.LockWait.Observe(time.Since(start).Seconds())
		if errors.Is(err, installed.ErrLockTimeout) {
			d.metrics.LockTimeouts.WithLabelValues(step).Inc()
		}
	}
	return lock, err
}

func (d *Deployer) warn(ctx context.Context, res *Result, msg string) {
	slogcontext.FromCtx(ctx).Warn(msg)
	res.Warnings = append(res.Warnings, msg)
	if d.metrics != nil {
		d.metrics.Warnings.Inc()
	}
}

func (d *Deployer) observe(res *Result, err error, elapsed time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.Duration.Observe(elapsed.Seconds())
	switch {
	case err != nil:
		d.metrics.Deployments.WithLabelValues(OutcomeFailed).Inc()
	case res.Installed:
		d.metrics.Deployments.WithLabelValues(OutcomeInstalled).Inc()
	default:
		d.metrics.Deployments.WithLabelValues(OutcomeUnchanged).Inc()
	}
}

// workDirFor returns a fresh temporary directory path for one deployment.
func (d *Deployer) workDirFor(target string) string {
	base := d.workDir
	if base == "" {
		base = filepath.Dir(filepath.Clean(target))
	}
	return filepath.Join(base, ".upack-tmp-"+strconv.FormatUint(rand.Uint64(), 36))
}

func (r *Result) status() string {
	switch {
	case r.Installed:
		return fmt.Sprintf("installed %s %s", r.ID.FullName(), r.Version)
	default:
		return fmt.Sprintf("%s %s is up to date", r.ID.FullName(), r.Version)
	}
}
