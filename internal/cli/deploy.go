package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/user"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/semaphore"

	"github.com/git-pkgs/upack/internal/config"
	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/deploy"
	"github.com/git-pkgs/upack/internal/drift"
	"github.com/git-pkgs/upack/internal/fsys"
)

type deployOptions struct {
	feed          feedFlags
	target        string
	version       string
	compare       string
	deleteExtra   bool
	ignore        []string
	noRegistry    bool
	reason        string
	metricsListen string
}

type deployOutput struct {
	Package    string   `json:"package"`
	Version    string   `json:"version,omitempty"`
	Target     string   `json:"target"`
	Installed  bool     `json:"installed"`
	Registered bool     `json:"registered"`
	Reason     string   `json:"reason,omitempty"`
	Drifted    []string `json:"drifted,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
	// Breakers holds the feed's circuit breaker states for failed
	// deployments, keyed by host.
	Breakers map[string]string `json:"breakers,omitempty"`
}

// breakerReporter is implemented by feeds that guard hosts with circuit
// breakers.
type breakerReporter interface {
	BreakerState() map[string]string
}

func newDeployCmd() *cobra.Command {
	opts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   "deploy <package>...",
		Short: "Install packages into target directories when they are missing or out of date",
		Long: `Resolve each package against its feed, check the installed-package
registry and the target directory, and reinstall only when something differs.

A package is a package URL (pkg:upack/group/name@1.2?repository_url=...)
or group/name[@version]. With several packages, each is deployed into
<target>/<name>.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, opts, args)
		},
	}

	opts.feed.register(cmd)
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "Target directory")
	cmd.Flags().StringVar(&opts.version, "version", "", "Version: latest, latest-stable, 3, 3.1 or an exact version")
	cmd.Flags().StringVar(&opts.compare, "compare", "", "File comparison: none, size, size-and-timestamp (default from config)")
	cmd.Flags().BoolVar(&opts.deleteExtra, "delete-extra", false, "Delete files in the target that are not in the package")
	cmd.Flags().StringSliceVar(&opts.ignore, "ignore", nil, "Glob of target paths never compared or deleted (repeatable)")
	cmd.Flags().BoolVar(&opts.noRegistry, "no-registry", false, "Skip the installed-package registry")
	cmd.Flags().StringVar(&opts.reason, "reason", "", "Installation reason recorded in the registry")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address while deploying")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func runDeploy(cmd *cobra.Command, opts *deployOptions, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	requests, err := opts.requests(cmd, cfg, args)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := deploy.NewMetrics(registry)
	listen := opts.metricsListen
	if listen == "" {
		listen = cfg.Metrics.Listen
	}
	if listen != "" {
		stop, err := serveMetrics(ctx, listen, cfg.Metrics.Path, registry)
		if err != nil {
			return err
		}
		defer stop()
	}

	deployerOpts := []deploy.Option{
		deploy.WithMetrics(metrics),
		deploy.WithLockTimeout(cfg.Registry.LockTimeout),
		deploy.WithRegisterTimeout(cfg.Registry.RegisterTimeout),
		deploy.WithRegistryWriteSemaphore(semaphore.NewWeighted(1)),
	}
	if cfg.Deploy.WorkDir != "" {
		deployerOpts = append(deployerOpts, deploy.WithWorkDir(cfg.Deploy.WorkDir))
	}
	if !opts.noRegistry {
		reg, err := cfg.OpenRegistry()
		if err != nil {
			return err
		}
		if reg != nil {
			defer func() { _ = reg.Close() }()
			deployerOpts = append(deployerOpts, deploy.WithRegistry(reg))
		}
	}
	deployer := deploy.New(fsys.NewOS(), deployerOpts...)

	outcomes := deployer.DeployAll(ctx, requests, cfg.Deploy.Concurrency)

	var failed []error
	outputs := make([]deployOutput, 0, len(outcomes))
	for _, o := range outcomes {
		out := deployOutput{Package: o.Request.ID.FullName(), Target: o.Request.TargetDir}
		if o.Result != nil {
			out.Installed = o.Result.Installed
			out.Registered = o.Result.Registered
			out.Reason = o.Result.Reason
			out.Drifted = o.Result.Drifted
			out.Warnings = o.Result.Warnings
			if !o.Result.Version.IsZero() {
				out.Version = o.Result.Version.String()
			}
		}
		if o.Err != nil {
			out.Error = o.Err.Error()
			if br, ok := o.Request.Feed.(breakerReporter); ok {
				out.Breakers = br.BreakerState()
			}
			failed = append(failed, fmt.Errorf("%s: %w", out.Package, o.Err))
		}
		outputs = append(outputs, out)
	}

	if outputJSON {
		if err := writeJSON(cmd, outputs); err != nil {
			return err
		}
	} else {
		for _, out := range outputs {
			writeDeployLine(cmd, out)
		}
	}
	return errors.Join(failed...)
}

func (o *deployOptions) requests(cmd *cobra.Command, cfg config.Config, args []string) ([]deploy.Request, error) {
	compareName := o.compare
	if compareName == "" {
		compareName = cfg.Deploy.Compare
	}
	compare, err := drift.ParseCompareMode(compareName)
	if err != nil {
		return nil, err
	}
	deleteExtra := cfg.Deploy.DeleteExtraValue()
	if cmd.Flags().Changed("delete-extra") {
		deleteExtra = o.deleteExtra
	}
	ignore := append(append([]string{}, cfg.Deploy.Ignore...), o.ignore...)

	installedBy := ""
	if u, err := user.Current(); err == nil {
		installedBy = u.Username
	}

	requests := make([]deploy.Request, 0, len(args))
	for _, arg := range args {
		ref, err := parseReference(arg)
		if err != nil {
			return nil, err
		}
		if o.version != "" {
			ref.Spec = o.version
		}
		feed, err := o.feed.resolveFeed(cfg, ref)
		if err != nil {
			return nil, err
		}

		target := o.target
		if len(args) > 1 {
			target = filepath.Join(o.target, ref.ID.Name)
		}
		requests = append(requests, deploy.Request{
			Feed:        feed,
			ID:          ref.ID,
			Spec:        ref.Spec,
			TargetDir:   target,
			Compare:     compare,
			DeleteExtra: deleteExtra,
			Ignore:      ignore,
			Reason:      o.reason,
			InstalledBy: installedBy,
			Progress:    progressPrinter(cmd, ref.ID),
		})
	}
	return requests, nil
}

// progressPrinter writes one line per stage to stderr. JSON output stays
// quiet.
func progressPrinter(cmd *cobra.Command, id core.PackageID) deploy.ProgressFunc {
	if outputJSON {
		return nil
	}
	last := deploy.Stage(-1)
	return func(p deploy.Progress) {
		if p.Stage == last || p.Stage == deploy.StageDone {
			return
		}
		last = p.Stage
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", id.FullName(), p.Message)
	}
}

func writeDeployLine(cmd *cobra.Command, out deployOutput) {
	w := cmd.OutOrStdout()
	switch {
	case out.Error != "":
		fmt.Fprintf(w, "%s: failed: %s\n", out.Package, out.Error)
	case out.Installed:
		fmt.Fprintf(w, "%s %s installed to %s (%s)\n", out.Package, out.Version, out.Target, out.Reason)
	default:
		fmt.Fprintf(w, "%s %s is up to date in %s\n", out.Package, out.Version, out.Target)
	}
	for _, warning := range out.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

// serveMetrics exposes registry on addr until the returned stop func runs.
func serveMetrics(ctx context.Context, addr, path string, registry *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := slogcontext.FromCtx(ctx)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()), slog.String("path", path))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
