package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/drift"
	"github.com/git-pkgs/upack/internal/fsys"
)

// errDrifted makes the command exit non-zero after reporting drift.
var errDrifted = errors.New("target differs from package")

type driftOptions struct {
	feed        feedFlags
	target      string
	version     string
	compare     string
	deleteExtra bool
	ignore      []string
}

func newDriftCmd() *cobra.Command {
	opts := &driftOptions{}
	cmd := &cobra.Command{
		Use:   "drift <package>",
		Short: "Compare a target directory against a package version without changing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrift(cmd, opts, args[0])
		},
	}

	opts.feed.register(cmd)
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "Target directory")
	cmd.Flags().StringVar(&opts.version, "version", "", "Version specifier")
	cmd.Flags().StringVar(&opts.compare, "compare", "", "File comparison: none, size, size-and-timestamp (default from config)")
	cmd.Flags().BoolVar(&opts.deleteExtra, "delete-extra", false, "Report files that are not in the package")
	cmd.Flags().StringSliceVar(&opts.ignore, "ignore", nil, "Glob of target paths to skip (repeatable)")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func runDrift(cmd *cobra.Command, opts *driftOptions, arg string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ref, err := parseReference(arg)
	if err != nil {
		return err
	}
	if opts.version != "" {
		ref.Spec = opts.version
	}
	feed, err := opts.feed.resolveFeed(cfg, ref)
	if err != nil {
		return err
	}

	compareName := opts.compare
	if compareName == "" {
		compareName = cfg.Deploy.Compare
	}
	compare, err := drift.ParseCompareMode(compareName)
	if err != nil {
		return err
	}

	spec, err := core.ParseSpecifier(ref.Spec)
	if err != nil {
		return err
	}
	version, err := core.ResolveVersion(ctx, feed, ref.ID, spec)
	if err != nil {
		return err
	}
	manifest, err := feed.GetManifest(ctx, ref.ID, version)
	if err != nil {
		return err
	}

	res, err := drift.Detect(ctx, fsys.NewOS(), opts.target, manifest.Files, drift.Options{
		Ignore:      append(append([]string{}, cfg.Deploy.Ignore...), opts.ignore...),
		Compare:     compare,
		DeleteExtra: opts.deleteExtra,
	})
	if err != nil {
		return err
	}

	if outputJSON {
		if err := writeJSON(cmd, map[string]any{
			"package": ref.ID.FullName(),
			"version": version.String(),
			"target":  opts.target,
			"exists":  res.Exists,
			"drifted": res.Drifted,
		}); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		switch {
		case !res.Exists:
			fmt.Fprintf(w, "%s does not exist\n", opts.target)
		case res.UpToDate():
			fmt.Fprintf(w, "%s matches %s %s\n", opts.target, ref.ID.FullName(), version)
		default:
			for _, p := range res.Drifted {
				fmt.Fprintln(w, p)
			}
		}
	}

	if !res.UpToDate() {
		return errDrifted
	}
	return nil
}
