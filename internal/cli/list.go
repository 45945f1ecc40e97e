package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/upack/internal/installed"
)

func newListCmd() *cobra.Command {
	var scope, root string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages recorded in the installed-package registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if scope != "" {
				cfg.Registry.Scope = scope
			}
			if root != "" {
				cfg.Registry.Root = root
			}
			reg, err := cfg.OpenRegistry()
			if err != nil {
				return err
			}
			if reg == nil {
				return errors.New("registry scope is none")
			}
			defer func() { _ = reg.Close() }()

			ctx := cmd.Context()
			lock, err := reg.Lock(ctx, "list", cfg.Registry.LockTimeout)
			if err != nil {
				return err
			}
			pkgs, err := lock.Packages(ctx)
			_ = lock.Unlock()
			if err != nil {
				return err
			}

			if outputJSON {
				if pkgs == nil {
					pkgs = []installed.Package{}
				}
				return writeJSON(cmd, pkgs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PACKAGE\tVERSION\tPATH\tINSTALLED")
			for _, p := range pkgs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID().FullName(), p.Version, p.InstallPath, p.InstalledAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Registry scope: machine or user (default from config)")
	cmd.Flags().StringVar(&root, "registry-root", "", "Registry directory override")
	return cmd
}
