package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/upack/internal/core"
)

func newVersionsCmd() *cobra.Command {
	var flags feedFlags
	var limit int
	cmd := &cobra.Command{
		Use:   "versions <package>",
		Short: "List the versions a feed has for a package, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ref, err := parseReference(args[0])
			if err != nil {
				return err
			}
			feed, err := flags.resolveFeed(cfg, ref)
			if err != nil {
				return err
			}

			versions, err := feed.ListVersions(cmd.Context(), ref.ID)
			if err != nil {
				return err
			}
			core.SortDescending(versions)
			if limit > 0 && len(versions) > limit {
				versions = versions[:limit]
			}

			names := make([]string, len(versions))
			for i, v := range versions {
				names[i] = v.String()
			}
			if outputJSON {
				return writeJSON(cmd, names)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many versions")
	return cmd
}
