package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/packagefile"
)

func newPushCmd() *cobra.Command {
	var flags feedFlags
	cmd := &cobra.Command{
		Use:   "push <file.upack>",
		Short: "Upload a package file to a feed and print its SHA-1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			pkg, err := packagefile.OpenFile(args[0])
			if err != nil {
				return err
			}
			meta := pkg.Metadata()
			_ = pkg.Close()

			ref := &core.Reference{ID: meta.ID()}
			feed, err := flags.resolveFeed(cfg, ref)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			sum, err := feed.Upload(cmd.Context(), f)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd, map[string]string{
					"package": meta.ID().FullName(),
					"version": meta.Version,
					"feed":    feed.URL(),
					"sha1":    sum,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s pushed to %s\nsha1 %s\n", meta.ID().FullName(), meta.Version, feed.URL(), sum)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
