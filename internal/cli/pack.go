package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/upack/internal/core"
	"github.com/git-pkgs/upack/internal/packagefile"
)

func newPackCmd() *cobra.Command {
	var meta core.Metadata
	var output string
	cmd := &cobra.Command{
		Use:   "pack <directory>",
		Short: "Create a universal package from a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = fmt.Sprintf("%s-%s.upack", meta.Name, meta.Version)
			}
			tmp, err := os.CreateTemp(filepath.Dir(output), ".upack-pack-*")
			if err != nil {
				return err
			}
			defer func() { _ = os.Remove(tmp.Name()) }()

			if err := packagefile.Create(cmd.Context(), tmp, args[0], meta); err != nil {
				_ = tmp.Close()
				return err
			}
			if err := tmp.Close(); err != nil {
				return err
			}
			if err := os.Rename(tmp.Name(), output); err != nil {
				return err
			}

			if outputJSON {
				return writeJSON(cmd, map[string]string{"package": meta.ID().FullName(), "version": meta.Version, "file": output})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&meta.Group, "group", "", "Package group")
	cmd.Flags().StringVar(&meta.Name, "name", "", "Package name")
	cmd.Flags().StringVar(&meta.Version, "version", "", "Package version")
	cmd.Flags().StringVar(&meta.Title, "title", "", "Package title")
	cmd.Flags().StringVar(&meta.Description, "description", "", "Package description")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <name>-<version>.upack)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
