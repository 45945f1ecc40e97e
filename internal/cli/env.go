package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/upack/internal/config"
	"github.com/git-pkgs/upack/internal/core"
)

// feedFlags selects the feed a command talks to.
type feedFlags struct {
	source   string
	feedURL  string
	feedType string
	apiKey   string
}

func (f *feedFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", "", "Named source from the config file")
	cmd.Flags().StringVar(&f.feedURL, "feed", "", "Feed URL or directory")
	cmd.Flags().StringVar(&f.feedType, "feed-type", "upack", "Feed type used with --feed")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key sent as X-ApiKey")
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// parseReference accepts a package URL or "group/name[@spec]".
func parseReference(arg string) (*core.Reference, error) {
	if strings.HasPrefix(arg, "pkg:") {
		return core.ParseReference(arg)
	}
	name, spec, _ := strings.Cut(arg, "@")
	id := core.NewPackageID(name)
	if id.Name == "" {
		return nil, fmt.Errorf("invalid package %q", arg)
	}
	return &core.Reference{ID: id, Spec: spec}, nil
}

// resolveFeed picks the feed for ref. Flags override whatever the
// reference itself names.
func (f *feedFlags) resolveFeed(cfg config.Config, ref *core.Reference) (core.Feed, error) {
	var base []core.Option
	if f.apiKey != "" {
		base = append(base, core.WithHeader("X-ApiKey", f.apiKey))
	}

	if f.feedURL != "" {
		return core.New(f.feedType, f.feedURL, core.NewClient(base...))
	}
	if f.source != "" {
		ref.Source = f.source
	}

	sources, err := cfg.BuildSources(base)
	if err != nil {
		return nil, err
	}
	if ref.Source == "" && ref.FeedURL == "" && len(cfg.Sources) == 1 {
		ref.Source = cfg.SourceNames()[0]
	}
	return sources.FeedFor(*ref)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
