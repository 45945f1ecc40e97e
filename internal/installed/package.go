package installed

import (
	"time"

	"github.com/git-pkgs/upack/internal/core"
)

// Package is one entry of the installed-packages registry. Entries are
// replaced wholesale on re-registration.
type Package struct {
	Group          string    `json:"group,omitempty"`
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	InstallPath    string    `json:"path,omitempty"`
	FeedURL        string    `json:"feedUrl,omitempty"`
	InstalledAt    time.Time `json:"installationDate"`
	InstalledBy    string    `json:"installedBy,omitempty"`
	InstalledUsing string    `json:"installedUsing,omitempty"`
	Reason         string    `json:"installationReason,omitempty"`
}

func (p Package) ID() core.PackageID {
	return core.PackageID{Group: p.Group, Name: p.Name}
}

// PURL returns the package URL of the exact installed version.
func (p Package) PURL() string {
	return core.Reference{ID: p.ID(), Spec: p.Version, FeedURL: p.FeedURL}.PURL()
}
