package core

import (
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// PURLType is the package-url type for universal packages.
const PURLType = "upack"

const (
	qualifierRepositoryURL = "repository_url"
	qualifierSource        = "source"
)

// ParseReference parses a package reference written as a package URL:
//
//	pkg:upack/<group>/<name>@<spec>?repository_url=<feed>&source=<name>
//
// The version part is a specifier, not necessarily an exact version, and
// may be omitted to mean latest.
func ParseReference(purl string) (*Reference, error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return nil, err
	}
	if p.Type != PURLType {
		return nil, fmt.Errorf("unsupported package type %q in %s", p.Type, purl)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("package URL has no name: %s", purl)
	}

	q := p.Qualifiers.Map()
	return &Reference{
		Source:  q[qualifierSource],
		ID:      PackageID{Group: strings.Trim(p.Namespace, "/"), Name: p.Name},
		Spec:    p.Version,
		FeedURL: q[qualifierRepositoryURL],
	}, nil
}

// PURL renders the reference back into package-url form.
func (r Reference) PURL() string {
	q := map[string]string{}
	if r.FeedURL != "" {
		q[qualifierRepositoryURL] = r.FeedURL
	}
	if r.Source != "" {
		q[qualifierSource] = r.Source
	}
	p := packageurl.NewPackageURL(PURLType, r.ID.Group, r.ID.Name, r.Spec, packageurl.QualifiersFromMap(q), "")
	return p.ToString()
}

func (r Reference) String() string {
	spec := r.Spec
	if spec == "" {
		spec = "latest"
	}
	return r.ID.FullName() + "@" + spec
}
