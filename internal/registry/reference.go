package registry

import (
	"fmt"
	"strings"
)

// Reference is a resolved image location: which registry host to ask, and
// for which repository path and tag
type Reference struct {
	Host       string
	Repository string
	Tag        string
}

// ParseReference resolves a stored repository string against the default
// registry. A first path segment containing a dot or a port, or equal to
// "localhost", names an explicit registry host; everything else is a
// default-registry repository, namespaced under library/ when it has no
// path of its own.
func ParseReference(repository, tag, defaultHost string) Reference {
	ref := Reference{Host: defaultHost, Tag: tag}

	first, rest, found := strings.Cut(repository, "/")
	if found && (strings.ContainsAny(first, ".:") || first == "localhost") {
		ref.Host = first
		ref.Repository = rest
		return ref
	}

	if !found {
		ref.Repository = "library/" + repository
		return ref
	}

	ref.Repository = repository
	return ref
}

// ManifestURL returns the v2 manifest endpoint for the reference
func (r Reference) ManifestURL() string {
	return fmt.Sprintf("https://%s/v2/%s/manifests/%s", r.Host, r.Repository, r.Tag)
}

// String renders the reference in registry/repository:tag form
func (r Reference) String() string {
	return fmt.Sprintf("%s/%s:%s", r.Host, r.Repository, r.Tag)
}

// NormalizeDigest strips an optional sha256: prefix so digests from
// different sources compare as opaque strings
func NormalizeDigest(digest string) string {
	return strings.TrimPrefix(strings.TrimSpace(digest), "sha256:")
}
