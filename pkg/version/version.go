// Package version derives canonical version names from source refs.
//
// Branches map to mutable dev versions ("main" becomes "dev-main") that are
// overwritten on every push. Tags map to immutable release versions with a
// single optional leading "v" stripped ("v1.2.0" becomes "1.2.0").
package version

import (
	"strings"

	"github.com/matzehuels/depot/pkg/errors"
)

// RefKind classifies a source ref as a branch or a tag.
type RefKind string

const (
	RefBranch RefKind = "branch"
	RefTag    RefKind = "tag"
)

// DevPrefix marks branch-derived versions. Composer treats any version
// starting with this prefix as a development version.
const DevPrefix = "dev-"

// Name derives the canonical version name for a ref and reports whether
// the resulting version is mutable.
//
// Branch names are used verbatim, slashes included, so "feature/x" becomes
// "dev-feature/x". Tag names lose a single leading "v"; nothing else is
// normalized. An empty ref fails with VERSION_NOT_RESOLVABLE.
func Name(kind RefKind, ref string) (string, bool, error) {
	if ref == "" {
		return "", false, errors.New(errors.ErrCodeVersionNotResolvable, "empty ref name")
	}

	switch kind {
	case RefBranch:
		return DevPrefix + ref, true, nil
	case RefTag:
		return strings.TrimPrefix(ref, "v"), false, nil
	default:
		return "", false, errors.New(errors.ErrCodeVersionNotResolvable, "unknown ref kind %q", kind)
	}
}

// IsDev reports whether a canonical version name is a development version.
// Used by the metadata endpoints to split stable and dev version listings.
func IsDev(name string) bool {
	return strings.HasPrefix(name, DevPrefix)
}
