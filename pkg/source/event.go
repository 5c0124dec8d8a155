package source

import (
	"strings"

	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/version"
)

// zeroSHA marks a deleted ref in push payloads (GitLab, and GitHub/Gitea
// push events with the deleted flag unset on older versions).
const zeroSHA = "0000000000000000000000000000000000000000"

func lowerName(fullName string) string {
	return strings.ToLower(fullName)
}

// ParseRef splits a fully qualified git ref ("refs/heads/main",
// "refs/tags/v1.0.0") into its kind and short name. Anything other than a
// branch or tag ref fails with UNRECOGNIZED_PAYLOAD.
func ParseRef(ref string) (version.RefKind, string, error) {
	if name, ok := strings.CutPrefix(ref, "refs/heads/"); ok && name != "" {
		return version.RefBranch, name, nil
	}
	if name, ok := strings.CutPrefix(ref, "refs/tags/"); ok && name != "" {
		return version.RefTag, name, nil
	}
	return "", "", errors.New(errors.ErrCodeUnrecognizedPayload, "unsupported ref %q", ref)
}

// IsZeroSHA reports whether sha is the all-zero commit id providers send
// when a ref was removed.
func IsZeroSHA(sha string) bool {
	return sha == zeroSHA
}

// ParseRefKind maps a payload ref_type field ("branch", "tag") onto a
// RefKind. Other values fail with UNRECOGNIZED_PAYLOAD.
func ParseRefKind(refType string) (version.RefKind, error) {
	switch refType {
	case "branch":
		return version.RefBranch, nil
	case "tag":
		return version.RefTag, nil
	default:
		return "", errors.New(errors.ErrCodeUnrecognizedPayload, "unsupported ref type %q", refType)
	}
}
