package gitlab

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/source"
)

// hookPayload is the GitLab push/tag-push webhook shape. GitLab has no
// separate delete event: a removed ref arrives as a push whose after
// commit is all zeros.
type hookPayload struct {
	ObjectKind  string `json:"object_kind"`
	Ref         string `json:"ref"`
	After       string `json:"after"`
	CheckoutSHA string `json:"checkout_sha"`
	Project     struct {
		ID                int64  `json:"id"`
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
}

// ParseWebhook normalizes a GitLab webhook payload into a canonical event.
// Payloads with an object_kind other than push or tag_push, or an
// unsupported ref, fail with UNRECOGNIZED_PAYLOAD.
func ParseWebhook(payload []byte) (source.Event, error) {
	var p hookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnrecognizedPayload, err, "malformed gitlab payload")
	}

	if p.ObjectKind != "push" && p.ObjectKind != "tag_push" {
		return nil, errors.New(errors.ErrCodeUnrecognizedPayload, "unsupported object kind %q", p.ObjectKind)
	}
	if p.Project.PathWithNamespace == "" {
		return nil, errors.New(errors.ErrCodeUnrecognizedPayload, "gitlab payload without project path")
	}

	kind, name, err := source.ParseRef(p.Ref)
	if err != nil {
		return nil, err
	}

	projectID := strconv.FormatInt(p.Project.ID, 10)

	if source.IsZeroSHA(p.After) {
		return &source.DeletableEvent{
			ID:       projectID,
			FullName: p.Project.PathWithNamespace,
			RefKind:  kind,
			Ref:      name,
		}, nil
	}

	// checkout_sha is the commit the ref now points at; tag pushes of
	// annotated tags set after to the tag object instead.
	sha := p.CheckoutSHA
	if sha == "" {
		sha = p.After
	}
	if sha == "" {
		return nil, errors.New(errors.ErrCodeUnrecognizedPayload, "gitlab push without commit sha")
	}

	return &source.ImportableEvent{
		ID: uuid.NewString(),
		Archive: source.ArchiveRef{
			FullName:  p.Project.PathWithNamespace,
			ProjectID: projectID,
			SHA:       sha,
		},
		RefKind: kind,
		Ref:     name,
	}, nil
}
