package gitea

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/source"
)

// pushPayload covers both Gitea webhook shapes this server consumes:
// push deliveries carry a fully qualified ref plus the head commit, delete
// deliveries carry a short ref name plus ref_type.
type pushPayload struct {
	Ref        string `json:"ref"`
	RefType    string `json:"ref_type"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		ID       int64  `json:"id"`
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// ParseWebhook normalizes a Gitea webhook payload into a canonical event.
// Payloads that match neither the push nor the delete shape, or that
// reference an unsupported ref kind, fail with UNRECOGNIZED_PAYLOAD.
func ParseWebhook(payload []byte) (source.Event, error) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnrecognizedPayload, err, "malformed gitea payload")
	}
	if p.Repository.FullName == "" {
		return nil, errors.New(errors.ErrCodeUnrecognizedPayload, "gitea payload without repository name")
	}

	// Delete deliveries identify the ref by ref_type + short name.
	if p.RefType != "" {
		kind, err := source.ParseRefKind(p.RefType)
		if err != nil {
			return nil, err
		}
		return &source.DeletableEvent{
			ID:       strconv.FormatInt(p.Repository.ID, 10),
			FullName: p.Repository.FullName,
			RefKind:  kind,
			Ref:      p.Ref,
		}, nil
	}

	kind, name, err := source.ParseRef(p.Ref)
	if err != nil {
		return nil, err
	}

	// A push delivery can still mean deletion: the deleted flag or an
	// all-zero head commit marks a removed ref.
	if p.Deleted || source.IsZeroSHA(p.After) {
		return &source.DeletableEvent{
			ID:       strconv.FormatInt(p.Repository.ID, 10),
			FullName: p.Repository.FullName,
			RefKind:  kind,
			Ref:      name,
		}, nil
	}

	if p.After == "" {
		return nil, errors.New(errors.ErrCodeUnrecognizedPayload, "gitea push without head commit")
	}

	return &source.ImportableEvent{
		ID: uuid.NewString(),
		Archive: source.ArchiveRef{
			FullName:  p.Repository.FullName,
			ProjectID: strconv.FormatInt(p.Repository.ID, 10),
			SHA:       p.After,
		},
		RefKind: kind,
		Ref:     name,
	}, nil
}
