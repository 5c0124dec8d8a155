package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/source"
	"github.com/matzehuels/depot/pkg/source/providers"
)

// maxWebhookSize bounds incoming webhook bodies.
const maxWebhookSize = 1 << 20

// handleWebhook accepts a provider delivery, verifies its authenticity
// and feeds the normalized event into the engine. Processing failures
// answer 422 so providers surface them in their delivery log instead of
// retrying forever.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())

	provider, err := source.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeWebhookError(w, r, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookSize))
	if err != nil {
		s.writeWebhookError(w, r, errors.Wrap(errors.ErrCodeUnrecognizedPayload, err, "reading delivery body"))
		return
	}

	if err := s.verifyDelivery(provider, r, body); err != nil {
		s.log.Warn("rejected webhook delivery", "provider", provider, "err", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ev, err := providers.Normalize(provider, body)
	if err != nil {
		s.writeWebhookError(w, r, err)
		return
	}

	v, err := s.engine.FromEvent(r.Context(), repo, ev)
	if err != nil {
		s.writeWebhookError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"package": ev.PackageName(),
		"version": v.Name,
	})
}

// verifyDelivery checks the provider's authenticity mechanism against the
// shared secret. Gitea and GitHub sign the body with HMAC-SHA256; GitLab
// echoes the secret verbatim in a header. An empty configured secret
// disables verification.
func (s *Server) verifyDelivery(p source.Provider, r *http.Request, body []byte) error {
	if s.secret == "" {
		return nil
	}

	switch p {
	case source.Gitea:
		return verifyHMAC(s.secret, body, r.Header.Get("X-Gitea-Signature"))
	case source.GitHub:
		sig := strings.TrimPrefix(r.Header.Get("X-Hub-Signature-256"), "sha256=")
		return verifyHMAC(s.secret, body, sig)
	case source.GitLab:
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Gitlab-Token")), []byte(s.secret)) != 1 {
			return errors.New(errors.ErrCodeUnrecognizedPayload, "token mismatch")
		}
		return nil
	default:
		return errors.New(errors.ErrCodeSourceUnresolved, "unknown provider %q", p)
	}
}

func verifyHMAC(secret string, body []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(signature))) != 1 {
		return errors.New(errors.ErrCodeUnrecognizedPayload, "signature mismatch")
	}
	return nil
}
