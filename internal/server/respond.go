package server

import (
	"encoding/json"
	"net/http"

	"github.com/matzehuels/depot/pkg/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	s.writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    string(errors.GetCode(err)),
		Message: errors.UserMessage(err),
	}})
}

// statusFor maps the error taxonomy onto HTTP statuses. Resolution
// failures are 404, input and archive problems are 422, upstream
// failures surface as 502.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeRepoNotFound,
		errors.ErrCodePackageNotFound,
		errors.ErrCodeVersionNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnrecognizedPayload,
		errors.ErrCodeVersionNotResolvable,
		errors.ErrCodeArchiveOpen,
		errors.ErrCodeManifestNotFound,
		errors.ErrCodeManifestParse,
		errors.ErrCodeArchiveContentType,
		errors.ErrCodeSourceUnresolved:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeUpstreamUnavailable,
		errors.ErrCodeUpstreamAuth,
		errors.ErrCodeUpstreamProtocol,
		errors.ErrCodeArchiveFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// webhookStatusFor maps errors for the incoming webhook endpoints, where
// resolution failures are the sender's problem: a push for a package this
// server does not know is an unprocessable delivery, not a missing page.
func webhookStatusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodePackageNotFound,
		errors.ErrCodeVersionNotFound,
		errors.ErrCodeSourceUnresolved:
		return http.StatusUnprocessableEntity
	default:
		return statusFor(err)
	}
}

func (s *Server) writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	status := webhookStatusFor(err)
	if status >= 500 {
		s.log.Error("webhook failed", "path", r.URL.Path, "err", err)
	} else {
		s.log.Debug("webhook rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	s.writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    string(errors.GetCode(err)),
		Message: errors.UserMessage(err),
	}})
}
