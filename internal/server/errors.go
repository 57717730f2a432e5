package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/streamstudio/internal/capture"
	"github.com/MrWong99/streamstudio/internal/library"
	"github.com/MrWong99/streamstudio/internal/observe"
	"github.com/MrWong99/streamstudio/internal/preview"
	"github.com/MrWong99/streamstudio/internal/resilience"
	"github.com/MrWong99/streamstudio/internal/studio"
	"github.com/MrWong99/streamstudio/pkg/audio/wav"
	"github.com/MrWong99/streamstudio/pkg/provider"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// Error codes returned in the "code" field of error responses.
const (
	codeInvalidRequest     = "invalid_request"
	codeCredentialRequired = "credential_required"
	codeCredentialRejected = "credential_rejected"
	codeNotFound           = "not_found"
	codeDeviceUnavailable  = "device_unavailable"
	codeNotBound           = "not_bound"
	codePlaybackRejected   = "playback_rejected"
	codeTooLarge           = "too_large"
	codeGenerationFailed   = "generation_failed"
	codeTimeout            = "timeout"
	codeCancelled          = "cancelled"
	codeInternal           = "internal"
)

type errorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps err to an HTTP status and error code. Order matters: a
// rejected credential inside an exhausted fallback group still re-prompts.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, codeTooLarge
	case errors.Is(err, studio.ErrCredentialRequired):
		return http.StatusUnauthorized, codeCredentialRequired
	case errors.Is(err, provider.ErrCredentialRejected):
		return http.StatusUnauthorized, codeCredentialRejected
	case errors.Is(err, provider.ErrEmptyInput),
		errors.Is(err, studio.ErrWrongKind),
		errors.Is(err, studio.ErrUnsupportedMedia):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusConflict, codeDeviceUnavailable
	case errors.Is(err, preview.ErrNotBound):
		return http.StatusConflict, codeNotBound
	case errors.Is(err, preview.ErrPlaybackRejected):
		return http.StatusConflict, codePlaybackRejected
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, codeCancelled
	case errors.Is(err, provider.ErrGenerationFailed),
		errors.Is(err, resilience.ErrAllFailed),
		errors.Is(err, wav.ErrMalformedAudio):
		return http.StatusBadGateway, codeGenerationFailed
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeError logs err and writes it as a JSON error body. Internal errors
// are not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", code, "err", err)
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	} else {
		log.Debug("request rejected", "code", code, "err", err)
	}
	writeJSON(w, status, errorBody{Error: apiError{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
