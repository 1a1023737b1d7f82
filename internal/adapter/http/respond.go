package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
)

const maxJSONBody = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind       domain.Kind `json:"kind"`
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode,omitempty"`
}

// statusForKind maps error kinds to response codes. Upstream failures of the
// blob store or a processing service are reported as bad gateway.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUpload, domain.KindDispatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn.Printf("failed to write response: %v", err)
	}
}

func errorPayload(err error) (int, errorBody) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)

	detail := errorDetail{Kind: kind, Message: err.Error()}
	var de *domain.Error
	if errors.As(err, &de) {
		if de.Message != "" {
			detail.Message = de.Message
		}
		detail.StatusCode = de.StatusCode
	}
	if kind == domain.KindInternal {
		detail.Message = "internal error"
	}
	return status, errorBody{Error: detail}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorPayload(err)
	if status >= http.StatusInternalServerError {
		logger.Error.Printf("%s %s: %v", r.Method, logger.SanitizeForLog(r.URL.Path), err)
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Validationf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return domain.Validationf("malformed JSON body: %v", err)
	}
	return nil
}
