package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "trustledger/pkg/domain-errors"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusForCode(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates domain errors to HTTP responses. Unknown errors
// become opaque 500s so internals never leak to callers.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if !errors.As(err, &domainErr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    string(dErrors.CodeInternal),
			Message: "internal server error",
		})
		return
	}
	writeJSON(w, statusForCode(domainErr.Code), errorResponse{
		Code:    string(domainErr.Code),
		Message: domainErr.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
