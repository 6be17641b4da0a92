// Package httputil centralizes JSON response writing and domain error
// translation so every endpoint speaks the same envelope.
//
// Errors go out as RFC 7807 problem documents (application/problem+json),
// matching what the Haal Centraal APIs themselves return.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
)

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Status        int            `json:"status"`
	Detail        string         `json:"detail,omitempty"`
	Code          string         `json:"code"`
	InvalidParams []InvalidParam `json:"invalidParams,omitempty"`
}

// InvalidParam names one offending request parameter.
type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError translates a domain error into a problem document. Uncoded
// errors become an opaque 500; upstream detail never reaches the caller
// beyond what the coded message already carries.
func WriteError(w http.ResponseWriter, err error) {
	domErr := dErrors.FromError(err)
	status := ToHTTPStatus(domErr.Code)

	problem := Problem{
		Type:   "urn:problem:" + string(domErr.Code),
		Title:  http.StatusText(status),
		Status: status,
		Detail: domErr.Message,
		Code:   string(domErr.Code),
	}
	if domErr.Code == dErrors.CodeInternal {
		problem.Detail = "internal error"
	}
	if domErr.Param != "" {
		problem.InvalidParams = []InvalidParam{{Name: domErr.Param, Reason: domErr.Message}}
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="haal-centraal-proxy"`)
	}
	w.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// ToHTTPStatus maps a domain error code to an HTTP status.
func ToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	// An unknown parameter name is a malformed request (400); a known
	// parameter with a value outside the caller's grants is a denial (403).
	case dErrors.CodeBadRequest, dErrors.CodeDisallowedParameter, dErrors.CodeRemoteValidation:
		return http.StatusBadRequest
	case dErrors.CodeNoGrantedScope,
		dErrors.CodeDisallowedParameterValue,
		dErrors.CodeNoFieldsPermitted,
		dErrors.CodeRemoteDenied:
		return http.StatusForbidden
	case dErrors.CodeUnknownDataset, dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadGateway:
		return http.StatusBadGateway
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
