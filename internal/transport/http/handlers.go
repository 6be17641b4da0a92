// Package httptransport is the thin HTTP layer over the request pipeline. It
// decodes Haal Centraal query bodies, delegates to the pipeline service, and
// translates domain errors to problem documents; no authorization logic
// lives here.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Amsterdam/haal-centraal-proxy/internal/proxy"
	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
	"github.com/Amsterdam/haal-centraal-proxy/pkg/platform/httputil"
	"github.com/Amsterdam/haal-centraal-proxy/pkg/requestcontext"
)

// Pipeline is the request pipeline behind the HTTP layer.
type Pipeline interface {
	Handle(ctx context.Context, bearerToken string, req proxy.Request) (map[string]any, error)
}

// Handler wires the query endpoint to the pipeline service.
type Handler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

// NewHandler constructs the HTTP handler with its dependencies.
func NewHandler(pipeline Pipeline, logger *slog.Logger) *Handler {
	return &Handler{pipeline: pipeline, logger: logger}
}

// Register mounts the query endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/{dataset}", h.HandleQuery)
}

// HandleQuery handles POST /api/{dataset} requests.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, err := decodeQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	payload, err := h.pipeline.Handle(ctx, bearerToken(r), *req)
	if err != nil {
		// Denials and upstream failures are expected traffic; the pipeline
		// already audited and logged them at the appropriate level.
		httputil.WriteError(w, err)
		return
	}

	if h.logger != nil {
		h.logger.InfoContext(ctx, "query served",
			"request_id", requestID,
			"dataset", req.Dataset,
			"operation", req.Operation,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	httputil.WriteJSON(w, http.StatusOK, payload)
}

// bearerToken extracts the bearer token, or returns the empty string so the
// pipeline rejects (and audits) the request as unauthenticated.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// decodeQuery lifts the Haal Centraal query body into a pipeline request.
// The body is a flat JSON object: "type" names the operation, "fields" is an
// optional selection, every other key is a search parameter.
func decodeQuery(r *http.Request) (*proxy.Request, error) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()

	var body map[string]any
	if err := decoder.Decode(&body); err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid JSON request body")
	}

	operation, ok := body["type"].(string)
	if !ok || operation == "" {
		return nil, dErrors.NewParam(dErrors.CodeBadRequest, "type", "type is required")
	}
	delete(body, "type")

	var fields []string
	if raw, ok := body["fields"]; ok {
		fields, ok = stringSlice(raw)
		if !ok {
			return nil, dErrors.NewParam(dErrors.CodeBadRequest, "fields", "fields must be an array of strings")
		}
		delete(body, "fields")
	}

	params := make(map[string][]string, len(body))
	for name, raw := range body {
		values, ok := parameterValues(raw)
		if !ok {
			return nil, dErrors.NewParam(dErrors.CodeBadRequest, name, "unsupported parameter value")
		}
		params[name] = values
	}

	return &proxy.Request{
		Dataset:    chi.URLParam(r, "dataset"),
		Operation:  operation,
		Parameters: params,
		Fields:     fields,
	}, nil
}

func stringSlice(raw any) ([]string, bool) {
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// parameterValues flattens a JSON parameter value to strings. Scalars keep
// their literal form (numbers are not reformatted), arrays flatten one level.
func parameterValues(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case string:
		return []string{v}, true
	case json.Number:
		return []string{v.String()}, true
	case bool:
		if v {
			return []string{"true"}, true
		}
		return []string{"false"}, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			values, ok := parameterValues(item)
			if !ok || len(values) != 1 {
				return nil, false
			}
			out = append(out, values[0])
		}
		return out, true
	default:
		return nil, false
	}
}
