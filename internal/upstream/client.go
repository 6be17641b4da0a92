// Package upstream holds the Haal Centraal client. It forwards one validated
// request and translates transport and remote failures into the proxy's error
// taxonomy; retry policy is deliberately absent.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
)

const userAgent = "Amsterdam-Haal-Centraal-Proxy/1.0"

// Client calls the Haal Centraal registry. A single instance is shared so the
// underlying connection pool is reused across requests.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New builds a registry client. baseURL is the service root; dataset paths
// are appended per call. The timeout bounds each upstream call on top of
// whatever deadline the inbound request context carries.
func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("missing Haal Centraal base URL")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		tracer:  otel.Tracer("haal-centraal-proxy/upstream"),
	}, nil
}

// BaseURL returns the configured service root, used for link rewriting.
func (c *Client) BaseURL() string { return c.baseURL }

// Call POSTs the request body to the dataset endpoint and returns the decoded
// response payload. The inbound context's cancellation and deadline propagate
// into the HTTP request, so an aborted caller aborts the upstream call too.
func (c *Client) Call(ctx context.Context, dataset string, body map[string]any) (map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.call",
		trace.WithAttributes(attribute.String("dataset", dataset)))
	defer span.End()

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "encode upstream request", err)
	}

	url := c.baseURL + "/" + dataset
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "build upstream request", err)
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeBadGateway, "read upstream response", err)
	}

	elapsed := time.Since(start)
	if c.logger != nil {
		level := slog.LevelInfo
		if resp.StatusCode >= 400 {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "upstream call",
			"dataset", dataset,
			"status", resp.StatusCode,
			"content_type", resp.Header.Get("Content-Type"),
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeBadGateway, "malformed upstream payload", err)
		}
		return payload, nil
	}

	return nil, c.statusError(resp, raw)
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		if c.logger != nil {
			c.logger.ErrorContext(ctx, "upstream timeout", "error", err)
		}
		return dErrors.Wrap(dErrors.CodeGatewayTimeout, "connection failed (server timeout)", err)
	}
	if errors.Is(err, context.Canceled) {
		return dErrors.Wrap(dErrors.CodeUnavailable, "request canceled", err)
	}
	if c.logger != nil {
		c.logger.ErrorContext(ctx, "upstream connection failed", "error", err)
	}
	return dErrors.Wrap(dErrors.CodeUnavailable, "connection failed (network trouble)", err)
}

// statusError translates remote HTTP errors into the proxy's failure classes,
// mirroring the distinction between "the registry said no" and "the registry
// is broken". 401 is folded into 403: we cannot forward a WWW-Authenticate
// challenge we did not issue.
func (c *Client) statusError(resp *http.Response, raw []byte) error {
	contentType := resp.Header.Get("Content-Type")
	isJSON := strings.Contains(contentType, "json")

	switch resp.StatusCode {
	case http.StatusBadRequest:
		if isJSON {
			return dErrors.Newf(dErrors.CodeRemoteValidation,
				"remote rejected the request: %s", remoteDetail(raw))
		}
		return dErrors.New(dErrors.CodeBadGateway, "connection failed (bad gateway)")
	case http.StatusUnauthorized, http.StatusForbidden:
		return dErrors.Newf(dErrors.CodeRemoteDenied,
			"%d from remote: %s", resp.StatusCode, remoteDetail(raw))
	case http.StatusNotFound:
		return dErrors.New(dErrors.CodeNotFound, "not found")
	default:
		return dErrors.Newf(dErrors.CodeBadGateway,
			"unexpected HTTP %d from upstream", resp.StatusCode)
	}
}

// remoteDetail pulls the problem+json title out of a remote error body,
// falling back to a trimmed raw body.
func remoteDetail(raw []byte) string {
	var problem struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(raw, &problem); err == nil && problem.Title != "" {
		return problem.Title
	}
	detail := strings.TrimSpace(string(raw))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
