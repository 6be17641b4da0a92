package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amsterdam/haal-centraal-proxy/internal/proxy"
	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
	"github.com/Amsterdam/haal-centraal-proxy/pkg/platform/httputil"
)

type fakePipeline struct {
	payload map[string]any
	err     error

	gotToken string
	gotReq   proxy.Request
}

func (f *fakePipeline) Handle(_ context.Context, bearerToken string, req proxy.Request) (map[string]any, error) {
	f.gotToken = bearerToken
	f.gotReq = req
	return f.payload, f.err
}

func newTestRouter(pipeline Pipeline) http.Handler {
	return NewRouter(NewHandler(pipeline, nil), nil)
}

func postQuery(t *testing.T, router http.Handler, dataset, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/"+dataset, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuerySuccess(t *testing.T) {
	pipeline := &fakePipeline{payload: map[string]any{
		"naam": map[string]any{"voornamen": "Ayla"},
	}}
	router := newTestRouter(pipeline)

	rec := postQuery(t, router, "brp-personen", `{
		"type": "ZoekMetPostcodeEnHuisnummer",
		"fields": ["naam.voornamen"],
		"postcode": "1011PN",
		"huisnummer": 42
	}`, map[string]string{"Authorization": "Bearer token-abc"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "token-abc", pipeline.gotToken)
	assert.Equal(t, "brp-personen", pipeline.gotReq.Dataset)
	assert.Equal(t, "ZoekMetPostcodeEnHuisnummer", pipeline.gotReq.Operation)
	assert.Equal(t, []string{"naam.voornamen"}, pipeline.gotReq.Fields)
	// Numbers keep their literal form.
	assert.Equal(t, map[string][]string{
		"postcode":   {"1011PN"},
		"huisnummer": {"42"},
	}, pipeline.gotReq.Parameters)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"voornamen": "Ayla"}, body["naam"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleQueryArrayParameter(t *testing.T) {
	pipeline := &fakePipeline{payload: map[string]any{}}
	router := newTestRouter(pipeline)

	rec := postQuery(t, router, "brp-personen", `{
		"type": "RaadpleegMetBurgerservicenummer",
		"burgerservicenummer": ["999993653", "999993641"]
	}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string][]string{
		"burgerservicenummer": {"999993653", "999993641"},
	}, pipeline.gotReq.Parameters)
}

func TestHandleQueryMissingType(t *testing.T) {
	router := newTestRouter(&fakePipeline{})

	rec := postQuery(t, router, "brp-personen", `{"postcode": "1011PN"}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json; charset=utf-8", rec.Header().Get("Content-Type"))

	var problem httputil.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, string(dErrors.CodeBadRequest), problem.Code)
	require.Len(t, problem.InvalidParams, 1)
	assert.Equal(t, "type", problem.InvalidParams[0].Name)
}

func TestHandleQueryMalformedBody(t *testing.T) {
	router := newTestRouter(&fakePipeline{})

	rec := postQuery(t, router, "brp-personen", `{not json`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryMissingBearer(t *testing.T) {
	pipeline := &fakePipeline{
		err: dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"),
	}
	router := newTestRouter(pipeline)

	rec := postQuery(t, router, "brp-personen", `{"type": "ZoekMetPostcodeEnHuisnummer"}`, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, pipeline.gotToken)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestHandleQueryDomainErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"no granted scope", dErrors.New(dErrors.CodeNoGrantedScope, "no granted scope"), http.StatusForbidden},
		{"disallowed parameter", dErrors.NewParam(dErrors.CodeDisallowedParameter, "verblijfplaats", "not permitted"), http.StatusBadRequest},
		{"disallowed value", dErrors.NewParam(dErrors.CodeDisallowedParameterValue, "geboortedatum", "value not permitted"), http.StatusForbidden},
		{"unknown dataset", dErrors.New(dErrors.CodeUnknownDataset, "no policy"), http.StatusNotFound},
		{"remote validation", dErrors.New(dErrors.CodeRemoteValidation, "invalid query"), http.StatusBadRequest},
		{"upstream down", dErrors.New(dErrors.CodeUnavailable, "connection failed"), http.StatusServiceUnavailable},
		{"upstream timeout", dErrors.New(dErrors.CodeGatewayTimeout, "timed out"), http.StatusGatewayTimeout},
		{"uncoded error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakePipeline{err: tc.err})

			rec := postQuery(t, router, "brp-personen", `{"type": "ZoekMetPostcodeEnHuisnummer"}`, nil)

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestHandleQueryInternalErrorIsOpaque(t *testing.T) {
	router := newTestRouter(&fakePipeline{err: errors.New("pq: connection reset")})

	rec := postQuery(t, router, "brp-personen", `{"type": "ZoekMetPostcodeEnHuisnummer"}`, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var problem httputil.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.NotContains(t, problem.Detail, "pq:")
}

type staticHealth struct{ err error }

func (s staticHealth) Health(context.Context) error { return s.err }

func TestHealthz(t *testing.T) {
	router := NewRouter(NewHandler(&fakePipeline{}, nil), map[string]HealthChecker{
		"redis": staticHealth{},
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["redis"])
}

func TestHealthzDegraded(t *testing.T) {
	router := NewRouter(NewHandler(&fakePipeline{}, nil), map[string]HealthChecker{
		"redis": staticHealth{err: errors.New("connection refused")},
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
