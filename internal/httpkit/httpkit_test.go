package httpkit

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenteconomy/trustplane/internal/apperror"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthEndpointMergesHealthFn(t *testing.T) {
	s := New("bank", discardLogger(), func() map[string]any {
		return map[string]any{"db": "ok"}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db"])
}

func TestMetricsEndpointExposesPrometheusFormat(t *testing.T) {
	s := New("bank", discardLogger(), nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trustplane_bank_http_requests_total")
}

func TestRecoverMiddlewareTurnsPanicIntoInternalError(t *testing.T) {
	s := New("bank", discardLogger(), nil)
	s.Router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body apperror.Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL", body.Code)
}

func TestMaxBodyBytesRejectsOversizedContentLength(t *testing.T) {
	handler := MaxBodyBytes(10, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("this body is definitely over ten bytes"))
	req.ContentLength = int64(len("this body is definitely over ten bytes"))
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var body apperror.Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PAYLOAD_TOO_LARGE", body.Code)
}

func TestMaxBodyBytesAllowsBodyWithinLimit(t *testing.T) {
	called := false
	handler := MaxBodyBytes(1024, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("tiny"))
	req.ContentLength = 4
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireContentTypeRejectsMismatch(t *testing.T) {
	handler := RequireContentType("application/json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	var body apperror.Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", body.Code)
}

func TestRequireContentTypeAcceptsParameterizedMediaType(t *testing.T) {
	handler := RequireContentType("application/json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDecodeJSONReportsInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("not json"))
	var dst map[string]any
	apiErr := DecodeJSON(req, &dst)
	require.NotNil(t, apiErr)
	assert.Equal(t, "INVALID_JSON", apiErr.Code)
}

func TestBearerTokenExtractsSuffix(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", BearerToken(req))
}

func TestBearerTokenReturnsEmptyWithoutPrefix(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", BearerToken(req))

	reqNone := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, "", BearerToken(reqNone))
}

func TestWriteErrorDefaultsToInternalWhenNil(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body apperror.Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL", body.Code)
}
