package network

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/busybox42/memstate/internal/store"
	"github.com/busybox42/memstate/pkg/protocol"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return NewHandler(store.NewLocal(), protocol.APIPrefix, 1<<20, logger)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func initialise(t *testing.T, h http.Handler, id string, image []byte) {
	t.Helper()
	body, err := protocol.NewProgramState(id, image).Serialize()
	require.NoError(t, err)
	rec := do(t, h, http.MethodPost, "/api/v1/initialise", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Empty(t, rec.Body.String())
}

func TestStatus(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Healthy", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDEchoed(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(requestIDHeader, "trace-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "trace-1", rec.Header().Get(requestIDHeader))
}

func TestReadRange(t *testing.T) {
	h := newTestHandler(t)
	initialise(t, h, "abcd", make([]byte, 0x10000))

	rec := do(t, h, http.MethodPost, "/api/v1/writeByte?id=abcd&address=16&value=255", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/writeByte?id=abcd&address=26&value=254", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/readRange?id=abcd&address=16&length=16", "")
	require.Equal(t, http.StatusOK, rec.Code)
	want := protocol.EncodeRange([]byte{0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFE, 0, 0, 0, 0, 0})
	assert.Equal(t, want, rec.Body.String())
}

func TestReadWrite(t *testing.T) {
	h := newTestHandler(t)
	initialise(t, h, "abcd", make([]byte, 0x10000))

	rec := do(t, h, http.MethodPost, "/api/v1/writeByte?id=abcd&address=16&value=8", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/readByte?id=abcd&address=16", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "8", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/readByte?id=abcd&address=17", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Body.String())
}

func TestReinitialise(t *testing.T) {
	h := newTestHandler(t)
	initialise(t, h, "rom", []byte{9, 9, 9, 9, 9, 9})
	initialise(t, h, "rom", []byte{1, 2})

	rec := do(t, h, http.MethodGet, "/api/v1/readRange?id=rom&address=0&length=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.EncodeRange([]byte{1, 2}), rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/readByte?id=rom&address=2", "")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestZeroLengthRange(t *testing.T) {
	h := newTestHandler(t)
	initialise(t, h, "rom", []byte{1})

	rec := do(t, h, http.MethodGet, "/api/v1/readRange?id=rom&address=65535&length=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", rec.Body.String())
}

func TestRequestFailures(t *testing.T) {
	h := newTestHandler(t)
	initialise(t, h, "rom", make([]byte, 16))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{name: "read unknown id", method: http.MethodGet, target: "/api/v1/readByte?id=nope&address=0", want: http.StatusNotFound},
		{name: "write unknown id", method: http.MethodPost, target: "/api/v1/writeByte?id=nope&address=0&value=1", want: http.StatusNotFound},
		{name: "range unknown id", method: http.MethodGet, target: "/api/v1/readRange?id=nope&address=0&length=0", want: http.StatusNotFound},
		{name: "read past end", method: http.MethodGet, target: "/api/v1/readByte?id=rom&address=16", want: http.StatusRequestedRangeNotSatisfiable},
		{name: "write past end", method: http.MethodPost, target: "/api/v1/writeByte?id=rom&address=16&value=1", want: http.StatusRequestedRangeNotSatisfiable},
		{name: "range past end", method: http.MethodGet, target: "/api/v1/readRange?id=rom&address=8&length=9", want: http.StatusRequestedRangeNotSatisfiable},
		{name: "range wraps", method: http.MethodGet, target: "/api/v1/readRange?id=rom&address=65535&length=2", want: http.StatusUnprocessableEntity},
		{name: "address too wide", method: http.MethodGet, target: "/api/v1/readByte?id=rom&address=65536", want: http.StatusBadRequest},
		{name: "value too wide", method: http.MethodPost, target: "/api/v1/writeByte?id=rom&address=0&value=256", want: http.StatusBadRequest},
		{name: "missing id", method: http.MethodGet, target: "/api/v1/readByte?address=0", want: http.StatusBadRequest},
		{name: "missing length", method: http.MethodGet, target: "/api/v1/readRange?id=rom&address=0", want: http.StatusBadRequest},
		{name: "bad json", method: http.MethodPost, target: "/api/v1/initialise", body: "{", want: http.StatusBadRequest},
		{name: "bad base64", method: http.MethodPost, target: "/api/v1/initialise", body: `{"id":"x","program_state":"*"}`, want: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, target: "/api/v1/writeByte?id=rom&address=0&value=1", want: http.StatusMethodNotAllowed},
		{name: "unprefixed data route", method: http.MethodGet, target: "/readByte?id=rom&address=0", want: http.StatusNotFound},
		{name: "prefixed status", method: http.MethodGet, target: "/api/v1/status", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestInitialiseBodyLimit(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	h := NewHandler(store.NewLocal(), protocol.APIPrefix, 64, logger)

	body, err := protocol.NewProgramState("rom", make([]byte, 1024)).Serialize()
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/api/v1/initialise", string(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCustomPrefix(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	h := NewHandler(store.NewLocal(), "/mem", 1<<20, logger)

	body, err := protocol.NewProgramState("rom", []byte{5}).Serialize()
	require.NoError(t, err)
	rec := do(t, h, http.MethodPost, "/mem/initialise", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/mem/readByte?id=rom&address=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Body.String())
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unknown id", err: errors.Wrap(store.ErrUnknownIdentifier, "id"), want: http.StatusNotFound},
		{name: "out of range", err: store.ErrAddressOutOfRange, want: http.StatusRequestedRangeNotSatisfiable},
		{name: "invalid range", err: store.ErrInvalidRange, want: http.StatusUnprocessableEntity},
		{name: "decoding", err: protocol.ErrDecodingFailure, want: http.StatusBadRequest},
		{name: "media type", err: protocol.ErrUnsupportedMediaType, want: http.StatusUnsupportedMediaType},
		{name: "too large", err: errors.Wrap(&http.MaxBytesError{Limit: 1}, "read body"), want: http.StatusRequestEntityTooLarge},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestInitialiseContentType(t *testing.T) {
	h := newTestHandler(t)
	body, err := protocol.NewProgramState("rom", []byte{1, 2}).Serialize()
	require.NoError(t, err)

	tests := []struct {
		name        string
		contentType string
		want        int
	}{
		{name: "json", contentType: "application/json", want: http.StatusOK},
		{name: "json with charset", contentType: "application/json; charset=utf-8", want: http.StatusOK},
		{name: "plain text", contentType: "text/plain", want: http.StatusUnsupportedMediaType},
		{name: "form", contentType: "application/x-www-form-urlencoded", want: http.StatusUnsupportedMediaType},
		{name: "missing", contentType: "", want: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/initialise", bytes.NewReader(body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
