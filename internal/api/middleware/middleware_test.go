package middleware

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nextconvert/silk2mp3/internal/shared/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type part struct {
	name        string
	contentType string
	data        string
}

func multipartRequest(t *testing.T, field string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+p.name+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write([]byte(p.data))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestValidateFileUpload(t *testing.T) {
	mw := ValidateFileUpload(VoiceFileValidation("files", 16, 2))(okHandler())

	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantError  string
	}{
		{
			name: "accepts silk and declared audio",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "files",
					part{name: "a.SILK", data: "abc"},
					part{name: "voice.bin", contentType: "audio/amr", data: "abc"},
				)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "rejects unsupported type",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "files", part{name: "notes.txt", contentType: "text/plain", data: "abc"})
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "unsupported file type: notes.txt",
		},
		{
			name: "rejects too many files",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "files",
					part{name: "1.silk", data: "a"}, part{name: "2.silk", data: "b"}, part{name: "3.silk", data: "c"},
				)
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "Too many files: 3 (maximum 2)",
		},
		{
			name: "rejects oversized file",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "files", part{name: "big.silk", data: strings.Repeat("x", 17)})
			},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name: "rejects missing files",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "other", part{name: "a.silk", data: "abc"})
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "No files uploaded",
		},
		{
			name: "rejects non-multipart body",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}"))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, tt.req(t))
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantError != "" {
				var body ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantError, body.Error)
			}
		})
	}
}

func TestMatchMIMEType(t *testing.T) {
	assert.True(t, matchMIMEType("audio/mpeg", "audio/*"))
	assert.True(t, matchMIMEType("Audio/AMR; rate=8000", "audio/*"))
	assert.False(t, matchMIMEType("application/octet-stream", "audio/*"))
	assert.False(t, matchMIMEType("", "audio/*"))
}

func TestGetRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", GetRealIP(req))

	req.Header.Set("X-Real-IP", "192.168.1.5")
	assert.Equal(t, "192.168.1.5", GetRealIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	assert.Equal(t, "203.0.113.7", GetRealIP(req))
}

func TestRateLimiterWithoutRedisIsPassthrough(t *testing.T) {
	rl := NewRateLimiter(nil, zap.NewNop())
	h := rl.Limit(UploadRateLimit(1))(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/upload", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(m))
	r.Get("/api/download/{filename}", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "File not found")
	})

	for _, name := range []string{"a.mp3", "b.mp3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/download/"+name, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/download/{filename}", "4xx")))
}

func TestLoggerRecordsStatus(t *testing.T) {
	h := Logger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Millisecond)
		WriteError(w, http.StatusTeapot, "short and stout")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(NoCache(okHandler())).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
}

func TestNoCache(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "conversion result", status: http.StatusOK},
		{name: "rejected upload", status: http.StatusBadRequest},
		{name: "failed batch", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NoCache(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/upload", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "no-store, max-age=0", rec.Header().Get("Cache-Control"))
			assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
		})
	}
}
