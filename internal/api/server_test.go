package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/resizeflow/internal/domain"
	"github.com/dunamismax/resizeflow/internal/pipeline"
	"github.com/dunamismax/resizeflow/internal/ratelimit"
	"github.com/dunamismax/resizeflow/internal/storage"
	"github.com/dunamismax/resizeflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	if err := pipeline.Startup(); err != nil {
		panic(err)
	}
	code := m.Run()
	pipeline.Shutdown()
	os.Exit(code)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, file []byte, config string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if config != "" {
		require.NoError(t, mw.WriteField("config", config))
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", "upload.bin")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/transcode", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Transcoder == nil {
		opts.Transcoder = pipeline.NewTranscoder()
	}
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	s, err := NewServer(opts)
	require.NoError(t, err)
	return s
}

func TestNewServerRequiresTranscoder(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["object_storage"])
}

func TestTranscodeEndpoint(t *testing.T) {
	usage := store.NewMemoryUsageStore()
	s := newTestServer(t, Options{UsageStore: usage})

	req := multipartRequest(t, testPNG(t, 200, 100), `{"algorithm":"lanczos3","max_width":50,"max_height":50,"mime_type":"image/jpeg","quality":0.7}`)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "50", rec.Header().Get("X-Image-Width"))
	assert.Equal(t, "25", rec.Header().Get("X-Image-Height"))
	assert.Equal(t, "png", rec.Header().Get("X-Source-Format"))
	assert.Equal(t, "false", rec.Header().Get("X-Format-Fallback"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	cfg, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 50, cfg.Width)

	logs := usage.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "alice", logs[0].SubjectID)
	assert.Equal(t, "png", logs[0].SourceFormat)
	assert.Equal(t, "jpeg", logs[0].OutputFormat)
	assert.EqualValues(t, 20000, logs[0].PixelsProcessed)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), logs[0].RequestID)
}

func TestTranscodeEndpointFallbackHeader(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, testPNG(t, 20, 20), `{"algorithm":"nearest","max_width":10,"max_height":10,"mime_type":"image/heic"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "true", rec.Header().Get("X-Format-Fallback"))
}

func TestTranscodeEndpointErrors(t *testing.T) {
	s := newTestServer(t, Options{})
	valid := `{"algorithm":"nearest","max_width":10,"max_height":10,"mime_type":"image/png"}`

	cases := []struct {
		name   string
		file   []byte
		config string
		status int
		kind   string
	}{
		{name: "missing config", file: testPNG(t, 4, 4), status: http.StatusBadRequest},
		{name: "missing file", config: valid, status: http.StatusBadRequest},
		{name: "unknown config field", file: testPNG(t, 4, 4), config: `{"algorithm":"nearest","max_width":1,"max_height":1,"sharpen":true}`, status: http.StatusBadRequest},
		{name: "invalid algorithm", file: testPNG(t, 4, 4), config: `{"algorithm":"bicubic","max_width":1,"max_height":1}`, status: http.StatusBadRequest, kind: "invalid_config"},
		{name: "zero bound", file: testPNG(t, 4, 4), config: `{"algorithm":"nearest","max_width":0,"max_height":1}`, status: http.StatusBadRequest, kind: "invalid_config"},
		{name: "random bytes", file: []byte("definitely not an image"), config: valid, status: http.StatusUnsupportedMediaType, kind: "unrecognized_format"},
		{name: "truncated png", file: testPNG(t, 64, 64)[:80], config: valid, status: http.StatusUnprocessableEntity, kind: "decode_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, multipartRequest(t, tc.file, tc.config))

			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			if tc.kind != "" {
				assert.Equal(t, tc.kind, body["kind"])
			}
		})
	}
}

func TestTranscodeEndpointUploadLimit(t *testing.T) {
	s := newTestServer(t, Options{MaxUploadBytes: 512})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, bytes.Repeat([]byte{0x1}, 4096), `{"algorithm":"nearest","max_width":1,"max_height":1}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestTranscodeEndpointAVIFUnavailable(t *testing.T) {
	if pipeline.AVIFSupported() {
		t.Skip("avif backend compiled in")
	}
	s := newTestServer(t, Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, testPNG(t, 8, 8), `{"algorithm":"nearest","max_width":4,"max_height":4,"mime_type":"image/avif"}`))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestObjectTranscodeEndpoint(t *testing.T) {
	objects := newFakeObjects()
	objects.put("uploads/cat.png", testPNG(t, 120, 60))
	usage := store.NewMemoryUsageStore()
	s := newTestServer(t, Options{Storage: objects, UsageStore: usage})

	body := `{"object_key":"uploads/cat.png","output_prefix":"thumbs","config":{"algorithm":"triangle","max_width":30,"max_height":30,"mime_type":"image/png"}}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/objects/transcode", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out pipeline.Output
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, strings.HasPrefix(out.Path, "thumbs/"))
	assert.Equal(t, 30, out.Width)
	assert.Equal(t, 15, out.Height)
	assert.Equal(t, 120, out.SourceWidth)

	written, ok := objects.get(out.Path)
	require.True(t, ok)
	assert.Len(t, written, out.Bytes)

	logs := usage.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "anonymous", logs[0].SubjectID)
	assert.EqualValues(t, 7200, logs[0].PixelsProcessed)
}

func TestObjectTranscodeEndpointErrors(t *testing.T) {
	t.Run("storage disabled", func(t *testing.T) {
		s := newTestServer(t, Options{})
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/objects/transcode", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	s := newTestServer(t, Options{Storage: newFakeObjects()})

	t.Run("missing key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/objects/transcode", strings.NewReader(`{"config":{"algorithm":"nearest","max_width":1,"max_height":1}}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("object not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/objects/transcode", strings.NewReader(`{"object_key":"nope","config":{"algorithm":"nearest","max_width":1,"max_height":1}}`)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("object too large", func(t *testing.T) {
		objects := newFakeObjects()
		objects.maxBytes = 8
		objects.put("big.png", testPNG(t, 16, 16))
		s := newTestServer(t, Options{Storage: objects})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/objects/transcode", strings.NewReader(`{"object_key":"big.png","config":{"algorithm":"nearest","max_width":1,"max_height":1}}`)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "too_large", body["kind"])
	})

	t.Run("trailing json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/objects/transcode", strings.NewReader(`{"object_key":"a"}{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUsageEndpoint(t *testing.T) {
	usage := store.NewMemoryUsageStore()
	require.NoError(t, usage.CreateUsageLog(context.Background(), domain.UsageLog{RequestID: "r1", SubjectID: "bob", PixelsProcessed: 10, BytesSaved: 4, ComputeTimeMS: 2}))
	require.NoError(t, usage.CreateUsageLog(context.Background(), domain.UsageLog{RequestID: "r2", SubjectID: "bob", PixelsProcessed: 5, BytesSaved: -1, ComputeTimeMS: 3}))
	s := newTestServer(t, Options{UsageStore: usage})

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set("X-User-ID", "bob")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary domain.UsageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, domain.UsageSummary{SubjectID: "bob", Requests: 2, PixelsProcessed: 15, BytesSaved: 3, ComputeTimeMS: 5}, summary)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, Remaining: 0, RetryAfter: 1500 * time.Millisecond}}
	s := newTestServer(t, Options{RateLimiter: limiter})

	req := multipartRequest(t, testPNG(t, 4, 4), `{"algorithm":"nearest","max_width":1,"max_height":1}`)
	req.Header.Set("X-User-ID", "carol")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"carol:/v1/transcode"}, limiter.subjects)
	assert.EqualValues(t, 1, limiter.costs[0])

	// GETs are never charged.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, limiter.subjects, 1)
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	s := newTestServer(t, Options{RateLimiter: limiter})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, testPNG(t, 4, 4), `{"algorithm":"nearest","max_width":2,"max_height":2,"mime_type":"image/png"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, testPNG(t, 10, 10), `{"algorithm":"nearest","max_width":5,"max_height":5,"mime_type":"image/png"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `resizeflow_api_requests_total{method="POST",route="/v1/transcode",status="200"} 1`)
	assert.Contains(t, text, `resizeflow_transcodes_total{outcome="ok",output_format="png",source_format="png"} 1`)
	assert.Contains(t, text, `resizeflow_pixels_processed_total{subject="anonymous"} 100`)
}

func TestTranscodeEndpointBusy(t *testing.T) {
	s := newTestServer(t, Options{MaxConcurrent: 1})
	release, err := s.acquireSlot(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := multipartRequest(t, testPNG(t, 4, 4), `{"algorithm":"nearest","max_width":2,"max_height":2}`).WithContext(ctx)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTranscodeEndpointReleasesSlotAfterPanic(t *testing.T) {
	s := newTestServer(t, Options{MaxConcurrent: 1})

	rec := &panicOnceWriter{ResponseRecorder: httptest.NewRecorder()}
	s.Handler().ServeHTTP(rec, multipartRequest(t, testPNG(t, 4, 4), `{"algorithm":"nearest","max_width":2,"max_height":2}`))
	assert.True(t, rec.panicked)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	release, err := s.acquireSlot(ctx)
	require.NoError(t, err)
	release()
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("resize stage: %w", pipeline.ErrInvalidConfig), http.StatusBadRequest},
		{fmt.Errorf("detect stage: %w", pipeline.ErrUnrecognizedFormat), http.StatusUnsupportedMediaType},
		{&pipeline.DecodeError{Format: pipeline.FormatPNG, Reason: "bad"}, http.StatusUnprocessableEntity},
		{&pipeline.EncodeError{Format: pipeline.FormatJPEG, Reason: "bad"}, http.StatusUnprocessableEntity},
		{&pipeline.EncodeError{Format: pipeline.FormatAVIF, Reason: "missing", Err: pipeline.ErrFormatUnavailable}, http.StatusNotImplemented},
		{fmt.Errorf("fetch stage: %w", storage.ErrObjectNotFound), http.StatusNotFound},
		{fmt.Errorf("fetch stage: %w", storage.ErrObjectTooLarge), http.StatusRequestEntityTooLarge},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), tc.err.Error())
	}
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/v1/transcode", routeLabel("/v1/transcode"))
	assert.Equal(t, "/healthz", routeLabel("/healthz"))
	assert.Equal(t, "unmatched", routeLabel("/v1/jobs/abc/start"))
}

type fakeLimiter struct {
	mu       sync.Mutex
	decision ratelimit.Decision
	err      error
	subjects []string
	costs    []int64
}

func (f *fakeLimiter) AllowN(_ context.Context, subject string, cost int64) (ratelimit.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.costs = append(f.costs, cost)
	return f.decision, f.err
}

type fakeObjects struct {
	mu       sync.Mutex
	objects  map[string][]byte
	maxBytes int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeObjects) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func (f *fakeObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := f.get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	if f.maxBytes > 0 && len(data) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", storage.ErrObjectTooLarge, key, len(data), f.maxBytes)
	}
	return data, nil
}

func (f *fakeObjects) WriteObject(_ context.Context, key string, data []byte, _ string) error {
	f.put(key, data)
	return nil
}

// panicOnceWriter panics on the first WriteHeader, like a handler blowing up
// after its transcode finished.
type panicOnceWriter struct {
	*httptest.ResponseRecorder
	panicked bool
}

func (w *panicOnceWriter) WriteHeader(code int) {
	if !w.panicked {
		w.panicked = true
		panic("write header failed")
	}
	w.ResponseRecorder.WriteHeader(code)
}
