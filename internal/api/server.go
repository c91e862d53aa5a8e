package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/resizeflow/internal/domain"
	"github.com/dunamismax/resizeflow/internal/id"
	"github.com/dunamismax/resizeflow/internal/pipeline"
	"github.com/dunamismax/resizeflow/internal/storage"
	"github.com/dunamismax/resizeflow/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultMaxUploadBytes = 64 << 20
	defaultSubjectHeader  = "X-User-ID"
	multipartMemoryBytes  = 8 << 20
)

type Options struct {
	Logger     *zap.Logger
	Transcoder *pipeline.Transcoder
	// Storage enables POST /v1/objects/transcode when set.
	Storage     pipeline.ObjectStorage
	UsageStore  store.UsageStore
	RateLimiter RateLimiter
	// SubjectHeader names the header that identifies the caller for rate
	// limiting and usage attribution.
	SubjectHeader  string
	MaxUploadBytes int64
	// MaxConcurrent bounds in-flight transcodes; zero means GOMAXPROCS.
	MaxConcurrent int
}

type Server struct {
	logger         *zap.Logger
	transcoder     *pipeline.Transcoder
	storage        pipeline.ObjectStorage
	usageStore     store.UsageStore
	rateLimiter    RateLimiter
	subjectHeader  string
	maxUploadBytes int64
	slots          chan struct{}
	metrics        *metrics
	tracer         trace.Tracer
	router         chi.Router
}

func NewServer(opts Options) (*Server, error) {
	if opts.Transcoder == nil {
		return nil, errors.New("transcoder is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.UsageStore == nil {
		opts.UsageStore = store.NewMemoryUsageStore()
	}
	if strings.TrimSpace(opts.SubjectHeader) == "" {
		opts.SubjectHeader = defaultSubjectHeader
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = runtime.GOMAXPROCS(0)
	}

	s := &Server{
		logger:         opts.Logger,
		transcoder:     opts.Transcoder,
		storage:        opts.Storage,
		usageStore:     opts.UsageStore,
		rateLimiter:    opts.RateLimiter,
		subjectHeader:  opts.SubjectHeader,
		maxUploadBytes: opts.MaxUploadBytes,
		slots:          make(chan struct{}, opts.MaxConcurrent),
		metrics:        newMetrics(),
		tracer:         otel.Tracer("resizeflow/api"),
		router:         chi.NewRouter(),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(
		s.withTracing,
		s.metrics.withHTTPMetrics,
		middleware.Recoverer,
		s.withRateLimit,
	)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/transcode", s.handleTranscode)
		r.Post("/objects/transcode", s.handleObjectTranscode)
		r.Get("/usage", s.handleUsage)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"codecs": map[string]bool{
			"webp": pipeline.WebPSupported(),
			"avif": pipeline.AVIFSupported(),
		},
		"object_storage": s.storage != nil,
	})
}

func (s *Server) handleTranscode(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	cfg, err := parseResizeConfig(strings.NewReader(r.FormValue("config")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	input, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file part: "+err.Error())
		return
	}

	release, err := s.acquireSlot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "server busy: "+err.Error())
		return
	}
	defer release()

	requestID := id.New()
	start := time.Now()
	result, err := s.transcoder.Transcode(r.Context(), input, cfg)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.observeFailure(err, elapsed)
		s.writeTranscodeError(w, requestID, err)
		return
	}

	s.recordUsage(r, domain.UsageLog{
		RequestID:       requestID,
		SourceFormat:    result.SourceFormat.String(),
		OutputFormat:    result.Format.String(),
		PixelsProcessed: int64(result.SourceWidth) * int64(result.SourceHeight),
		BytesSaved:      int64(len(input) - len(result.Data)),
		ComputeTimeMS:   elapsed.Milliseconds(),
	}, elapsed)

	h := w.Header()
	h.Set("Content-Type", result.MimeType)
	h.Set("Content-Length", strconv.Itoa(len(result.Data)))
	h.Set("X-Request-ID", requestID)
	h.Set("X-Image-Width", strconv.Itoa(result.Width))
	h.Set("X-Image-Height", strconv.Itoa(result.Height))
	h.Set("X-Source-Format", result.SourceFormat.String())
	h.Set("X-Format-Fallback", strconv.FormatBool(result.FormatFallback))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

type objectTranscodeRequest struct {
	ObjectKey    string              `json:"object_key"`
	OutputPrefix string              `json:"output_prefix"`
	Config       domain.ResizeConfig `json:"config"`
}

func (s *Server) handleObjectTranscode(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}

	var req objectTranscodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ObjectKey = strings.TrimSpace(req.ObjectKey)
	if req.ObjectKey == "" {
		writeError(w, http.StatusBadRequest, "object_key is required")
		return
	}

	processor, err := pipeline.NewProcessor(
		pipeline.ObjectStoreFetcher{Storage: s.storage},
		s.transcoder,
		pipeline.ObjectStoreEmitter{Storage: s.storage, OutputPrefix: req.OutputPrefix},
	)
	if err != nil {
		s.logger.Error("build object processor failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build processor")
		return
	}

	release, err := s.acquireSlot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "server busy: "+err.Error())
		return
	}
	defer release()

	requestID := id.New()
	start := time.Now()
	out, err := processor.Process(r.Context(), pipeline.Request{
		ID:         requestID,
		SourceType: pipeline.SourceTypeObjectStore,
		ObjectKey:  req.ObjectKey,
		Config:     req.Config,
	})
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.observeFailure(err, elapsed)
		s.writeTranscodeError(w, requestID, err)
		return
	}

	s.recordUsage(r, domain.UsageLog{
		RequestID:       requestID,
		SourceFormat:    out.SourceFormat,
		OutputFormat:    out.Format,
		PixelsProcessed: int64(out.SourceWidth) * int64(out.SourceHeight),
		BytesSaved:      int64(out.SourceBytes - out.Bytes),
		ComputeTimeMS:   elapsed.Milliseconds(),
	}, elapsed)

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	summary, err := s.usageStore.Summary(r.Context(), s.subject(r))
	if err != nil {
		s.logger.Error("load usage summary failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// acquireSlot waits for a free transcode slot until ctx is done. Decoded
// rasters dominate memory, so the slot count caps peak usage.
func (s *Server) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.metrics.activeTranscodes.Inc()
	return func() {
		<-s.slots
		s.metrics.activeTranscodes.Dec()
	}, nil
}

func (s *Server) subject(r *http.Request) string {
	subject := strings.TrimSpace(r.Header.Get(s.subjectHeader))
	if subject == "" {
		return "anonymous"
	}
	return subject
}

func (s *Server) recordUsage(r *http.Request, log domain.UsageLog, elapsed time.Duration) {
	log.SubjectID = s.subject(r)
	log.CreatedAt = time.Now().UTC()
	s.metrics.observeSuccess(log, elapsed)

	// The response is already decided; a ledger outage must not fail it.
	ctx := context.WithoutCancel(r.Context())
	if err := s.usageStore.CreateUsageLog(ctx, log); err != nil {
		s.logger.Error("record usage failed", zap.String("request_id", log.RequestID), zap.Error(err))
	}
}

func (s *Server) writeTranscodeError(w http.ResponseWriter, requestID string, err error) {
	status := statusForError(err)
	fields := []zap.Field{zap.String("request_id", requestID), zap.Int("status", status), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		s.logger.Error("transcode failed", fields...)
	} else {
		s.logger.Warn("transcode rejected", fields...)
	}

	w.Header().Set("X-Request-ID", requestID)
	writeJSON(w, status, map[string]string{
		"error":      err.Error(),
		"kind":       errorKind(err),
		"request_id": requestID,
	})
}

func statusForError(err error) int {
	var (
		decErr *pipeline.DecodeError
		encErr *pipeline.EncodeError
	)
	switch {
	case errors.Is(err, pipeline.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrObjectTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrUnrecognizedFormat):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &decErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &encErr):
		if errors.Is(err, pipeline.ErrFormatUnavailable) {
			return http.StatusNotImplemented
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(err error) string {
	var (
		decErr *pipeline.DecodeError
		encErr *pipeline.EncodeError
	)
	switch {
	case errors.Is(err, pipeline.ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, storage.ErrObjectNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrObjectTooLarge):
		return "too_large"
	case errors.Is(err, pipeline.ErrUnrecognizedFormat):
		return "unrecognized_format"
	case errors.As(err, &decErr):
		return "decode_error"
	case errors.As(err, &encErr):
		return "encode_error"
	default:
		return "internal"
	}
}

func parseResizeConfig(r io.Reader) (domain.ResizeConfig, error) {
	var cfg domain.ResizeConfig
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, errors.New("config part is required")
		}
		return cfg, fmt.Errorf("invalid config JSON: %w", err)
	}
	return cfg, nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
