package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/resizeflow/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultMaxPixels bounds both decoded sources and computed targets.
const DefaultMaxPixels = 100_000_000

type Result struct {
	Data           []byte
	Format         Format
	MimeType       string
	SourceFormat   Format
	SourceWidth    int
	SourceHeight   int
	Width          int
	Height         int
	FormatFallback bool
}

// Blob is encoded output paired with its content type.
type Blob struct {
	Data     []byte
	MimeType string
}

func (r Result) Blob() Blob {
	return Blob{Data: r.Data, MimeType: r.MimeType}
}

// Transcoder runs detect, decode, resize and encode for one image per call.
// It holds no per-call state and is safe for concurrent use.
type Transcoder struct {
	decoder   Decoder
	resampler Resampler
	encoder   Encoder
	logger    *zap.Logger
	tracer    trace.Tracer
	maxPixels int64
}

type Option func(*Transcoder)

func WithLogger(logger *zap.Logger) Option {
	return func(t *Transcoder) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithCodec(codec Codec) Option {
	return func(t *Transcoder) {
		if codec != nil {
			t.decoder = codec
			t.encoder = codec
		}
	}
}

func WithDecoder(decoder Decoder) Option {
	return func(t *Transcoder) {
		if decoder != nil {
			t.decoder = decoder
		}
	}
}

func WithResampler(resampler Resampler) Option {
	return func(t *Transcoder) {
		if resampler != nil {
			t.resampler = resampler
		}
	}
}

func WithEncoder(encoder Encoder) Option {
	return func(t *Transcoder) {
		if encoder != nil {
			t.encoder = encoder
		}
	}
}

func WithMaxPixels(n int64) Option {
	return func(t *Transcoder) {
		if n > 0 {
			t.maxPixels = n
		}
	}
}

func NewTranscoder(opts ...Option) *Transcoder {
	codec := newCodec()
	t := &Transcoder{
		decoder:   codec,
		resampler: ImagingResampler{},
		encoder:   codec,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("resizeflow/pipeline"),
		maxPixels: DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transcoder) Transcode(ctx context.Context, input []byte, cfg domain.ResizeConfig) (Result, error) {
	ctx, span := t.tracer.Start(ctx, "pipeline.transcode")
	defer span.End()

	res, err := t.transcode(ctx, input, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcode failed")
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("image.source_format", res.SourceFormat.String()),
		attribute.String("image.output_format", res.Format.String()),
		attribute.Int("image.width", res.Width),
		attribute.Int("image.height", res.Height),
		attribute.Int("image.bytes", len(res.Data)),
	)
	span.SetStatus(codes.Ok, "transcoded")
	return res, nil
}

func (t *Transcoder) transcode(ctx context.Context, input []byte, cfg domain.ResizeConfig) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	level := zapcore.DebugLevel
	if cfg.DebugEnabled() {
		level = zapcore.InfoLevel
	}
	diag := t.logger.With(zap.String("algorithm", string(cfg.Algorithm)))

	outFormat, fallback := SelectOutputFormat(cfg.MimeType)
	if fallback {
		t.logger.Warn("unsupported output mime type, defaulting to png",
			zap.String("mime_type", cfg.MimeType),
		)
	}

	srcFormat, err := DetectFormat(input)
	if err != nil {
		return Result{}, fmt.Errorf("detect stage: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	srcW, srcH, err := t.decodeConfig(ctx, input, srcFormat)
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w", err)
	}
	if int64(srcW)*int64(srcH) > t.maxPixels {
		return Result{}, fmt.Errorf("decode stage: %w", decodeErr(srcFormat,
			fmt.Sprintf("source %dx%d exceeds pixel limit %d", srcW, srcH, t.maxPixels), nil))
	}

	src, err := t.decode(ctx, input, srcFormat)
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w", err)
	}
	diag.Log(level, "decoded source image",
		zap.String("format", srcFormat.String()),
		zap.Int("width", src.Width),
		zap.Int("height", src.Height),
		zap.String("color", src.ColorModel),
		zap.Any("config", cfg),
	)

	width, height := TargetDimensions(src.Width, src.Height, int(cfg.MaxWidth), int(cfg.MaxHeight), cfg.ScaleRatio)
	if int64(width)*int64(height) > t.maxPixels {
		return Result{}, fmt.Errorf("%w: target %dx%d exceeds pixel limit %d", ErrInvalidConfig, width, height, t.maxPixels)
	}

	resized := src
	if width != src.Width || height != src.Height {
		resized, err = t.resample(ctx, src, width, height, cfg.Algorithm, outFormat)
		if err != nil {
			return Result{}, fmt.Errorf("resize stage: %w", err)
		}
	}
	diag.Log(level, "resized image",
		zap.Int("width", resized.Width),
		zap.Int("height", resized.Height),
	)

	data, err := t.encode(ctx, resized, outFormat, cfg.Quality)
	if err != nil {
		return Result{}, fmt.Errorf("encode stage: %w", err)
	}
	fields := []zap.Field{
		zap.String("format", outFormat.String()),
		zap.Int("bytes", len(data)),
	}
	if q, ok := cfg.QualityPercent(); ok {
		fields = append(fields, zap.Int("quality", q))
	}
	diag.Log(level, "image compression completed", fields...)

	return Result{
		Data:           data,
		Format:         outFormat,
		MimeType:       outFormat.ContentType(),
		SourceFormat:   srcFormat,
		SourceWidth:    src.Width,
		SourceHeight:   src.Height,
		Width:          resized.Width,
		Height:         resized.Height,
		FormatFallback: fallback,
	}, nil
}

// The stage wrappers convert codec panics into typed errors so malformed
// input can never take the process down.

func (t *Transcoder) decodeConfig(ctx context.Context, input []byte, format Format) (w, h int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = decodeErr(format, "decoder panic", fmt.Errorf("%v", r))
		}
	}()
	w, h, err = t.decoder.DecodeConfig(ctx, input, format)
	return w, h, asDecodeError(format, err)
}

func (t *Transcoder) decode(ctx context.Context, input []byte, format Format) (raster *Raster, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = decodeErr(format, "decoder panic", fmt.Errorf("%v", r))
		}
	}()
	raster, err = t.decoder.Decode(ctx, input, format)
	return raster, asDecodeError(format, err)
}

// resample reports resampler failures as an EncodeError for the output
// format: the requested output could not be produced. Config and context
// errors pass through unchanged.
func (t *Transcoder) resample(ctx context.Context, src *Raster, width, height int, algorithm domain.ResizeAlgorithm, out Format) (raster *Raster, err error) {
	defer func() {
		if r := recover(); r != nil {
			raster, err = nil, encodeErr(out, "resampler panic", fmt.Errorf("%v", r))
		}
	}()
	raster, err = t.resampler.Resample(ctx, src, width, height, algorithm)
	if err == nil || isContextErr(err) || errors.Is(err, ErrInvalidConfig) {
		return raster, err
	}
	var encErr *EncodeError
	if !errors.As(err, &encErr) {
		err = encodeErr(out, "resampler failed", err)
	}
	return nil, err
}

func (t *Transcoder) encode(ctx context.Context, src *Raster, format Format, quality *float64) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = encodeErr(format, "encoder panic", fmt.Errorf("%v", r))
		}
	}()
	data, err = t.encoder.Encode(ctx, src, format, quality)
	if err == nil || isContextErr(err) {
		return data, err
	}
	var encErr *EncodeError
	if !errors.As(err, &encErr) {
		err = encodeErr(format, "encoder failed", err)
	}
	return nil, err
}

func asDecodeError(format Format, err error) error {
	if err == nil || isContextErr(err) {
		return err
	}
	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return err
	}
	return decodeErr(format, "decoder failed", err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// WebPSupported reports whether this build can encode WebP.
func WebPSupported() bool {
	return webpEncodeAvailable
}
