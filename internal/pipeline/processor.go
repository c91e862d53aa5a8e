package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/resizeflow/internal/domain"
)

const (
	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// Request describes a transcode whose input lives behind a file-like handle.
type Request struct {
	ID         string
	SourceType string
	ObjectKey  string
	OutputName string
	Config     domain.ResizeConfig
}

type Output struct {
	RequestID      string `json:"request_id"`
	Format         string `json:"format"`
	MimeType       string `json:"mime_type"`
	Path           string `json:"path"`
	Bytes          int    `json:"bytes"`
	SourceBytes    int    `json:"source_bytes"`
	SourceFormat   string `json:"source_format"`
	SourceWidth    int    `json:"source_width"`
	SourceHeight   int    `json:"source_height"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	FormatFallback bool   `json:"format_fallback"`
}

// Fetcher reduces a file-like source to bytes.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Emitter persists an encoded blob and describes where it went.
type Emitter interface {
	Emit(ctx context.Context, req Request, blob Blob, format Format) (string, error)
}

// Processor runs fetch, transcode and emit for a single request.
type Processor struct {
	fetcher    Fetcher
	transcoder *Transcoder
	emitter    Emitter
}

func NewProcessor(fetcher Fetcher, transcoder *Transcoder, emitter Emitter) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if transcoder == nil {
		return nil, errors.New("transcoder is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	return &Processor{
		fetcher:    fetcher,
		transcoder: transcoder,
		emitter:    emitter,
	}, nil
}

func NewLocalProcessor(transcoder *Transcoder, outputDir string) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, transcoder, LocalFileEmitter{OutputDir: outputDir})
}

func (p *Processor) Process(ctx context.Context, req Request) (Output, error) {
	if strings.TrimSpace(req.ID) == "" {
		return Output{}, errors.New("request id is required")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Output{}, fmt.Errorf("fetch stage: %w", err)
	}

	result, err := p.transcoder.Transcode(ctx, sourceBytes, req.Config)
	if err != nil {
		return Output{}, err
	}

	location, err := p.emitter.Emit(ctx, req, result.Blob(), result.Format)
	if err != nil {
		return Output{}, fmt.Errorf("emit stage: %w", err)
	}

	return Output{
		RequestID:      req.ID,
		Format:         result.Format.String(),
		MimeType:       result.MimeType,
		Path:           location,
		Bytes:          len(result.Data),
		SourceBytes:    len(sourceBytes),
		SourceFormat:   result.SourceFormat.String(),
		SourceWidth:    result.SourceWidth,
		SourceHeight:   result.SourceHeight,
		Width:          result.Width,
		Height:         result.Height,
		FormatFallback: result.FormatFallback,
	}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, blob Blob, format Format) (string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}

	if err := os.MkdirAll(e.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(e.OutputDir, outputFilename(req, format))
	if err := os.WriteFile(fullPath, blob.Data, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}

// outputFilename prefers the caller's name and otherwise derives one from the request id.
func outputFilename(req Request, format Format) string {
	if name := strings.TrimSpace(req.OutputName); name != "" {
		return filepath.Base(name)
	}
	return fmt.Sprintf("%s.%s", sanitizePathToken(req.ID), format.Extension())
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
