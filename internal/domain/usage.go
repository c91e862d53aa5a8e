package domain

import "time"

// UsageLog is one successful transcode attributed to a caller.
type UsageLog struct {
	RequestID       string    `json:"request_id"`
	SubjectID       string    `json:"subject_id"`
	SourceFormat    string    `json:"source_format"`
	OutputFormat    string    `json:"output_format"`
	PixelsProcessed int64     `json:"pixels_processed"`
	BytesSaved      int64     `json:"bytes_saved"`
	ComputeTimeMS   int64     `json:"compute_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// UsageSummary aggregates a subject's usage logs.
type UsageSummary struct {
	SubjectID       string `json:"subject_id"`
	Requests        int64  `json:"requests"`
	PixelsProcessed int64  `json:"pixels_processed"`
	BytesSaved      int64  `json:"bytes_saved"`
	ComputeTimeMS   int64  `json:"compute_time_ms"`
}

// Add folds one log into the summary.
func (s *UsageSummary) Add(log UsageLog) {
	s.Requests++
	s.PixelsProcessed += log.PixelsProcessed
	s.BytesSaved += log.BytesSaved
	s.ComputeTimeMS += log.ComputeTimeMS
}
