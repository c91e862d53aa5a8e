package store

import (
	"context"

	"github.com/dunamismax/resizeflow/internal/domain"
)

type UsageStore interface {
	CreateUsageLog(ctx context.Context, log domain.UsageLog) error
	Summary(ctx context.Context, subjectID string) (domain.UsageSummary, error)
}
