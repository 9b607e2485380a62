package ai

import (
	"context"

	"github.com/bryanwahyu/labelscan/internal/domain/scans"
)

// Client is the two-stage inference service. Both calls return the raw
// completion text; callers parse it.
type Client interface {
	ExtractText(ctx context.Context, img scans.CapturedImage) (string, error)
	Analyze(ctx context.Context, extracted string) (string, error)
}
