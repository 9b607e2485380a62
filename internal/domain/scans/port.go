package scans

import "context"

// PreviewStore port (holds displayable copies of captured images)
type PreviewStore interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (PreviewRef, error)
	Delete(ctx context.Context, key string) error
}
