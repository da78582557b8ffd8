package ai

import "context"

// ImageGenerator produces image bytes from a text prompt. The image API
// is treated as an opaque collaborator with variable latency and
// possible failure; callers must bound it with a context.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}
