// Package pipeline defines the narrow interface through which the gateway
// invokes the external image-generation backend. The diffusion inference
// itself runs out of process; this package only knows how to hand it a
// frame and get image bytes back.
package pipeline

import (
	"context"
	"fmt"

	"github.com/brushcast/brushcast/wire"
)

// Pipeline generates one output image for one input frame. Implementations
// must be safe for use by a single consumer goroutine per session.
type Pipeline interface {
	// Generate runs inference for the given parameters. image is the raw
	// encoded input frame and may be nil for text-only modes. The returned
	// bytes are an encoded JPEG.
	Generate(ctx context.Context, params wire.GenerationParams, image []byte) ([]byte, error)
}

// Error wraps a per-frame backend failure. It is recoverable: the session
// reports it to the client and keeps running.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
