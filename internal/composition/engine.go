package composition

import (
	"context"
	"errors"
	"image"
)

// Engine merges the numbered frames staged in a directory into one image.
type Engine interface {
	Compose(ctx context.Context, dir string, cfg ImageConfig) (image.Image, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, dir string, cfg ImageConfig) (image.Image, error)

func (f EngineFunc) Compose(ctx context.Context, dir string, cfg ImageConfig) (image.Image, error) {
	return f(ctx, dir, cfg)
}

var (
	ErrNoImages      = errors.New("no images to merge")
	ErrWidthMismatch = errors.New("image widths differ")
	ErrDecode        = errors.New("failed to decode image")
)

// ProcessError is an engine failure with a message that is safe to show.
type ProcessError struct {
	Message string
	Err     error
}

func (e *ProcessError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
