package composition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/anthonynsimon/bild/imgio"

	"github.com/uma-tools/receipt-merger/internal/apierror"
)

// OutputMIMEType is the content type of every merged image.
const OutputMIMEType = "image/png"

// Invoker runs an Engine over a staged directory and maps its failures into
// API errors.
type Invoker struct {
	engine    Engine
	threshold int
}

func NewInvoker(engine Engine, scalingThresholdPixels int) *Invoker {
	return &Invoker{engine: engine, threshold: scalingThresholdPixels}
}

// Config is the engine configuration used for flags.
func (inv *Invoker) Config(flags Flags) ImageConfig {
	return flags.ImageConfig(inv.threshold)
}

// Invoke composes the frames in dir synchronously.
func (inv *Invoker) Invoke(ctx context.Context, dir string, flags Flags) (image.Image, error) {
	cfg := inv.Config(flags)
	slog.Info("Composing image",
		"dir", dir,
		"header_trim_mode", cfg.HeaderTrimMode.String(),
		"merge_close_button", cfg.MergeCloseButton,
		"scaling_threshold_pixels", cfg.ScalingThresholdPixels,
	)

	img, err := inv.engine.Compose(ctx, dir, cfg)
	if err != nil {
		var pe *ProcessError
		message := ""
		if errors.As(err, &pe) {
			message = pe.Message
		}
		return nil, apierror.NewImageProcessFailed(message, err)
	}
	return img, nil
}

// Encode renders img in the wire format.
func Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, apierror.NewImageGenerateError(errors.New("no image to encode"))
	}
	var buf bytes.Buffer
	if err := imgio.PNGEncoder()(&buf, img); err != nil {
		return nil, apierror.NewImageGenerateError(err)
	}
	return buf.Bytes(), nil
}
