package media

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	// imaging registers jpeg/png/gif/tiff/bmp; webp uploads need this decoder.
	_ "golang.org/x/image/webp"

	"pressroom/pkg/errs"
	"pressroom/pkg/geometry"
)

// Redactor applies region blur and watermark compositing to still images.
// It is stateless apart from its tuning constants and safe for concurrent
// use across unrelated images.
type Redactor struct {
	// BlurRadius is the Gaussian sigma applied to the redaction region,
	// in pixel-equivalent units.
	BlurRadius float64

	logger *zap.Logger
}

// NewRedactor creates a Redactor with the given blur radius.
func NewRedactor(blurRadius float64, logger *zap.Logger) *Redactor {
	return &Redactor{BlurRadius: blurRadius, logger: logger}
}

// RedactImage reads the image at srcPath, applies the requested redaction,
// and writes the result to dstPath. The source file is never modified.
//
// Blur policy: a blur request without a region blurs the entire frame. The
// same policy applies on the video path, so both media kinds behave alike.
//
// A missing or undecodable watermark asset skips watermarking and is logged;
// the blur, if any, still applies.
func (r *Redactor) RedactImage(srcPath, dstPath string, req RedactionRequest) error {
	src, err := imaging.Open(srcPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrUnreadableMedia, srcPath, err)
	}

	base := imaging.Clone(src)
	bounds := base.Bounds()
	frameW, frameH := bounds.Dx(), bounds.Dy()

	if req.BlurRequested {
		region := geometry.Full(frameW, frameH)
		if req.Region != nil {
			region = geometry.ClampNormalized(*req.Region, frameW, frameH)
		}
		crop := imaging.Crop(base, image.Rect(region.X, region.Y, region.X+region.W, region.Y+region.H))
		blurred := imaging.Blur(crop, r.BlurRadius)
		base = imaging.Paste(base, blurred, image.Pt(region.X, region.Y))
	}

	if req.Watermark != nil {
		base = r.compositeWatermark(base, *req.Watermark, frameW, frameH)
	}

	if err := imaging.Save(base, dstPath, imaging.JPEGQuality(90)); err != nil {
		// Remove a partially written output so callers never see one.
		os.Remove(dstPath)
		return fmt.Errorf("%w: write %s: %v", errs.ErrStorage, dstPath, err)
	}
	return nil
}

func (r *Redactor) compositeWatermark(base *image.NRGBA, spec WatermarkSpec, frameW, frameH int) *image.NRGBA {
	wm, err := imaging.Open(spec.Path)
	if err != nil {
		r.logger.Warn("watermark asset unavailable, skipping",
			zap.String("path", spec.Path), zap.Error(err))
		return base
	}

	wmBounds := wm.Bounds()
	pl := placeWatermark(spec, frameW, frameH, wmBounds.Dx(), wmBounds.Dy())
	if pl.W != wmBounds.Dx() || pl.H != wmBounds.Dy() {
		wm = imaging.Resize(wm, pl.W, pl.H, imaging.Lanczos)
	}

	// Overlay with opacity 1.0 performs a plain linear alpha-over using the
	// watermark's own alpha channel.
	return imaging.Overlay(base, wm, image.Pt(pl.X, pl.Y), 1.0)
}

// ImageSize returns the pixel dimensions of the image at path.
func ImageSize(path string) (w, h int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s: %v", errs.ErrUnreadableMedia, path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s: %v", errs.ErrUnreadableMedia, path, err)
	}
	return cfg.Width, cfg.Height, nil
}
