// Package media implements the redaction pipeline: region blur and watermark
// compositing for still images, filter-graph planning plus an external ffmpeg
// invocation for video, and the bookkeeping that guarantees one derived
// output artifact per input without ever touching the source file.
package media

import (
	"strings"

	"pressroom/pkg/geometry"
)

// Kind distinguishes the two supported media categories.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// KindForExt maps a lowercase file extension (with dot) to a Kind.
// Unknown extensions return the empty Kind.
func KindForExt(ext string) Kind {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return KindImage
	case ".mp4", ".mov", ".mkv", ".avi":
		return KindVideo
	}
	return ""
}

// Anchor names a fixed watermark corner, or the frame center.
type Anchor string

const (
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
	AnchorCenter      Anchor = "center"
)

// WatermarkSpec describes the overlay request. Scale is the target fraction
// of the base dimensions and is capped so the overlay is never upscaled
// beyond its native resolution. Margin is a fraction of the smaller base
// dimension, ignored for the center anchor.
type WatermarkSpec struct {
	Path   string
	Scale  float64
	Margin float64
	Anchor Anchor
}

// RedactionRequest carries everything the operator asked for on submission.
// Region is in normalized [0,1] units, matching what the console form sends;
// it is clamped against the real frame size inside the pipeline.
type RedactionRequest struct {
	BlurRequested bool
	Region        *geometry.Rect
	Watermark     *WatermarkSpec
}

// placement is a watermark resolved against a concrete frame: final overlay
// size and top-left position in pixels.
type placement struct {
	W, H int
	X, Y int
}

// placeWatermark computes the overlay placement for a frame of frameW x
// frameH given the overlay's native wmW x wmH size. The scale factor is the
// largest value keeping both overlay dimensions within spec.Scale of the
// corresponding frame dimension, capped at 1.0.
func placeWatermark(spec WatermarkSpec, frameW, frameH, wmW, wmH int) placement {
	if wmW < 1 || wmH < 1 {
		return placement{W: 1, H: 1}
	}

	factor := spec.Scale * float64(frameW) / float64(wmW)
	if f := spec.Scale * float64(frameH) / float64(wmH); f < factor {
		factor = f
	}
	if factor > 1.0 {
		factor = 1.0
	}

	w := int(float64(wmW) * factor)
	h := int(float64(wmH) * factor)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	min := frameW
	if frameH < min {
		min = frameH
	}
	margin := int(float64(min) * spec.Margin)

	var x, y int
	switch spec.Anchor {
	case AnchorTopLeft:
		x, y = margin, margin
	case AnchorTopRight:
		x, y = frameW-w-margin, margin
	case AnchorBottomLeft:
		x, y = margin, frameH-h-margin
	case AnchorCenter:
		x, y = (frameW-w)/2, (frameH-h)/2
	default: // bottom-right
		x, y = frameW-w-margin, frameH-h-margin
	}

	return placement{W: w, H: h, X: x, Y: y}
}
