// Package geometry normalizes requested redaction rectangles into valid
// pixel regions of a frame. Clamping never fails: any input, including
// negative or fully out-of-frame coordinates, degenerates to at worst a
// single corner pixel.
package geometry

// Rect is a requested rectangle. Units are either normalized [0,1] fractions
// of the frame or absolute pixels; the call site picks the matching Clamp
// function.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// PixelRect is a clamped region in absolute pixel units. Invariants after
// clamping: 0 <= X, 0 <= Y, X+W <= frame width, Y+H <= frame height,
// W >= 1, H >= 1.
type PixelRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// ClampNormalized converts a rectangle given in [0,1] fractions of the frame
// into a valid pixel region.
func ClampNormalized(r Rect, frameW, frameH int) PixelRect {
	return Clamp(Rect{
		X: r.X * float64(frameW),
		Y: r.Y * float64(frameH),
		W: r.W * float64(frameW),
		H: r.H * float64(frameH),
	}, frameW, frameH)
}

// Clamp converts a rectangle given in absolute pixel units into a valid
// pixel region of a frameW x frameH frame.
func Clamp(r Rect, frameW, frameH int) PixelRect {
	if frameW < 1 {
		frameW = 1
	}
	if frameH < 1 {
		frameH = 1
	}

	x := clampInt(int(r.X), 0, frameW-1)
	y := clampInt(int(r.Y), 0, frameH-1)

	w := int(r.W)
	h := int(r.H)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if x+w > frameW {
		w = frameW - x
	}
	if y+h > frameH {
		h = frameH - y
	}

	return PixelRect{X: x, Y: y, W: w, H: h}
}

// Full returns the region covering the whole frame.
func Full(frameW, frameH int) PixelRect {
	return Clamp(Rect{W: float64(frameW), H: float64(frameH)}, frameW, frameH)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
