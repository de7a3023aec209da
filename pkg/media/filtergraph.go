package media

import (
	"fmt"
	"strings"

	"pressroom/pkg/geometry"
)

// FilterGraph is a declarative description of the ffmpeg filter_complex run
// for one video. It is built without spawning a process so the composition
// logic stays independently testable.
type FilterGraph struct {
	// Filter is the -filter_complex expression. Empty means no filtering is
	// needed and the input can pass through untouched.
	Filter string

	// Output is the terminal video stream label to -map, e.g. "[vout]".
	// Empty exactly when Filter is empty.
	Output string

	// UsesWatermark reports whether the graph references a second input
	// ("[1:v]") that must be supplied as the watermark image.
	UsesWatermark bool
}

const terminalLabel = "[vout]"

// PlanFilterGraph builds the filter graph for a frameW x frameH video.
//
// region, when non-nil, must already be clamped to the frame. blurRequested
// without a region blurs the whole frame, matching the image path. wm, when
// non-nil, carries the watermark's native wmW x wmH size so the overlay can
// be scaled and anchored the same way the image redactor does it.
//
// All four request subsets (neither, blur-only, watermark-only, both) yield
// a coherent graph with exactly one terminal stream.
func PlanFilterGraph(frameW, frameH int, blurRequested bool, region *geometry.PixelRect,
	wm *WatermarkSpec, wmW, wmH int, blurRadius float64) FilterGraph {

	var stages []string
	current := "[0:v]"

	if blurRequested {
		roi := geometry.Full(frameW, frameH)
		if region != nil {
			roi = *region
		}
		stages = append(stages,
			fmt.Sprintf("%ssplit=2[base][roi]", current),
			fmt.Sprintf("[roi]crop=%d:%d:%d:%d,gblur=sigma=%g[blurred]", roi.W, roi.H, roi.X, roi.Y, blurRadius),
			fmt.Sprintf("[base][blurred]overlay=%d:%d[redacted]", roi.X, roi.Y),
		)
		current = "[redacted]"
	}

	usesWatermark := wm != nil
	if usesWatermark {
		pl := placeWatermark(*wm, frameW, frameH, wmW, wmH)
		stages = append(stages,
			fmt.Sprintf("[1:v]scale=%d:%d[wm]", pl.W, pl.H),
			fmt.Sprintf("%s[wm]overlay=%d:%d%s", current, pl.X, pl.Y, terminalLabel),
		)
	} else if blurRequested {
		// Rename the blur branch terminal so the graph always ends at the
		// same label regardless of which stages ran.
		stages[len(stages)-1] = strings.TrimSuffix(stages[len(stages)-1], current) + terminalLabel
	}

	if len(stages) == 0 {
		return FilterGraph{}
	}

	return FilterGraph{
		Filter:        strings.Join(stages, ";"),
		Output:        terminalLabel,
		UsesWatermark: usesWatermark,
	}
}
