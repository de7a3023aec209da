package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pressroom/pkg/errs"
	"pressroom/pkg/geometry"
)

// CommandRunner abstracts the external process invocations so the pipeline
// can be tested without ffmpeg installed.
type CommandRunner interface {
	// Run executes bin with args and waits for it, returning an error that
	// includes diagnostic output on a non-zero exit.
	Run(ctx context.Context, bin string, args ...string) error
	// Output executes bin with args and returns its stdout.
	Output(ctx context.Context, bin string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, bin string, args ...string) error {
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		tail := string(out)
		if len(tail) > 500 {
			tail = "..." + tail[len(tail)-500:]
		}
		return fmt.Errorf("%s: %w\noutput: %s", bin, err, tail)
	}
	return nil
}

func (ExecRunner) Output(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).Output()
}

// ProcessedAsset is the result of running one media file through the
// pipeline: the derived output (always distinct from the source) and, for
// video, an optional poster-frame thumbnail.
type ProcessedAsset struct {
	Path  string
	Thumb string
}

// Pipeline dispatches redaction per media kind and drives ffmpeg for video.
type Pipeline struct {
	redactor         *Redactor
	runner           CommandRunner
	ffmpegBin        string
	ffprobeBin       string
	blurRadius       float64
	transcodeTimeout time.Duration
	logger           *zap.Logger
}

// NewPipeline wires a Pipeline. ffprobe is resolved next to the configured
// ffmpeg binary name.
func NewPipeline(redactor *Redactor, runner CommandRunner, ffmpegBin string,
	transcodeTimeout time.Duration, logger *zap.Logger) *Pipeline {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Pipeline{
		redactor:         redactor,
		runner:           runner,
		ffmpegBin:        ffmpegBin,
		ffprobeBin:       probeBinFor(ffmpegBin),
		blurRadius:       redactor.BlurRadius,
		transcodeTimeout: transcodeTimeout,
		logger:           logger,
	}
}

// probeBinFor derives the ffprobe binary name from the ffmpeg one, so a
// custom ffmpeg path like /opt/ff/ffmpeg finds /opt/ff/ffprobe.
func probeBinFor(ffmpegBin string) string {
	dir, base := filepath.Split(ffmpegBin)
	if strings.Contains(base, "ffmpeg") {
		return dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
	}
	return "ffprobe"
}

// Process applies the redaction request to the file at srcPath and returns
// the derived asset. Exactly one output artifact is produced per input; the
// source is never overwritten.
//
// Image failures propagate. Video transcode failures degrade to an
// unmodified copy of the source so the post is not lost; the failure is
// logged as a warning.
func (p *Pipeline) Process(ctx context.Context, srcPath string, kind Kind, req RedactionRequest) (ProcessedAsset, error) {
	switch kind {
	case KindImage:
		dst := derivedImagePath(srcPath)
		if err := p.redactor.RedactImage(srcPath, dst, req); err != nil {
			return ProcessedAsset{}, err
		}
		return ProcessedAsset{Path: dst}, nil
	case KindVideo:
		return p.processVideo(ctx, srcPath, req)
	default:
		return ProcessedAsset{}, fmt.Errorf("%w: %q", errs.ErrUnsupportedMedia, kind)
	}
}

func (p *Pipeline) processVideo(ctx context.Context, srcPath string, req RedactionRequest) (ProcessedAsset, error) {
	dst := derivedPath(srcPath, "_red")

	out, err := p.transcode(ctx, srcPath, dst, req)
	if err != nil {
		p.logger.Warn("video transcode failed, falling back to unmodified copy",
			zap.String("src", srcPath), zap.Error(err))
		if cerr := copyFile(srcPath, dst); cerr != nil {
			return ProcessedAsset{}, fmt.Errorf("%w: fallback copy: %v", errs.ErrStorage, cerr)
		}
		out = ProcessedAsset{Path: dst}
	}

	if thumb, terr := p.extractThumbnail(ctx, out.Path); terr != nil {
		p.logger.Warn("thumbnail extraction failed", zap.String("src", out.Path), zap.Error(terr))
	} else {
		out.Thumb = thumb
	}
	return out, nil
}

func (p *Pipeline) transcode(ctx context.Context, srcPath, dst string, req RedactionRequest) (ProcessedAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, p.transcodeTimeout)
	defer cancel()

	frameW, frameH, err := p.probeDimensions(ctx, srcPath)
	if err != nil {
		return ProcessedAsset{}, fmt.Errorf("%w: probe: %v", errs.ErrTranscodeFailed, err)
	}

	var region *geometry.PixelRect
	if req.BlurRequested && req.Region != nil {
		r := geometry.ClampNormalized(*req.Region, frameW, frameH)
		region = &r
	}

	var wmW, wmH int
	wm := req.Watermark
	if wm != nil {
		img, werr := imaging.Open(wm.Path)
		if werr != nil {
			p.logger.Warn("watermark asset unavailable, skipping",
				zap.String("path", wm.Path), zap.Error(werr))
			wm = nil
		} else {
			wmW, wmH = img.Bounds().Dx(), img.Bounds().Dy()
		}
	}

	graph := PlanFilterGraph(frameW, frameH, req.BlurRequested, region, wm, wmW, wmH, p.blurRadius)
	if graph.Filter == "" {
		// Nothing to change: the derived asset is a plain copy.
		if err := copyFile(srcPath, dst); err != nil {
			return ProcessedAsset{}, fmt.Errorf("%w: copy: %v", errs.ErrStorage, err)
		}
		return ProcessedAsset{Path: dst}, nil
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", srcPath}
	if graph.UsesWatermark {
		args = append(args, "-i", wm.Path)
	}
	args = append(args,
		"-filter_complex", graph.Filter,
		"-map", graph.Output,
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "copy",
		dst,
	)

	if err := p.runner.Run(ctx, p.ffmpegBin, args...); err != nil {
		os.Remove(dst)
		return ProcessedAsset{}, fmt.Errorf("%w: %v", errs.ErrTranscodeFailed, err)
	}
	return ProcessedAsset{Path: dst}, nil
}

// probeDimensions asks ffprobe for the video stream geometry.
func (p *Pipeline) probeDimensions(ctx context.Context, path string) (w, h int, err error) {
	out, err := p.runner.Output(ctx, p.ffprobeBin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe exec: %w", err)
	}

	var data struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &data); err != nil {
		return 0, 0, fmt.Errorf("ffprobe parse: %w", err)
	}
	for _, s := range data.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height, nil
		}
	}
	return 0, 0, fmt.Errorf("no video stream in %s", path)
}

// extractThumbnail grabs a single poster frame from the processed video.
func (p *Pipeline) extractThumbnail(ctx context.Context, videoPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	thumb := derivedPath(videoPath, "_thumb")
	thumb = strings.TrimSuffix(thumb, filepath.Ext(thumb)) + ".jpg"
	err := p.runner.Run(ctx, p.ffmpegBin,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", "scale=320:-2",
		thumb,
	)
	if err != nil {
		os.Remove(thumb)
		return "", err
	}
	return thumb, nil
}

// derivedPath returns srcPath with suffix inserted before the extension.
// The result is always distinct from srcPath, so the source cannot be
// overwritten.
func derivedPath(srcPath, suffix string) string {
	ext := filepath.Ext(srcPath)
	return strings.TrimSuffix(srcPath, ext) + suffix + ext
}

// derivedImagePath is derivedPath for still images. webp sources decode but
// have no encoder, so their derived asset is written as jpeg.
func derivedImagePath(srcPath string) string {
	dst := derivedPath(srcPath, "_red")
	if strings.EqualFold(filepath.Ext(dst), ".webp") {
		dst = strings.TrimSuffix(dst, filepath.Ext(dst)) + ".jpg"
	}
	return dst
}

// UploadName builds a deterministic, collision-free filename for a fresh
// upload: a kind prefix, a UTC timestamp, and a short unique token.
func UploadName(kind Kind, ext string) string {
	prefix := "img"
	if kind == KindVideo {
		prefix = "vid"
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	token := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%s_%s%s", prefix, stamp, token, strings.ToLower(ext))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
