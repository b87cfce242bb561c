package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/framesift/framesift/internal/logger"
)

// Frame is one sampled still, written to transient per-video storage.
// Frames live only for the duration of a processing run.
type Frame struct {
	Index     int
	Timestamp float64
	Path      string
}

type Extractor struct {
	tempRoot string
	log      *logger.Logger
}

func New(log *logger.Logger) (*Extractor, error) {
	tempRoot := filepath.Join(os.TempDir(), "framesift-frames")
	if err := os.MkdirAll(tempRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Extractor{
		tempRoot: tempRoot,
		log:      log.With("component", "extractor"),
	}, nil
}

// FrameCount is the sampling contract: floor(duration / interval) frames
// at timestamps 0, interval, 2*interval, ...
func FrameCount(duration, interval float64) int {
	if interval <= 0 || duration <= 0 {
		return 0
	}
	return int(math.Floor(duration / interval))
}

// FrameTimestamps returns the arithmetic sequence of sample offsets.
func FrameTimestamps(duration, interval float64) []float64 {
	count := FrameCount(duration, interval)
	timestamps := make([]float64, count)
	for i := 0; i < count; i++ {
		timestamps[i] = float64(i) * interval
	}
	return timestamps
}

// ExtractFrames decodes one still per sample offset at the video's native
// resolution. Any probe or decode failure is fatal for the whole run; a
// partial frame set is not usable downstream.
func (e *Extractor) ExtractFrames(ctx context.Context, videoPath string, interval float64, videoID string) ([]Frame, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file not accessible: %w", err)
	}

	duration, err := ProbeDuration(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get video duration: %w", err)
	}

	timestamps := FrameTimestamps(duration, interval)
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("video too short for sampling interval: duration=%.2fs interval=%.2fs", duration, interval)
	}

	e.log.Info("extracting frames",
		"video_id", videoID,
		"duration", duration,
		"interval", interval,
		"frames", len(timestamps))

	frameDir := filepath.Join(e.tempRoot, videoID)
	if err := os.MkdirAll(frameDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	frames := make([]Frame, 0, len(timestamps))
	for i, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		framePath := filepath.Join(frameDir, fmt.Sprintf("frame_%05d.jpg", i))
		err := ffmpeg.Input(videoPath, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", ts)}).
			Output(framePath, ffmpeg.KwArgs{
				"vframes": 1,
				"q:v":     2,
			}).
			OverWriteOutput().
			Run()
		if err != nil {
			return nil, fmt.Errorf("failed to extract frame %d at %.2fs: %w", i, ts, err)
		}

		frames = append(frames, Frame{
			Index:     i,
			Timestamp: ts,
			Path:      framePath,
		})
	}

	return frames, nil
}

// Cleanup removes the transient frame directory for one video. Called on
// both the success and failure exit paths of a run.
func (e *Extractor) Cleanup(videoID string) error {
	if videoID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(e.tempRoot, videoID))
}

// ProbeDuration reads the container duration in seconds via ffprobe.
func ProbeDuration(videoPath string) (float64, error) {
	out, err := ffmpeg.Probe(videoPath)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("duration not found in ffprobe output")
	}
	return duration, nil
}
