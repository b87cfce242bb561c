package grid

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/framesift/framesift/internal/extractor"
	"github.com/framesift/framesift/internal/logger"
	"github.com/framesift/framesift/internal/models"
)

// FramesPerGrid frames are stacked vertically into one composite so a
// single model call covers several sample offsets.
const FramesPerGrid = 3

const jpegQuality = 90

// Grid is one composite image. Frames holds only the real (non-padding)
// members; a short trailing batch is padded with solid black to keep the
// composite dimensions uniform.
type Grid struct {
	Index       int
	Frames      []extractor.Frame
	JPEG        []byte
	Width       int
	FrameHeight int
}

type Compositor struct {
	log      *logger.Logger
	fontData *truetype.Font
}

func NewCompositor(log *logger.Logger) (*Compositor, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse overlay font: %w", err)
	}
	return &Compositor{
		log:      log.With("component", "compositor"),
		fontData: f,
	}, nil
}

// GridCount reports how many composites a frame sequence produces.
func GridCount(frameCount int) int {
	return (frameCount + FramesPerGrid - 1) / FramesPerGrid
}

// CreateGrids stamps each frame with its timestamp and stacks consecutive
// batches of FramesPerGrid frames vertically. The first frame's intrinsic
// dimensions define the canonical size for the whole video.
func (c *Compositor) CreateGrids(frames []extractor.Frame) ([]Grid, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	first, err := loadImage(frames[0].Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load first frame: %w", err)
	}
	width := first.Bounds().Dx()
	height := first.Bounds().Dy()

	face := c.overlayFace(width)

	grids := make([]Grid, 0, GridCount(len(frames)))
	for start := 0; start < len(frames); start += FramesPerGrid {
		end := start + FramesPerGrid
		if end > len(frames) {
			end = len(frames)
		}
		batch := frames[start:end]

		dc := gg.NewContext(width, height*FramesPerGrid)
		dc.SetRGB(0, 0, 0)
		dc.Clear()

		for slot, frame := range batch {
			img, err := loadImage(frame.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to load frame %d: %w", frame.Index, err)
			}
			img = conformSize(img, width, height)

			stamped, err := c.stampTimestamp(img, frame.Timestamp, width, face)
			if err != nil {
				return nil, fmt.Errorf("failed to stamp frame %d: %w", frame.Index, err)
			}
			dc.DrawImage(stamped, 0, slot*height)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode grid: %w", err)
		}

		grids = append(grids, Grid{
			Index:       start / FramesPerGrid,
			Frames:      append([]extractor.Frame(nil), batch...),
			JPEG:        buf.Bytes(),
			Width:       width,
			FrameHeight: height,
		})
	}

	c.log.Debug("composited grids", "frames", len(frames), "grids", len(grids))
	return grids, nil
}

// overlayFace sizes the label font proportionally to frame width so the
// overlay stays legible at both SD and HD resolutions.
func (c *Compositor) overlayFace(frameWidth int) font.Face {
	size := float64(frameWidth) / 40
	if size < 12 {
		size = 12
	}
	return truetype.NewFace(c.fontData, &truetype.Options{Size: size})
}

// stampTimestamp burns an M:SS label into the upper-right corner of the
// frame's pixel data.
func (c *Compositor) stampTimestamp(img image.Image, timestamp float64, frameWidth int, face font.Face) (image.Image, error) {
	label := models.FormatTimestamp(timestamp)

	fontSize := float64(frameWidth) / 40
	if fontSize < 12 {
		fontSize = 12
	}
	boxWidth := float64(frameWidth) / 7
	if boxWidth < 90 {
		boxWidth = 90
	}
	boxHeight := fontSize * 1.8

	dc := gg.NewContextForImage(img)
	dc.SetFontFace(face)

	x := float64(frameWidth) - boxWidth
	dc.SetRGBA(0, 0, 0, 0.7)
	dc.DrawRectangle(x, 0, boxWidth, boxHeight)
	dc.Fill()

	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(label, x+boxWidth/2, boxHeight/2, 0.5, 0.5)

	return dc.Image(), nil
}

// conformSize rescales a frame whose intrinsic dimensions differ from the
// canonical ones. Sources with constant resolution pass through untouched.
func conformSize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}
