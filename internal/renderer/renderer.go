// Package renderer defines the narrow seams between the generation pipeline
// and the two collaborators this repository does not implement for real:
// template rendering plus headless-browser rasterization (Renderer), and
// pixel post-processing (PostProcessor). Both are interfaces for the same
// reason worker.Spawner and resilience.RetryableErrorChecker are: a
// production deployment swaps in a real implementation without touching the
// pipeline that drives it. The implementations in this package are
// stdlib-only placeholders, not a production renderer.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/calendar2image/c2i-service/internal/icsfetch"
	"github.com/calendar2image/c2i-service/internal/registry"
)

// RenderInput bundles everything the rendering collaborator needs: the
// configuration, its merged calendar events, and its auxiliary JSON payload.
type RenderInput struct {
	Config    *registry.Config
	Events    []icsfetch.Event
	ExtraData json.RawMessage
}

// Renderer turns a configuration and its fetched data into a raw pixel
// image, the combined "render template to HTML" and "rasterize HTML" steps
// of the worker pipeline. The real implementation is a headless browser;
// this package only ships a stub.
type Renderer interface {
	Render(ctx context.Context, in RenderInput) (image.Image, error)
}

// PostProcessor turns a rendered image into encoded bytes, applying
// grayscale conversion, rotation, and bit-depth reduction per the
// configuration. Dithering and fine-grained adjustments are out of scope;
// StandardPostProcessor only implements the transforms it can do with the
// standard image packages.
type PostProcessor interface {
	Process(ctx context.Context, img image.Image, cfg *registry.Config) (data []byte, contentType string, err error)
}

// StubRenderer draws a placeholder canvas sized to the configuration: a
// white background with one horizontal bar per calendar event, enough to
// exercise the pipeline end to end without a real template engine.
type StubRenderer struct{}

// NewStub returns a StubRenderer.
func NewStub() *StubRenderer { return &StubRenderer{} }

func (StubRenderer) Render(ctx context.Context, in RenderInput) (image.Image, error) {
	cfg := in.Config
	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid canvas dimensions %dx%d", width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	barHeight := 4
	gap := 2
	rowHeight := barHeight + gap
	maxRows := height / rowHeight

	for i, ev := range in.Events {
		if i >= maxRows {
			break
		}
		y0 := i*rowHeight + gap
		y1 := y0 + barHeight
		if y1 > height {
			break
		}
		c := barColor(ev)
		for y := y0; y < y1; y++ {
			for x := 0; x < width; x++ {
				img.Set(x, y, c)
			}
		}
	}

	return img, nil
}

// barColor derives a stable color from an event's UID so repeated renders of
// the same calendar produce visually comparable output.
func barColor(ev icsfetch.Event) color.RGBA {
	var h uint32
	for _, r := range ev.UID {
		h = h*31 + uint32(r)
	}
	return color.RGBA{
		R: uint8(100 + h%120),
		G: uint8(100 + (h/7)%120),
		B: uint8(100 + (h/13)%120),
		A: 255,
	}
}

// StandardPostProcessor applies grayscale conversion and rotation with the
// standard image packages, then encodes to the configuration's imageType.
type StandardPostProcessor struct{}

// NewStandard returns a StandardPostProcessor.
func NewStandard() *StandardPostProcessor { return &StandardPostProcessor{} }

func (StandardPostProcessor) Process(ctx context.Context, img image.Image, cfg *registry.Config) ([]byte, string, error) {
	out := img
	if cfg.Grayscale {
		out = toGrayscale(out)
	}
	if cfg.Rotate != 0 {
		out = rotate(out, cfg.Rotate)
	}

	var buf bytes.Buffer
	switch cfg.ImageType {
	case registry.ImageJPG:
		if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
			return nil, "", fmt.Errorf("encoding jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	case registry.ImagePNG, "":
		if err := png.Encode(&buf, out); err != nil {
			return nil, "", fmt.Errorf("encoding png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	default:
		return nil, "", fmt.Errorf("unsupported imageType %q", cfg.ImageType)
	}
}

func toGrayscale(src image.Image) image.Image {
	bounds := src.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, src, bounds.Min, draw.Src)
	return gray
}

// rotate supports the four right-angle rotations the schema allows
// (0, 90, 180, 270); any other value is a no-op since validation already
// rejects it upstream.
func rotate(src image.Image, degrees int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	switch degrees {
	case 90:
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(h-1-y, x, src.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return dst
	case 180:
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(w-1-x, h-1-y, src.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return dst
	case 270:
		dst := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(y, w-1-x, src.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return dst
	default:
		return src
	}
}
