package renderer

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calendar2image/c2i-service/internal/icsfetch"
	"github.com/calendar2image/c2i-service/internal/registry"
)

func TestStubRenderer_ProducesCanvasOfConfiguredSize(t *testing.T) {
	r := NewStub()
	cfg := &registry.Config{Width: 200, Height: 100, ImageType: registry.ImagePNG}

	img, err := r.Render(context.Background(), RenderInput{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestStubRenderer_RejectsInvalidDimensions(t *testing.T) {
	r := NewStub()
	cfg := &registry.Config{Width: 0, Height: 100}
	_, err := r.Render(context.Background(), RenderInput{Config: cfg})
	require.Error(t, err)
}

func TestStandardPostProcessor_EncodesPNG(t *testing.T) {
	p := NewStandard()
	cfg := &registry.Config{ImageType: registry.ImagePNG, Width: 10, Height: 10}
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))

	data, contentType, err := p.Process(context.Background(), img, cfg)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.NotEmpty(t, data)
}

func TestStandardPostProcessor_EncodesJPEG(t *testing.T) {
	p := NewStandard()
	cfg := &registry.Config{ImageType: registry.ImageJPG, Width: 10, Height: 10}
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))

	data, contentType, err := p.Process(context.Background(), img, cfg)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)
	assert.NotEmpty(t, data)
}

func TestStandardPostProcessor_RotatesDimensions(t *testing.T) {
	cfg := &registry.Config{ImageType: registry.ImagePNG, Width: 20, Height: 10, Rotate: 90}
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))

	rotated := rotate(img, cfg.Rotate)
	assert.Equal(t, 10, rotated.Bounds().Dx())
	assert.Equal(t, 20, rotated.Bounds().Dy())
}

func TestBarColor_StableForSameUID(t *testing.T) {
	ev := icsfetch.Event{UID: "same@example.com"}
	c1 := barColor(ev)
	c2 := barColor(ev)
	assert.Equal(t, c1, c2)
}
