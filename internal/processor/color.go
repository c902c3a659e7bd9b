package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // GIF format support
	_ "image/jpeg" // JPEG format support
	_ "image/png"  // PNG format support
	"math"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	defaultSampleSize     = 64
	defaultDominantBucket = 24
	defaultAlphaThreshold = 200 // pixels more transparent than this are ignored
)

// ProcessorConfig holds configuration for color extraction
type ProcessorConfig struct {
	// SampleSize is the longest edge the art is shrunk to before sampling
	SampleSize int
	// DominantBucket is the channel width of a dominant color bucket
	DominantBucket int
	// AlphaThreshold skips pixels whose alpha is below it
	AlphaThreshold uint8
}

// ColorProcessor derives theme colors from album art
type ColorProcessor struct {
	logger *zap.Logger
	config ProcessorConfig
}

// NewColorProcessor creates a new color extractor with default sampling
func NewColorProcessor(logger *zap.Logger) *ColorProcessor {
	return &ColorProcessor{
		logger: logger,
		config: ProcessorConfig{
			SampleSize:     defaultSampleSize,
			DominantBucket: defaultDominantBucket,
			AlphaThreshold: defaultAlphaThreshold,
		},
	}
}

// Sample decodes the art once and shrinks it so both passes run on the
// same bounded pixel set
func (p *ColorProcessor) Sample(ctx context.Context, imageData []byte) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	// Validate image dimensions to prevent division by zero
	bounds := img.Bounds()
	if bounds.Dy() == 0 || bounds.Dx() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	size := p.config.SampleSize
	if bounds.Dx() <= size && bounds.Dy() <= size {
		return imaging.Clone(img), nil
	}
	return imaging.Fit(img, size, size, imaging.Box), nil
}

// Average returns the square-root mean of all opaque pixels
func (p *ColorProcessor) Average(ctx context.Context, img *image.NRGBA) (color.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return color.NRGBA{}, err
	}

	var r, g, b, n float64
	forEachOpaque(img, p.config.AlphaThreshold, func(c color.NRGBA) {
		r += float64(c.R) * float64(c.R)
		g += float64(c.G) * float64(c.G)
		b += float64(c.B) * float64(c.B)
		n++
	})
	if n == 0 {
		return color.NRGBA{}, fmt.Errorf("image has no opaque pixels")
	}

	avg := color.NRGBA{
		R: uint8(math.Round(math.Sqrt(r / n))),
		G: uint8(math.Round(math.Sqrt(g / n))),
		B: uint8(math.Round(math.Sqrt(b / n))),
		A: 255,
	}
	p.logger.Debug("Average color computed", zap.String("rgb", RGB(avg)))
	return avg, nil
}

// Dominant groups pixels into coarse buckets and returns the mean of the
// most populated bucket
func (p *ColorProcessor) Dominant(ctx context.Context, img *image.NRGBA) (color.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return color.NRGBA{}, err
	}

	type bucket struct {
		r, g, b, n int
	}
	step := p.config.DominantBucket
	if step <= 0 {
		step = defaultDominantBucket
	}

	buckets := make(map[[3]int]*bucket)
	var best *bucket
	forEachOpaque(img, p.config.AlphaThreshold, func(c color.NRGBA) {
		key := [3]int{int(c.R) / step, int(c.G) / step, int(c.B) / step}
		bk, ok := buckets[key]
		if !ok {
			bk = &bucket{}
			buckets[key] = bk
		}
		bk.r += int(c.R)
		bk.g += int(c.G)
		bk.b += int(c.B)
		bk.n++
		if best == nil || bk.n > best.n {
			best = bk
		}
	})
	if best == nil {
		return color.NRGBA{}, fmt.Errorf("image has no opaque pixels")
	}

	dom := color.NRGBA{
		R: uint8(best.r / best.n),
		G: uint8(best.g / best.n),
		B: uint8(best.b / best.n),
		A: 255,
	}
	p.logger.Debug("Dominant color computed",
		zap.String("rgb", RGB(dom)),
		zap.Int("buckets", len(buckets)))
	return dom, nil
}

func forEachOpaque(img *image.NRGBA, threshold uint8, fn func(color.NRGBA)) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			if c.A < threshold {
				continue
			}
			fn(c)
		}
	}
}

// RGB formats a color as the space separated triple used in CSS rgba()
func RGB(c color.NRGBA) string {
	return fmt.Sprintf("%d %d %d", c.R, c.G, c.B)
}
