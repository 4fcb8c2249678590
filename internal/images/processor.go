package images

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"

	"golang.org/x/image/draw"
)

// Processor normalizes selected images to bounded dimensions and quality
// before upload. Output is always JPEG; images already inside the bounds
// are re-encoded but never upscaled.
type Processor struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// NewProcessor creates a processor with the given bounds. Non-positive
// bounds fall back to the documented defaults.
func NewProcessor(maxWidth, maxHeight, quality int) *Processor {
	if maxWidth <= 0 {
		maxWidth = 1920
	}
	if maxHeight <= 0 {
		maxHeight = 1920
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Processor{MaxWidth: maxWidth, MaxHeight: maxHeight, Quality: quality}
}

// Result describes one normalized image.
type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Process decodes, downscales and re-encodes one image.
func (p *Processor) Process(data []byte) (*Result, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	targetW, targetH := fitWithin(width, height, p.MaxWidth, p.MaxHeight)
	if targetW != width || targetH != height {
		slog.Debug("Downscaling image", "format", format, "from_width", width, "from_height", height, "to_width", targetW, "to_height", targetH)
		scaled := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
		width, height = targetW, targetH
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Result{Data: buf.Bytes(), Width: width, Height: height}, nil
}

// fitWithin scales (w, h) down to fit inside (maxW, maxH) preserving
// aspect ratio. Dimensions already inside the bounds are returned as-is.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}

	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scaleW {
		scale = scaleH
	}

	outW := int(float64(w) * scale)
	outH := int(float64(h) * scale)
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}
