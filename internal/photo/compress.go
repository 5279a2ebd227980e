package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

var ErrDecode = errors.New("unable to decode image")

// DefaultMaxPixels bounds the decoded size of one image
const DefaultMaxPixels = 40_000_000

// Compressed is a re-encoded image ready for upload
type Compressed struct {
	Data   []byte
	Width  int
	Height int
}

// Compress decodes an image, scales it down to maxWidth keeping the aspect
// ratio, and re-encodes it as JPEG at the given quality. The original
// resolution is always discarded, even when no scaling is needed. Images
// whose header declares more than maxPixels pixels are refused before any
// pixel data is decoded; maxPixels <= 0 means DefaultMaxPixels.
func Compress(data []byte, maxWidth, quality, maxPixels int) (Compressed, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, err := decodeConfig(data)
	if err != nil {
		return Compressed{}, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Compressed{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return Compressed{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}

	src, err := decodeImage(data)
	if err != nil {
		return Compressed{}, err
	}

	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Compressed{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	w, h := TargetSize(b.Dx(), b.Dy(), maxWidth)

	// JPEG has no alpha channel, so flatten onto white first
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	stddraw.Draw(dst, dst.Bounds(), image.White, image.Point{}, stddraw.Src)
	if w == b.Dx() && h == b.Dy() {
		stddraw.Draw(dst, dst.Bounds(), src, b.Min, stddraw.Over)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, stddraw.Over, nil)
	}

	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: quality}); err != nil {
		return Compressed{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Compressed{Data: out.Bytes(), Width: w, Height: h}, nil
}

// TargetSize bounds width to maxWidth and scales height proportionally
func TargetSize(width, height, maxWidth int) (int, int) {
	if maxWidth <= 0 || width <= maxWidth {
		return width, height
	}
	h := int(math.Round(float64(height) * float64(maxWidth) / float64(width)))
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}

func decodeConfig(raw []byte) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err == nil {
		return cfg, nil
	}
	if c, webpErr := webp.DecodeConfig(bytes.NewReader(raw)); webpErr == nil {
		return c, nil
	}
	return image.Config{}, fmt.Errorf("%w: %v", ErrDecode, err)
}

func decodeImage(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err == nil {
		return img, nil
	}
	if decoded, webpErr := webp.Decode(bytes.NewReader(raw)); webpErr == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrDecode, err)
}
