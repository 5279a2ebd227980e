package signature

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/vector"
)

const dataURLPrefix = "data:image/png;base64,"

// circleSegments is the polygon resolution of round joins and dots
const circleSegments = 16

var ink = color.NRGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}

// rasterize renders strokes onto a transparent surface of the given size
func rasterize(width, height int, strokes [][]Point, lineWidth float64) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	z := vector.NewRasterizer(width, height)
	r := lineWidth / 2
	if r < 0.5 {
		r = 0.5
	}

	for _, stroke := range strokes {
		for i, pt := range stroke {
			addPolygon(z, circle(pt, r))
			if i == 0 {
				continue
			}
			if quad := segment(stroke[i-1], pt, r); quad != nil {
				addPolygon(z, quad)
			}
		}
	}

	z.Draw(dst, dst.Bounds(), image.NewUniform(ink), image.Point{})
	return dst
}

// addPolygon adds pts with a fixed winding. The rasterizer sums signed
// coverage, so overlapping shapes of opposite winding would cancel out.
func addPolygon(z *vector.Rasterizer, pts []Point) {
	if len(pts) < 3 {
		return
	}
	if signedArea(pts) > 0 {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	z.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
}

func signedArea(pts []Point) float64 {
	var a float64
	for i := range pts {
		j := (i + 1) % len(pts)
		a += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return a / 2
}

func circle(c Point, r float64) []Point {
	pts := make([]Point, circleSegments)
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / circleSegments
		pts[i] = Point{X: c.X + r*math.Cos(theta), Y: c.Y + r*math.Sin(theta)}
	}
	return pts
}

// segment returns the quad covering a line of half-width r from a to b
func segment(a, b Point, r float64) []Point {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return nil
	}
	nx, ny := -dy/length*r, dx/length*r
	return []Point{
		{X: a.X + nx, Y: a.Y + ny},
		{X: b.X + nx, Y: b.Y + ny},
		{X: b.X - nx, Y: b.Y - ny},
		{X: a.X - nx, Y: a.Y - ny},
	}
}

func encodeDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode signature: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
