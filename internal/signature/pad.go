// Package signature records freehand strokes on a fixed-resolution surface
// and exports them as a single PNG data URL.
//
// The surface size is expressed in logical drawing units and only changes
// through Resize; nothing outside the pad scales it. Every completed stroke
// is exported to the OnChange callback, and Clear reports an empty value so
// the caller can mark the requirement unsatisfied again.
package signature

import (
	"errors"
	"math"
	"sync"
)

const (
	MinWidth  = 320
	MaxWidth  = 600
	MinHeight = 150
	MaxHeight = 250

	DefaultLineWidth = 2.5
)

var ErrEmptyCanvas = errors.New("signature canvas is empty")

// Point is a position in logical drawing units
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Options configures a pad
type Options struct {
	ViewportWidth int
	LineWidth     float64
	Required      bool
	OnChange      func(dataURL string)
}

type Pad struct {
	mu        sync.Mutex
	width     int
	height    int
	lineWidth float64
	required  bool
	strokes   [][]Point
	current   []Point
	drawing   bool
	onChange  func(dataURL string)
}

func NewPad(opts Options) *Pad {
	w, h := SurfaceSize(opts.ViewportWidth)
	lw := opts.LineWidth
	if lw <= 0 {
		lw = DefaultLineWidth
	}
	return &Pad{
		width:     w,
		height:    h,
		lineWidth: lw,
		required:  opts.Required,
		onChange:  opts.OnChange,
	}
}

// SurfaceSize maps a viewport width to the logical surface size. Width is
// clamped to [MinWidth, MaxWidth] and height follows at 5:12, clamped to
// [MinHeight, MaxHeight].
func SurfaceSize(viewportWidth int) (int, int) {
	w := viewportWidth
	if w < MinWidth {
		w = MinWidth
	}
	if w > MaxWidth {
		w = MaxWidth
	}
	h := int(math.Round(float64(w) * 5 / 12))
	if h < MinHeight {
		h = MinHeight
	}
	if h > MaxHeight {
		h = MaxHeight
	}
	return w, h
}

func (p *Pad) SetOnChange(fn func(dataURL string)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

func (p *Pad) Size() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// Resize recomputes the surface for a new viewport width. Existing strokes
// are rescaled onto the new surface so the drawing survives.
func (p *Pad) Resize(viewportWidth int) (int, int) {
	w, h := SurfaceSize(viewportWidth)

	p.mu.Lock()
	defer p.mu.Unlock()
	if w == p.width && h == p.height {
		return w, h
	}
	sx := float64(w) / float64(p.width)
	sy := float64(h) / float64(p.height)
	for _, stroke := range p.strokes {
		for i := range stroke {
			stroke[i] = Point{X: stroke[i].X * sx, Y: stroke[i].Y * sy}
		}
	}
	for i := range p.current {
		p.current[i] = Point{X: p.current[i].X * sx, Y: p.current[i].Y * sy}
	}
	p.width, p.height = w, h
	return w, h
}

func (p *Pad) BeginStroke(pt Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drawing = true
	p.current = []Point{p.clamp(pt)}
}

func (p *Pad) MoveTo(pt Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.drawing {
		return
	}
	p.current = append(p.current, p.clamp(pt))
}

// EndStroke commits the stroke in progress and exports the drawing
func (p *Pad) EndStroke() (string, error) {
	p.mu.Lock()
	if !p.drawing {
		p.mu.Unlock()
		return "", errors.New("no stroke in progress")
	}
	p.drawing = false
	if len(p.current) > 0 {
		p.strokes = append(p.strokes, p.current)
	}
	p.current = nil
	dataURL, err := p.exportLocked()
	fn := p.onChange
	p.mu.Unlock()

	if err != nil {
		return "", err
	}
	if fn != nil {
		fn(dataURL)
	}
	return dataURL, nil
}

// Clear discards the drawing and reports an empty value
func (p *Pad) Clear() {
	p.mu.Lock()
	p.strokes = nil
	p.current = nil
	p.drawing = false
	fn := p.onChange
	p.mu.Unlock()

	if fn != nil {
		fn("")
	}
}

func (p *Pad) IsEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.strokes) == 0
}

// Export renders the committed strokes. An empty pad never yields a value.
func (p *Pad) Export() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exportLocked()
}

func (p *Pad) exportLocked() (string, error) {
	if len(p.strokes) == 0 {
		return "", ErrEmptyCanvas
	}
	return encodeDataURL(rasterize(p.width, p.height, p.strokes, p.lineWidth))
}

// Prompt is the advisory text shown while a required signature is missing
func (p *Pad) Prompt() string {
	if p.required && p.IsEmpty() {
		return "Signature required: sign in the box above"
	}
	return ""
}

// Replay draws whole strokes in order, as if traced by hand, and returns
// the export of the whole surface. Empty strokes are skipped; with nothing
// on the surface it fails with ErrEmptyCanvas.
func (p *Pad) Replay(strokes [][]Point) (string, error) {
	var last string
	for _, stroke := range strokes {
		if len(stroke) == 0 {
			continue
		}
		p.BeginStroke(stroke[0])
		for _, pt := range stroke[1:] {
			p.MoveTo(pt)
		}
		out, err := p.EndStroke()
		if err != nil {
			return "", err
		}
		last = out
	}
	if last != "" {
		return last, nil
	}
	return p.Export()
}

func (p *Pad) clamp(pt Point) Point {
	return Point{
		X: math.Max(0, math.Min(pt.X, float64(p.width))),
		Y: math.Max(0, math.Min(pt.Y, float64(p.height))),
	}
}
