package signature

import (
	"bytes"
	"image"
	"image/png"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base64PNG = regexp.MustCompile(`^data:image/png;base64,[A-Za-z0-9+/]+=*$`)

func decodePNG(t *testing.T, dataURL string) image.Image {
	t.Helper()
	data, mime, err := DecodeDataURL(dataURL, []string{"image/png"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func inkAt(img image.Image, x, y int) bool {
	_, _, _, a := img.At(x, y).RGBA()
	return a > 0
}

func TestSurfaceSize(t *testing.T) {
	cases := []struct{ viewport, w, h int }{
		{0, 320, 150},
		{200, 320, 150},
		{480, 480, 200},
		{600, 600, 250},
		{1440, 600, 250},
	}
	for _, c := range cases {
		w, h := SurfaceSize(c.viewport)
		assert.Equal(t, c.w, w, "viewport %d", c.viewport)
		assert.Equal(t, c.h, h, "viewport %d", c.viewport)
	}
}

func TestPad_EmptyNeverExports(t *testing.T) {
	var got []string
	pad := NewPad(Options{ViewportWidth: 400, OnChange: func(v string) { got = append(got, v) }})

	out, err := pad.Export()
	assert.ErrorIs(t, err, ErrEmptyCanvas)
	assert.Empty(t, out)

	pad.Clear()
	out, err = pad.Export()
	assert.ErrorIs(t, err, ErrEmptyCanvas)
	assert.Empty(t, out)
	assert.Equal(t, []string{""}, got)
}

func TestPad_StrokeExportsPNG(t *testing.T) {
	var got []string
	pad := NewPad(Options{ViewportWidth: 600, OnChange: func(v string) { got = append(got, v) }})

	pad.BeginStroke(Point{X: 50, Y: 100})
	pad.MoveTo(Point{X: 150, Y: 120})
	pad.MoveTo(Point{X: 250, Y: 80})
	out, err := pad.EndStroke()
	require.NoError(t, err)
	assert.Regexp(t, base64PNG, out)
	require.Len(t, got, 1)
	assert.Equal(t, out, got[0])

	img := decodePNG(t, out)
	assert.Equal(t, 600, img.Bounds().Dx())
	assert.Equal(t, 250, img.Bounds().Dy())
	assert.True(t, inkAt(img, 50, 100))
	assert.True(t, inkAt(img, 100, 110))
	assert.False(t, inkAt(img, 500, 20))

	pad.Clear()
	require.Len(t, got, 2)
	assert.Equal(t, "", got[1])
	assert.True(t, pad.IsEmpty())
	_, err = pad.Export()
	assert.ErrorIs(t, err, ErrEmptyCanvas)
}

func TestPad_CrossingStrokesKeepInk(t *testing.T) {
	pad := NewPad(Options{ViewportWidth: 600, LineWidth: 4})
	out, err := pad.Replay([][]Point{
		{{X: 100, Y: 100}, {X: 200, Y: 100}},
		{{X: 200, Y: 100}, {X: 100, Y: 100}},
		{{X: 150, Y: 50}, {X: 150, Y: 150}},
	})
	require.NoError(t, err)

	img := decodePNG(t, out)
	// overlapping shapes of the same and opposite direction must not cancel
	assert.True(t, inkAt(img, 150, 100))
	assert.True(t, inkAt(img, 120, 100))
	assert.True(t, inkAt(img, 150, 70))
}

func TestPad_TapMakesDot(t *testing.T) {
	pad := NewPad(Options{ViewportWidth: 320})
	pad.BeginStroke(Point{X: 10, Y: 10})
	out, err := pad.EndStroke()
	require.NoError(t, err)
	assert.True(t, inkAt(decodePNG(t, out), 10, 10))
}

func TestPad_ResizeRescalesStrokes(t *testing.T) {
	pad := NewPad(Options{ViewportWidth: 600})
	_, err := pad.Replay([][]Point{{{X: 300, Y: 125}, {X: 310, Y: 125}}})
	require.NoError(t, err)

	w, h := pad.Resize(480)
	assert.Equal(t, 480, w)
	assert.Equal(t, 200, h)

	out, err := pad.Export()
	require.NoError(t, err)
	img := decodePNG(t, out)
	assert.Equal(t, 480, img.Bounds().Dx())
	assert.True(t, inkAt(img, 240, 100))
	assert.False(t, inkAt(img, 300, 125))
}

func TestPad_PointsAreClamped(t *testing.T) {
	pad := NewPad(Options{ViewportWidth: 320})
	out, err := pad.Replay([][]Point{{{X: -40, Y: -40}, {X: 1000, Y: 1000}}})
	require.NoError(t, err)
	img := decodePNG(t, out)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.True(t, inkAt(img, 1, 1))
}

func TestPad_Prompt(t *testing.T) {
	pad := NewPad(Options{Required: true})
	assert.NotEmpty(t, pad.Prompt())
	_, err := pad.Replay([][]Point{{{X: 5, Y: 5}, {X: 50, Y: 50}}})
	require.NoError(t, err)
	assert.Empty(t, pad.Prompt())

	optional := NewPad(Options{})
	assert.Empty(t, optional.Prompt())
}

func TestPad_EndStrokeWithoutBegin(t *testing.T) {
	pad := NewPad(Options{})
	_, err := pad.EndStroke()
	assert.Error(t, err)
	assert.True(t, pad.IsEmpty())
}

func TestDecodeDataURL(t *testing.T) {
	data, mime, err := DecodeDataURL("data:image/png;base64,aGVsbG8=", []string{"image/png"}, 16)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "hello", string(data))

	for _, bad := range []string{
		"",
		"image/png;base64,aGVsbG8=",
		"data:image/png,hello",
		"data:;base64,aGVsbG8=",
		"data:image/gif;base64,aGVsbG8=",
		"data:image/png;base64,!!!",
	} {
		_, _, err := DecodeDataURL(bad, []string{"image/png"}, 0)
		assert.ErrorIs(t, err, ErrInvalidDataURL, bad)
	}

	_, _, err = DecodeDataURL("data:image/png;base64,aGVsbG8gd29ybGQgaGVsbG8gd29ybGQ=", nil, 4)
	assert.ErrorIs(t, err, ErrInvalidDataURL)
}

func TestPad_ReplayOfEmptyStrokesKeepsDrawing(t *testing.T) {
	pad := NewPad(Options{ViewportWidth: 600})

	_, err := pad.Replay([][]Point{{}, {}})
	assert.ErrorIs(t, err, ErrEmptyCanvas)

	first, err := pad.Replay([][]Point{{{X: 40, Y: 40}, {X: 200, Y: 90}}})
	require.NoError(t, err)

	again, err := pad.Replay([][]Point{{}})
	require.NoError(t, err)
	assert.Regexp(t, base64PNG, again)
	assert.Equal(t, first, again)
}
