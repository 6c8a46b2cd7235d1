// Package qr renders short-link URLs as QR images.
//
// Rendering is a pure function of its inputs: identical (text, format, size,
// margin) always produce byte-identical output, which is what makes the
// ETag/immutable-cache contract on the QR endpoint sound. The module matrix
// comes from skip2/go-qrcode; rasterization happens here because the library's
// own writer is not margin-parameterizable.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Format selects the output encoding.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// Size and margin bounds. Out-of-range values are clamped, not rejected.
const (
	MinSize       = 64
	MaxSize       = 1024
	DefaultSize   = 256
	MinMargin     = 0
	MaxMargin     = 10
	DefaultMargin = 2
)

// ErrInvalidFormat is returned for any format other than png or svg.
// Unlike size and margin, format is not clamped.
var ErrInvalidFormat = errors.New("invalid format: must be png or svg")

// ParseFormat validates a format query value. Empty selects PNG.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", string(FormatPNG):
		return FormatPNG, nil
	case string(FormatSVG):
		return FormatSVG, nil
	default:
		return "", ErrInvalidFormat
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatSVG {
		return "image/svg+xml"
	}
	return "image/png"
}

// Options control the rendered image. Size is the output edge length in
// pixels; Margin is the quiet zone width in modules.
type Options struct {
	Format Format
	Size   int
	Margin int
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Render encodes text as a QR image. Size and margin are clamped into their
// bounds; the format must already be valid (see ParseFormat).
func Render(text string, opts Options) ([]byte, error) {
	if opts.Format != FormatPNG && opts.Format != FormatSVG {
		return nil, ErrInvalidFormat
	}

	size := opts.Size
	if size == 0 {
		size = DefaultSize
	}
	size = clamp(size, MinSize, MaxSize)
	margin := clamp(opts.Margin, MinMargin, MaxMargin)

	code, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to build QR matrix: %w", err)
	}
	code.DisableBorder = true
	grid := code.Bitmap()

	if opts.Format == FormatSVG {
		return renderSVG(grid, size, margin), nil
	}
	return renderPNG(grid, size, margin)
}

// renderPNG rasterizes the module grid onto a grayscale image. Pixels map to
// modules by integer arithmetic, so the output is independent of float
// rounding behavior.
func renderPNG(grid [][]bool, size, margin int) ([]byte, error) {
	n := len(grid)
	cells := n + 2*margin

	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		cy := y * cells / size
		for x := 0; x < size; x++ {
			cx := x * cells / size
			if moduleAt(grid, n, cx-margin, cy-margin) {
				img.SetGray(x, y, color.Gray{Y: 0x00})
			} else {
				img.SetGray(x, y, color.Gray{Y: 0xFF})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// renderSVG emits one unit rect per dark module in row-major order over a
// module-sized viewBox, scaled by the viewport to the requested pixel size.
func renderSVG(grid [][]bool, size, margin int) []byte {
	n := len(grid)
	cells := n + 2*margin

	var b strings.Builder
	fmt.Fprintf(&b,
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`,
		size, size, cells, cells)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#FFFFFF"/>`, cells, cells)

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if grid[y][x] {
				fmt.Fprintf(&b, `<rect x="%d" y="%d" width="1" height="1" fill="#000000"/>`, x+margin, y+margin)
			}
		}
	}

	b.WriteString(`</svg>`)
	return []byte(b.String())
}

func moduleAt(grid [][]bool, n, x, y int) bool {
	if x < 0 || y < 0 || x >= n || y >= n {
		return false
	}
	return grid[y][x]
}
