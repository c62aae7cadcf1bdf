// Package packet converts downsampled panel images into the serial wire
// format understood by the LED controller.
//
// A session on the wire is:
//
//	0xFF body_1 body_2 ... body_N 0xFE
//
// where each body is the panel's rows, top to bottom, with the pixel order of
// every even-indexed row reversed (the LED strips are wired back and forth)
// and a single 0x00 separator between rows.
package packet

import (
	"fmt"
	"image"
	"image/color"
)

const (
	// StartByte opens a session.
	StartByte byte = 0xFF
	// EndByte closes a session.
	EndByte byte = 0xFE
	// RowSeparator follows every row of a panel except its last.
	RowSeparator byte = 0x00
	// MaxLuma is the brightest value sent to the LEDs; brighter pixels are clamped.
	MaxLuma byte = 200
)

// BodyLen returns the encoded size of a rows x cols panel body.
func BodyLen(rows, cols int) int {
	if rows <= 0 || cols <= 0 {
		return 0
	}
	return rows*cols + rows - 1
}

// Encode serialises img into a panel body. Identical images always produce
// identical bytes.
func Encode(img *image.Gray) []byte {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	out := make([]byte, 0, BodyLen(rows, cols))

	for r := 0; r < rows; r++ {
		y := b.Min.Y + r
		start := len(out)
		for c := 0; c < cols; c++ {
			out = append(out, clamp(img.GrayAt(b.Min.X+c, y).Y))
		}
		if r%2 == 0 {
			reverse(out[start:])
		}
		if r < rows-1 {
			out = append(out, RowSeparator)
		}
	}
	return out
}

// Decode is the inverse of Encode for a body of the given dimensions. Clamped
// values are not recoverable.
func Decode(body []byte, rows, cols int) (*image.Gray, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid panel size %dx%d", rows, cols)
	}
	if want := BodyLen(rows, cols); len(body) != want {
		return nil, fmt.Errorf("body length %d does not match %dx%d panel (want %d)", len(body), rows, cols, want)
	}

	img := image.NewGray(image.Rect(0, 0, cols, rows))
	row := make([]byte, cols)
	for r := 0; r < rows; r++ {
		off := r * (cols + 1)
		copy(row, body[off:off+cols])
		if r%2 == 0 {
			reverse(row)
		}
		copy(img.Pix[r*img.Stride:], row)
		if r < rows-1 && body[off+cols] != RowSeparator {
			return nil, fmt.Errorf("row %d: expected separator, got %#x", r, body[off+cols])
		}
	}
	return img, nil
}

// Session frames the panel bodies for one transmission. Bodies are
// concatenated in order with no framing between them.
func Session(bodies ...[]byte) []byte {
	n := 2
	for _, b := range bodies {
		n += len(b)
	}
	out := make([]byte, 0, n)
	out = append(out, StartByte)
	for _, b := range bodies {
		out = append(out, b...)
	}
	return append(out, EndByte)
}

// Blank returns a dark body for a rows x cols panel, used to hold a panel's
// slot in a session before it has produced an image.
func Blank(rows, cols int) []byte {
	return Encode(image.NewGray(image.Rect(0, 0, cols, rows)))
}

// FromImage converts any image to an *image.Gray using the standard luma
// weighting. A *image.Gray is returned as is.
func FromImage(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetGray(x, y, color.GrayModel.Convert(src.At(x, y)).(color.Gray))
		}
	}
	return dst
}

func clamp(v uint8) byte {
	if v > MaxLuma {
		return MaxLuma
	}
	return v
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
