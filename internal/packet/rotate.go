package packet

import (
	"fmt"
	"image"
)

// Rotation is a clockwise quarter-turn orientation of a mounted panel.
type Rotation int

// Supported mounting orientations.
const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// ParseRotation maps a degree value to a Rotation.
func ParseRotation(degrees int) (Rotation, error) {
	switch degrees {
	case 0:
		return Rotate0, nil
	case 90:
		return Rotate90, nil
	case 180:
		return Rotate180, nil
	case 270:
		return Rotate270, nil
	}
	return Rotate0, fmt.Errorf("rotation must be 0, 90, 180 or 270 degrees, got %d", degrees)
}

// Degrees returns the rotation in degrees.
func (r Rotation) Degrees() int {
	return int(r) * 90
}

func (r Rotation) String() string {
	return fmt.Sprintf("%d°", r.Degrees())
}

// Rotate returns a copy of src turned clockwise by r. The result's bounds
// start at the origin; 90 and 270 swap width and height.
func Rotate(src *image.Gray, r Rotation) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.Gray
	if r == Rotate90 || r == Rotate270 {
		dst = image.NewGray(image.Rect(0, 0, h, w))
	} else {
		dst = image.NewGray(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := src.GrayAt(b.Min.X+x, b.Min.Y+y)
			switch r {
			case Rotate90:
				dst.SetGray(h-1-y, x, v)
			case Rotate180:
				dst.SetGray(w-1-x, h-1-y, v)
			case Rotate270:
				dst.SetGray(y, w-1-x, v)
			default:
				dst.SetGray(x, y, v)
			}
		}
	}
	return dst
}
