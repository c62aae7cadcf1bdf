package panel

import (
	"fmt"
	"image"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// Filter names the resampling kernel used to shrink the render to the
// panel's native grid.
type Filter string

const (
	FilterNearest        Filter = "nearest"
	FilterApproxBiLinear Filter = "approx-bilinear"
	FilterTriangle       Filter = "triangle"
	FilterCatmullRom     Filter = "catmull-rom"
	FilterGaussian       Filter = "gaussian"
)

// gaussian is a sigma 0.5 Gaussian truncated at three units.
var gaussian = &xdraw.Kernel{
	Support: 3,
	At: func(t float64) float64 {
		return math.Exp(-2 * t * t)
	},
}

// ParseFilter accepts the filter names above plus "bilinear" as an alias for
// triangle. Matching is case-insensitive.
func ParseFilter(name string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(name))); f {
	case FilterNearest, FilterApproxBiLinear, FilterTriangle, FilterCatmullRom, FilterGaussian:
		return f, nil
	case "bilinear", "":
		return FilterTriangle, nil
	}
	return "", fmt.Errorf("unknown resampling filter %q", name)
}

func (f Filter) scaler() xdraw.Scaler {
	switch f {
	case FilterNearest:
		return xdraw.NearestNeighbor
	case FilterApproxBiLinear:
		return xdraw.ApproxBiLinear
	case FilterCatmullRom:
		return xdraw.CatmullRom
	case FilterGaussian:
		return gaussian
	default:
		return xdraw.BiLinear
	}
}

// Downsample resizes src to cols x rows with filter and converts it to luma.
func Downsample(src image.Image, rows, cols int, filter Filter) *image.Gray {
	dst := image.NewRGBA(image.Rect(0, 0, cols, rows))
	filter.scaler().Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	gray := image.NewGray(dst.Bounds())
	xdraw.Draw(gray, gray.Bounds(), dst, image.Point{}, xdraw.Src)
	return gray
}
