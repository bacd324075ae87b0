package photosensitive

import (
	"image"
	"math"
)

func luminance(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// hue returns the HSV hue in degrees; achromatic colors have hue 0.
func hue(r, g, b float64) float64 {
	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	delta := hi - lo
	if delta == 0 {
		return 0
	}
	var h float64
	switch hi {
	case r:
		h = math.Mod((g-b)/delta, 6)
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h
}

// averageColor averages the straight (non-premultiplied) color of every
// pixel that is not fully transparent.
func averageColor(img *image.RGBA) (r, g, b float64, ok bool) {
	var sumR, sumG, sumB float64
	count := 0
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[img.PixOffset(bounds.Min.X, y):]
		for x := 0; x < bounds.Dx(); x++ {
			p := row[x*4 : x*4+4]
			a := float64(p[3])
			if a == 0 {
				continue
			}
			sumR += float64(p[0]) * 255 / a
			sumG += float64(p[1]) * 255 / a
			sumB += float64(p[2]) * 255 / a
			count++
		}
	}
	if count == 0 {
		return 0, 0, 0, false
	}
	n := float64(count)
	return sumR / n, sumG / n, sumB / n, true
}

func statFor(img *image.RGBA) (lum, h float64) {
	r, g, b, ok := averageColor(img)
	if !ok {
		return 0, 0
	}
	return luminance(r, g, b), hue(r, g, b)
}
