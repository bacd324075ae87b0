package photosensitive

import (
	"image"
	"image/draw"
	"image/gif"
	"math"
	"time"

	xdraw "golang.org/x/image/draw"
)

// frameStats composites every frame onto a canvas no larger than maxSide on
// its long edge, honouring disposal, and samples the average color after
// each frame.
func frameStats(g *gif.GIF, maxSide int) []FrameStat {
	width, height := g.Config.Width, g.Config.Height
	if width <= 0 || height <= 0 {
		for _, frame := range g.Image {
			b := frame.Bounds()
			width = max(width, b.Max.X)
			height = max(height, b.Max.Y)
		}
	}
	if width <= 0 || height <= 0 {
		return nil
	}

	scale := math.Min(1, float64(maxSide)/float64(max(width, height)))
	cw := max(1, int(math.Round(float64(width)*scale)))
	ch := max(1, int(math.Round(float64(height)*scale)))
	sx := float64(cw) / float64(width)
	sy := float64(ch) / float64(height)

	canvas := image.NewRGBA(image.Rect(0, 0, cw, ch))
	var previous []byte
	stats := make([]FrameStat, 0, len(g.Image))

	for i, frame := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			previous = append(previous[:0], canvas.Pix...)
		}

		dst := scaleRect(frame.Bounds(), sx, sy, canvas.Bounds())
		xdraw.NearestNeighbor.Scale(canvas, dst, frame, frame.Bounds(), xdraw.Over, nil)

		lum, h := statFor(canvas)
		var delay time.Duration
		if i < len(g.Delay) {
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		stats = append(stats, FrameStat{Luminance: lum, Hue: h, Delay: delay})

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, dst, image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			if previous != nil {
				copy(canvas.Pix, previous)
			}
		}
	}
	return stats
}

// scaleRect maps a frame rectangle onto the canvas, keeping at least one pixel.
func scaleRect(r image.Rectangle, sx, sy float64, bounds image.Rectangle) image.Rectangle {
	out := image.Rect(
		int(math.Floor(float64(r.Min.X)*sx)),
		int(math.Floor(float64(r.Min.Y)*sy)),
		int(math.Ceil(float64(r.Max.X)*sx)),
		int(math.Ceil(float64(r.Max.Y)*sy)),
	).Intersect(bounds)
	if out.Empty() {
		x := min(max(int(float64(r.Min.X)*sx), bounds.Min.X), bounds.Max.X-1)
		y := min(max(int(float64(r.Min.Y)*sy), bounds.Min.Y), bounds.Max.Y-1)
		out = image.Rect(x, y, x+1, y+1)
	}
	return out
}
