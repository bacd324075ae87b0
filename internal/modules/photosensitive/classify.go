package photosensitive

import (
	"math"
	"time"
)

// FrameStat is the coarse appearance of one composited frame.
type FrameStat struct {
	Luminance float64
	Hue       float64
	Delay     time.Duration
}

// Classifier decides whether a frame sequence alternates fast enough and
// hard enough to be a photosensitivity hazard.
type Classifier struct {
	LuminanceDelta      float64
	HueDelta            float64
	FastFrame           time.Duration
	RapidFraction       float64
	MixedRapidFraction  float64
	MixedFastFraction   float64
	ExtremeLuminance    float64
	ExtremeHue          float64
	ExtremeFastFraction float64
	RunLength           int
}

func DefaultClassifier() Classifier {
	return Classifier{
		LuminanceDelta:      150,
		HueDelta:            150,
		FastFrame:           20 * time.Millisecond,
		RapidFraction:       0.6,
		MixedRapidFraction:  0.4,
		MixedFastFraction:   0.6,
		ExtremeLuminance:    180,
		ExtremeHue:          180,
		ExtremeFastFraction: 0.5,
		RunLength:           5,
	}
}

type Metrics struct {
	Frames            int
	RapidFraction     float64
	FastFraction      float64
	MaxLuminanceDelta float64
	MaxHueDelta       float64
	LongestRun        int
}

// Classify compares adjacent frames. The hue delta is the absolute
// difference of hue angles, so it spans 0-360.
func (c Classifier) Classify(frames []FrameStat) (bool, Metrics) {
	metrics := Metrics{Frames: len(frames)}
	if len(frames) == 0 {
		return false, metrics
	}

	fast := 0
	for _, frame := range frames {
		if frame.Delay <= c.FastFrame {
			fast++
		}
	}
	metrics.FastFraction = float64(fast) / float64(len(frames))

	pairs := len(frames) - 1
	if pairs == 0 {
		return false, metrics
	}
	rapid, run := 0, 0
	for i := 1; i < len(frames); i++ {
		lum := math.Abs(frames[i].Luminance - frames[i-1].Luminance)
		hue := math.Abs(frames[i].Hue - frames[i-1].Hue)
		metrics.MaxLuminanceDelta = math.Max(metrics.MaxLuminanceDelta, lum)
		metrics.MaxHueDelta = math.Max(metrics.MaxHueDelta, hue)
		if lum > c.LuminanceDelta && hue > c.HueDelta {
			rapid++
			run++
			if run > metrics.LongestRun {
				metrics.LongestRun = run
			}
		} else {
			run = 0
		}
	}
	metrics.RapidFraction = float64(rapid) / float64(pairs)

	flashing := metrics.RapidFraction > c.RapidFraction ||
		(metrics.RapidFraction > c.MixedRapidFraction && metrics.FastFraction > c.MixedFastFraction) ||
		(metrics.MaxLuminanceDelta > c.ExtremeLuminance && metrics.MaxHueDelta > c.ExtremeHue && metrics.FastFraction > c.ExtremeFastFraction) ||
		metrics.LongestRun >= c.RunLength
	return flashing, metrics
}
