package photosensitive

import (
	"bytes"
	"fmt"
	"image/gif"
	"time"
)

const (
	ReasonOversized     = "oversized"
	ReasonAbnormal      = "abnormal structure"
	ReasonFlashing      = "flashing pattern"
	ReasonTooManyFrames = "too many frames"
	ReasonResolution    = "resolution too large"
	ReasonDecodeBudget  = "decode budget exceeded"
	ReasonInvalid       = "invalid gif"
	ReasonDecode        = "decode failed"
	ReasonFetch         = "fetch failed"
	ReasonFetchTimeout  = "fetch timed out"
)

const (
	abnormalMinFrames     = 50
	abnormalBytesPerFrame = 100
	canvasSide            = 96
)

type Limits struct {
	MaxBytes         int64
	MaxDownloadBytes int
	FetchTimeout     time.Duration
	MaxDimension     int
	MaxFrames        int
	ScanFrameCap     int
	MaxDecodedPixels int64
}

// Verdict is computed per image and never stored.
type Verdict struct {
	Dangerous bool
	Reason    string
	Frames    int
	Bytes     int64
	Metrics   Metrics
}

func (v Verdict) Summary() string {
	if v.Reason == ReasonFlashing {
		m := v.Metrics
		return fmt.Sprintf("%s: frames=%d rapid=%.0f%% fast=%.0f%% max_luminance_delta=%.0f max_hue_delta=%.0f longest_run=%d",
			v.Reason, m.Frames, m.RapidFraction*100, m.FastFraction*100, m.MaxLuminanceDelta, m.MaxHueDelta, m.LongestRun)
	}
	if v.Frames > 0 {
		return fmt.Sprintf("%s: frames=%d bytes=%d", v.Reason, v.Frames, v.Bytes)
	}
	if v.Bytes > 0 {
		return fmt.Sprintf("%s: bytes=%d", v.Reason, v.Bytes)
	}
	return v.Reason
}

type Analyzer struct {
	limits     Limits
	classifier Classifier
}

func NewAnalyzer(limits Limits, classifier Classifier) *Analyzer {
	return &Analyzer{limits: limits, classifier: classifier}
}

func (a *Analyzer) Limits() Limits {
	return a.limits
}

// CheckSize flags any image above the hard size cap before it is fetched
// or decoded.
func (a *Analyzer) CheckSize(size int64) (Verdict, bool) {
	if size > a.limits.MaxBytes {
		return Verdict{Dangerous: true, Reason: ReasonOversized, Bytes: size}, true
	}
	return Verdict{}, false
}

// AnalyzeGIF fails closed: anything that cannot be verified as safe is
// dangerous.
func (a *Analyzer) AnalyzeGIF(data []byte) Verdict {
	size := int64(len(data))
	if v, bad := a.CheckSize(size); bad {
		return v
	}
	if !hasGIFSignature(data) {
		return Verdict{Dangerous: true, Reason: ReasonInvalid, Bytes: size}
	}

	s, err := scanStructure(data, a.limits.ScanFrameCap)
	if err != nil {
		return Verdict{Dangerous: true, Reason: ReasonInvalid, Bytes: size, Frames: s.frames}
	}
	if s.width > a.limits.MaxDimension || s.height > a.limits.MaxDimension ||
		s.maxFrameW > a.limits.MaxDimension || s.maxFrameH > a.limits.MaxDimension {
		return Verdict{Dangerous: true, Reason: ReasonResolution, Bytes: size, Frames: s.frames}
	}
	if s.frames > abnormalMinFrames && size/int64(s.frames) < abnormalBytesPerFrame {
		return Verdict{Dangerous: true, Reason: ReasonAbnormal, Bytes: size, Frames: s.frames}
	}
	if s.capped || s.frames > a.limits.MaxFrames {
		return Verdict{Dangerous: true, Reason: ReasonTooManyFrames, Bytes: size, Frames: s.frames}
	}
	if s.area > a.limits.MaxDecodedPixels {
		return Verdict{Dangerous: true, Reason: ReasonDecodeBudget, Bytes: size, Frames: s.frames}
	}

	decoded, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil || len(decoded.Image) == 0 {
		return Verdict{Dangerous: true, Reason: ReasonDecode, Bytes: size, Frames: s.frames}
	}

	stats := frameStats(decoded, canvasSide)
	flashing, metrics := a.classifier.Classify(stats)
	verdict := Verdict{Frames: len(stats), Bytes: size, Metrics: metrics}
	if flashing {
		verdict.Dangerous = true
		verdict.Reason = ReasonFlashing
	}
	return verdict
}
