/*
   Copyright Mycophonic.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package transcode

import (
	"fmt"
	"math"

	"github.com/mycophonic/saprobe-transcode/internal/pcm"
)

// CompressorConfig holds the static curve and timing of a Compressor.
type CompressorConfig struct {
	Threshold float64 // dB
	Ratio     float64 // > 0; 1 disables compression
	Knee      float64 // knee width in dB, >= 0; 0 is a hard knee
	Attack    float64 // ms, >= 0
	Release   float64 // ms, >= 0
}

// Validate reports whether the configuration describes a usable curve.
func (c CompressorConfig) Validate() error {
	for name, value := range map[string]float64{
		"threshold": c.Threshold, "ratio": c.Ratio, "knee": c.Knee,
		"attack": c.Attack, "release": c.Release,
	} {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: compressor %s is %v", ErrConfig, name, value)
		}
	}

	switch {
	case c.Ratio <= 0:
		return fmt.Errorf("%w: compressor ratio %v must be positive", ErrConfig, c.Ratio)
	case c.Knee < 0:
		return fmt.Errorf("%w: compressor knee %v must not be negative", ErrConfig, c.Knee)
	case c.Attack < 0 || c.Release < 0:
		return fmt.Errorf("%w: compressor attack %v / release %v must not be negative", ErrConfig, c.Attack, c.Release)
	}

	return nil
}

// Compressor is a feed-forward dynamic range compressor filter. It pulls
// frames from its source converted to floating point, computes a soft-knee
// gain per frame from the peak channel, smooths it and applies it in place.
// It adds no latency and emits one frame per input frame.
type Compressor struct {
	src    Source
	format SampleFormat

	threshold  float64
	slope      float64
	tlo, thi   float64
	kneeFactor float64
	alphaA     float64
	alphaR     float64

	// Smoothing state: peak detector and averager outputs, in dB (<= 0).
	// They must only ever be reset together.
	yR, yA float64

	pivot   []byte
	samples []float64
}

// NewCompressor returns a compressor reading from src.
func NewCompressor(src Source, cfg CompressorConfig) (*Compressor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	in := src.Format()
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: compressor input: %w", ErrConfig, err)
	}

	slope := (1 - cfg.Ratio) / cfg.Ratio

	kneeFactor := 0.0
	if cfg.Knee > 0 {
		kneeFactor = slope / (cfg.Knee * 2) //nolint:mnd // quadratic blend over the knee
	}

	fs := in.SampleRate

	return &Compressor{
		src:        src,
		format:     pcm.NewFloat(fs, in.Channels, workingBits(in)),
		threshold:  cfg.Threshold,
		slope:      slope,
		tlo:        cfg.Threshold - cfg.Knee/2, //nolint:mnd // half knee
		thi:        cfg.Threshold + cfg.Knee/2, //nolint:mnd // half knee
		kneeFactor: kneeFactor,
		alphaA:     smoothingCoefficient(cfg.Attack, fs),
		alphaR:     smoothingCoefficient(cfg.Release, fs),
	}, nil
}

// workingBits picks the float width for processing: 32-bit unless the
// source carries more than 32 bits, or more than 24 bits of signed integer.
func workingBits(in SampleFormat) int {
	if in.BitsPerChannel > 32 || (!in.Float && in.Signed && in.BitsPerChannel > 24) {
		return 64
	}

	return 32
}

// smoothingCoefficient returns exp(-1/(t*fs)) for a time constant in ms.
// A zero time constant yields 0: the state jumps to its target.
func smoothingCoefficient(ms, fs float64) float64 {
	if ms <= 0 {
		return 0
	}

	return math.Exp(-1 / (ms / 1000 * fs)) //nolint:mnd // ms to s
}

// Format implements Source. Same rate and channels as the upstream source,
// in 32- or 64-bit float.
func (c *Compressor) Format() SampleFormat { return c.format }

// ReadFrames implements Source. Upstream errors are returned unchanged,
// after the frames delivered with them have been processed.
func (c *Compressor) ReadFrames(p []byte) (int, error) {
	frames := c.format.Frames(len(p))
	if frames == 0 {
		return 0, nil
	}

	in := c.src.Format()

	need := frames * in.BytesPerFrame()
	if cap(c.pivot) < need {
		c.pivot = make([]byte, need)
	}

	n, err := c.src.ReadFrames(c.pivot[:need])
	if n > 0 {
		c.process(c.pivot[:n*in.BytesPerFrame()], p[:n*c.format.BytesPerFrame()], in, n)
	}

	return n, err //nolint:wrapcheck // upstream errors are forwarded unchanged
}

func (c *Compressor) process(src, dst []byte, in SampleFormat, frames int) {
	channels := c.format.Channels

	count := frames * channels
	if cap(c.samples) < count {
		c.samples = make([]float64, count)
	}

	samples := c.samples[:count]
	pcm.ToFloat64(in, src, samples)

	for idx := range frames {
		frame := samples[idx*channels : (idx+1)*channels]

		scale := c.Apply(framePeak(frame))
		for ch := range frame {
			frame[ch] *= scale
		}
	}

	pcm.FromFloat64(c.format, samples, dst)
}

// Apply advances the smoothing state by one frame whose peak amplitude is
// peak, and returns the linear gain to apply to that frame.
func (c *Compressor) Apply(peak float64) float64 {
	xG := scaleToDB(peak)
	gain := c.staticGain(xG)

	return dbToScale(c.smooth(gain))
}

// staticGain returns the static curve's gain change in dB (<= 0) for an
// input level xG, i.e. yG - xG.
func (c *Compressor) staticGain(xG float64) float64 {
	switch {
	case xG <= c.tlo:
		return 0
	case xG >= c.thi:
		return c.slope * (xG - c.threshold)
	default:
		d := xG - c.tlo

		return c.kneeFactor * d * d
	}
}

// smooth runs the target gain through a peak detector (instant when more
// reduction is requested, decaying with the release constant otherwise)
// followed by an averager governed by the attack constant.
func (c *Compressor) smooth(gain float64) float64 {
	c.yR = min(gain, c.alphaR*c.yR+(1-c.alphaR)*gain)
	c.yA = c.alphaA*c.yA + (1-c.alphaA)*c.yR

	return c.yA
}

// GainReduction returns the current smoothed gain change in dB (<= 0).
func (c *Compressor) GainReduction() float64 { return c.yA }

// Reset clears both smoothing values.
func (c *Compressor) Reset() {
	c.yR = 0
	c.yA = 0
}

// SeekFrame implements Seeker when the upstream source does. Seeking resets
// the smoothing state.
func (c *Compressor) SeekFrame(frame int64) error {
	seeker, ok := c.src.(Seeker)
	if !ok {
		return fmt.Errorf("%w: compressor source %T cannot seek", ErrConfig, c.src)
	}

	if err := seeker.SeekFrame(frame); err != nil {
		return err //nolint:wrapcheck // forwarded unchanged
	}

	c.Reset()

	return nil
}

func framePeak(frame []float64) float64 {
	peak := 0.0
	for _, sample := range frame {
		peak = max(peak, math.Abs(sample))
	}

	return peak
}

// scaleToDB returns 20*log10(x); silence maps to -Inf.
func scaleToDB(x float64) float64 {
	return 20 * math.Log10(x) //nolint:mnd // amplitude dB
}

func dbToScale(db float64) float64 {
	return math.Pow(10, db/20) //nolint:mnd // amplitude dB
}
