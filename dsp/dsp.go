// Package dsp provides the signal conditioning and spectral functions of the oscilloscope.
package dsp

import (
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/stat"
)

type Number interface {
	constraints.Integer | constraints.Float
}

// ToFloat64 converts the given samples to float64.
func ToFloat64[T Number](samples []T) []float64 {
	result := make([]float64, len(samples))
	for i, s := range samples {
		result[i] = float64(s)
	}
	return result
}

// ACCouple returns a copy of the samples with their arithmetic mean removed.
// If AC coupling is disabled or there are no samples, the copy is unchanged.
func ACCouple(samples []float64, enabled bool) []float64 {
	result := make([]float64, len(samples))
	copy(result, samples)
	if !enabled || len(result) == 0 {
		return result
	}

	mean := stat.Mean(result, nil)
	for i := range result {
		result[i] -= mean
	}
	return result
}

// Averager averages subsequent frames of equal length.
//
// This is a running sum with a count that saturates at the depth, not a sliding window:
// old frames never leave the sum individually, the output is sum / count.
type Averager struct {
	depth int
	accum []float64
	count int
}

// NewAverager returns a new Averager with the given depth.
func NewAverager(depth int) *Averager {
	return &Averager{depth: depth}
}

func (a *Averager) Depth() int {
	return a.depth
}

// SetDepth sets the averaging depth. A depth below 2 disables averaging.
func (a *Averager) SetDepth(depth int) {
	a.depth = depth
}

// Count returns the number of frames in the current average, at most the depth.
func (a *Averager) Count() int {
	return a.count
}

// Reset the accumulated frames.
func (a *Averager) Reset() {
	a.accum = nil
	a.count = 0
}

// Put a new frame into the average and get the averaged frame back.
func (a *Averager) Put(frame []float64) []float64 {
	result := make([]float64, len(frame))
	if a.depth <= 1 || len(frame) == 0 {
		a.Reset()
		copy(result, frame)
		return result
	}

	if len(a.accum) != len(frame) {
		a.accum = make([]float64, len(frame))
		copy(a.accum, frame)
		a.count = 1
		copy(result, frame)
		return result
	}

	for i, v := range frame {
		a.accum[i] += v
	}
	a.count = min(a.count+1, a.depth)
	for i, v := range a.accum {
		result[i] = v / float64(a.count)
	}
	return result
}

// PeakHold keeps the element-wise maxima and minima of subsequent frames.
type PeakHold struct {
	max []float64
	min []float64
}

// Put a new frame into the peak hold buffers. The buffers restart with the given frame
// if its length differs from the previous frames.
func (p *PeakHold) Put(frame []float64) {
	if len(frame) == 0 {
		return
	}
	if len(p.max) != len(frame) {
		p.max = make([]float64, len(frame))
		p.min = make([]float64, len(frame))
		copy(p.max, frame)
		copy(p.min, frame)
		return
	}
	for i, v := range frame {
		p.max[i] = max(p.max[i], v)
		p.min[i] = min(p.min[i], v)
	}
}

// Max returns a copy of the element-wise maxima.
func (p *PeakHold) Max() []float64 {
	return clone(p.max)
}

// Min returns a copy of the element-wise minima.
func (p *PeakHold) Min() []float64 {
	return clone(p.min)
}

// Reset the peak hold buffers.
func (p *PeakHold) Reset() {
	p.max = nil
	p.min = nil
}

// Persistence keeps the most recent frames, the oldest frame is evicted first.
type Persistence struct {
	depth  int
	frames [][]float64
}

// NewPersistence returns a new Persistence with the given depth. A depth of 0 disables the history.
func NewPersistence(depth int) *Persistence {
	return &Persistence{depth: depth}
}

func (p *Persistence) Depth() int {
	return p.depth
}

// SetDepth sets the number of frames kept in the history.
func (p *Persistence) SetDepth(depth int) {
	p.depth = depth
	if p.depth <= 0 {
		p.frames = nil
		return
	}
	if len(p.frames) > p.depth {
		p.frames = p.frames[len(p.frames)-p.depth:]
	}
}

// Put a new frame into the history.
func (p *Persistence) Put(frame []float64) {
	if p.depth <= 0 || len(frame) == 0 {
		p.frames = nil
		return
	}
	p.frames = append(p.frames, clone(frame))
	if len(p.frames) > p.depth {
		evicted := len(p.frames) - p.depth
		clear(p.frames[:evicted])
		p.frames = p.frames[evicted:]
	}
}

// Frames returns the frames in the history, oldest first.
func (p *Persistence) Frames() [][]float64 {
	result := make([][]float64, len(p.frames))
	for i, frame := range p.frames {
		result[i] = clone(frame)
	}
	return result
}

// Len returns the number of frames in the history.
func (p *Persistence) Len() int {
	return len(p.frames)
}

// Reset the history.
func (p *Persistence) Reset() {
	p.frames = nil
}

func clone(values []float64) []float64 {
	if values == nil {
		return nil
	}
	result := make([]float64, len(values))
	copy(result, values)
	return result
}
