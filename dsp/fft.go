package dsp

import (
	"fmt"
	"math"
	"strings"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// MinFrequencySamples is the minimum number of samples for a frequency estimation.
const MinFrequencySamples = 16

// magnitudeFloor avoids log(0) in the dB conversion.
const magnitudeFloor = 1e-12

// Window selects the window function that is applied before the FFT.
type Window string

const (
	HannWindow     Window = "hann"
	BlackmanWindow Window = "blackman"
	RectWindow     Window = "rect"
)

// ParseWindow parses the name of a window function.
func ParseWindow(s string) (Window, error) {
	switch Window(strings.ToLower(strings.TrimSpace(s))) {
	case HannWindow:
		return HannWindow, nil
	case BlackmanWindow:
		return BlackmanWindow, nil
	case RectWindow, "rectangular":
		return RectWindow, nil
	default:
		return "", fmt.Errorf("invalid window %q, use hann, blackman or rect", s)
	}
}

// Coefficients returns the window coefficients for n samples.
func (w Window) Coefficients(n int) []float64 {
	switch w {
	case HannWindow:
		return window.Hann(n)
	case BlackmanWindow:
		return window.Blackman(n)
	default:
		return window.Rectangular(n)
	}
}

// CoherentGain is the mean of the window coefficients.
func CoherentGain(coefficients []float64) float64 {
	if len(coefficients) == 0 {
		return 1
	}
	var sum float64
	for _, c := range coefficients {
		sum += c
	}
	return sum / float64(len(coefficients))
}

// BinToFrequency returns the center frequency of the given bin of a real FFT with blockSize samples.
func BinToFrequency(bin int, sampleRate float64, blockSize int) float64 {
	return float64(bin) * sampleRate / float64(blockSize)
}

// realSpectrum returns the complex bins 0..n/2 of the real FFT of the windowed samples.
func realSpectrum(samples []float64, coefficients []float64) []complex128 {
	windowed := make([]float64, len(samples))
	for i, s := range samples {
		windowed[i] = s * coefficients[i]
	}
	result := fft.FFTReal(windowed)
	return result[:len(samples)/2+1]
}

func removeDC(samples []float64) []float64 {
	return ACCouple(samples, true)
}

// Spectrum computes the single-sided magnitude spectrum of the given samples.
//
// The DC component is removed, the window is applied and the magnitudes are scaled by
// 2 / (n * coherent gain). The DC bin and, for an even number of samples, the Nyquist bin are halved.
// If toDB is set, the magnitudes are converted to 20*log10(magnitude).
func Spectrum(samples []float64, sampleRate float64, w Window, toDB bool) ([]float64, []float64) {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return []float64{}, []float64{}
	}

	coefficients := w.Coefficients(n)
	gain := CoherentGain(coefficients)
	if gain <= 0 {
		gain = 1
	}
	scale := 2.0 / (float64(n) * gain)

	bins := realSpectrum(removeDC(samples), coefficients)
	frequencies := make([]float64, len(bins))
	magnitudes := make([]float64, len(bins))
	for i, bin := range bins {
		frequencies[i] = BinToFrequency(i, sampleRate, n)
		magnitudes[i] = Magnitude(bin) * scale
	}
	magnitudes[0] *= 0.5
	if len(magnitudes) > 1 && n%2 == 0 {
		magnitudes[len(magnitudes)-1] *= 0.5
	}

	if toDB {
		for i, m := range magnitudes {
			magnitudes[i] = MagnitudeIndB(m)
		}
	}

	return frequencies, magnitudes
}

// DominantFrequency estimates the frequency of the strongest spectral component of the given samples.
// It needs at least MinFrequencySamples samples, the result is only valid if the frequency is above zero.
func DominantFrequency(samples []float64, sampleRate float64) (float64, bool) {
	n := len(samples)
	if n < MinFrequencySamples {
		return 0, false
	}
	sampleRate = max(1, sampleRate)

	bins := realSpectrum(removeDC(samples), HannWindow.Coefficients(n))
	peakBin := 0
	peakValue := 0.0
	for i := 1; i < len(bins); i++ {
		m := Magnitude(bins[i])
		if m > peakValue {
			peakValue = m
			peakBin = i
		}
	}

	frequency := BinToFrequency(peakBin, sampleRate, n)
	if frequency <= 0 {
		return 0, false
	}
	return frequency, true
}

// Magnitude of a FFT bin.
func Magnitude(fftValue complex128) float64 {
	return math.Hypot(real(fftValue), imag(fftValue))
}

// MagnitudeIndB converts a linear magnitude to dB.
func MagnitudeIndB(magnitude float64) float64 {
	return 20.0 * math.Log10(max(magnitude, magnitudeFloor))
}

// PeakBin returns the index of the largest value, ignoring the first skip values.
func PeakBin(values []float64, skip int) int {
	result := -1
	for i := skip; i < len(values); i++ {
		if result == -1 || values[i] > values[result] {
			result = i
		}
	}
	return result
}
