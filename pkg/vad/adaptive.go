package vad

import "math"

// Adaptive wraps a Detector and re-estimates the ambient noise floor with
// exponential smoothing while the detector is idle. The threshold never
// adapts during speech, which would otherwise ratchet it up and cut
// utterances short.
type Adaptive struct {
	*Detector

	noiseFloor float64
	rate       float64
	floor      float64
}

func NewAdaptive(cfg Config) *Adaptive {
	d := New(cfg)
	a := &Adaptive{
		Detector: d,
		rate:     0.1,
		floor:    d.cfg.EnergyThreshold,
	}
	d.idleHook = a.adapt
	return a
}

// NoiseFloor returns the current smoothed ambient energy estimate.
func (a *Adaptive) NoiseFloor() float64 {
	return a.noiseFloor
}

func (a *Adaptive) adapt(rms float64) {
	a.noiseFloor = a.rate*rms + (1-a.rate)*a.noiseFloor
	a.Detector.cfg.EnergyThreshold = math.Max(a.floor, a.noiseFloor*2)
}
