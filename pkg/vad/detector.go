package vad

import (
	"math"
	"time"
)

// Config holds the tunable detection parameters. The zero value is unusable;
// call New which applies defaults for the 8kHz telephony leg.
type Config struct {
	SampleRate         int
	FrameDuration      time.Duration
	EnergyThreshold    float64
	UseZeroCrossing    bool
	SpeechPad          time.Duration
	MinSpeechDuration  time.Duration
	MaxSilenceDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 8000
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.EnergyThreshold == 0 {
		c.EnergyThreshold = 0.01
	}
	if c.SpeechPad == 0 {
		c.SpeechPad = 300 * time.Millisecond
	}
	if c.MinSpeechDuration == 0 {
		c.MinSpeechDuration = 250 * time.Millisecond
	}
	if c.MaxSilenceDuration == 0 {
		c.MaxSilenceDuration = 1500 * time.Millisecond
	}
	return c
}

// Classifier is an external speech/silence vote, e.g. a standardized VAD
// implementation. When configured it is trusted over the built-in heuristics.
type Classifier interface {
	IsSpeech(samples []int16) bool
}

// Detector segments a 16-bit PCM stream into utterances. It is stateful and
// must only be driven from a single goroutine, which is how each stream
// session owns its instance.
type Detector struct {
	cfg      Config
	external Classifier

	frameBytes       int
	padFrames        int
	minSpeechFrames  int
	maxSilenceFrames int

	pending      []byte
	inSpeech     bool
	speechFrames [][]byte
	speechCount  int
	silenceCount int
	preroll      [][]byte

	idleHook func(rms float64)
}

func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	frameSamples := int(float64(cfg.SampleRate) * cfg.FrameDuration.Seconds())
	d := &Detector{
		cfg:              cfg,
		frameBytes:       frameSamples * 2,
		padFrames:        frameCount(cfg.SpeechPad, cfg.FrameDuration),
		minSpeechFrames:  frameCount(cfg.MinSpeechDuration, cfg.FrameDuration),
		maxSilenceFrames: frameCount(cfg.MaxSilenceDuration, cfg.FrameDuration),
	}
	if d.maxSilenceFrames < 1 {
		d.maxSilenceFrames = 1
	}
	return d
}

// SampleRate reports the configured rate after defaults are applied.
func (d *Detector) SampleRate() int { return d.cfg.SampleRate }

// SetClassifier installs an external vote that takes precedence over the
// energy and zero-crossing heuristics.
func (d *Detector) SetClassifier(c Classifier) {
	d.external = c
}

// Process ingests PCM bytes of arbitrary length, slices them into frames and
// returns zero or more completed utterances. Bytes that do not fill a whole
// frame are carried over to the next call.
func (d *Detector) Process(pcm []byte) [][]byte {
	d.pending = append(d.pending, pcm...)
	var done [][]byte
	for len(d.pending) >= d.frameBytes {
		frame := make([]byte, d.frameBytes)
		copy(frame, d.pending[:d.frameBytes])
		d.pending = d.pending[d.frameBytes:]
		if utt, ok := d.processFrame(frame); ok {
			done = append(done, utt)
		}
	}
	return done
}

// Flush treats the end of the stream as synthetic silence, emitting the
// in-progress utterance if it meets the minimum speech duration. Callers must
// invoke this on stream stop so a final utterance without trailing silence is
// not lost.
func (d *Detector) Flush() ([]byte, bool) {
	defer d.Reset()
	if d.inSpeech && d.speechCount >= d.minSpeechFrames {
		return join(d.speechFrames), true
	}
	return nil, false
}

// Reset clears all detection state.
func (d *Detector) Reset() {
	d.pending = nil
	d.inSpeech = false
	d.speechFrames = nil
	d.speechCount = 0
	d.silenceCount = 0
	d.preroll = nil
}

// Status is a point-in-time snapshot for observability.
type Status struct {
	InSpeech        bool    `json:"in_speech"`
	BufferedFrames  int     `json:"buffered_frames"`
	SilenceFrames   int     `json:"silence_frames"`
	EnergyThreshold float64 `json:"energy_threshold"`
}

func (d *Detector) Status() Status {
	return Status{
		InSpeech:        d.inSpeech,
		BufferedFrames:  len(d.speechFrames),
		SilenceFrames:   d.silenceCount,
		EnergyThreshold: d.cfg.EnergyThreshold,
	}
}

func (d *Detector) processFrame(frame []byte) ([]byte, bool) {
	samples := toSamples(frame)
	rms := normalizedRMS(samples)
	if !d.inSpeech && d.idleHook != nil {
		d.idleHook(rms)
	}
	speech := d.classify(samples, rms)

	if speech {
		if !d.inSpeech {
			d.inSpeech = true
			d.speechCount = 0
			d.speechFrames = append(d.speechFrames, d.preroll...)
			d.preroll = nil
		}
		d.speechFrames = append(d.speechFrames, frame)
		d.speechCount++
		d.silenceCount = 0
		return nil, false
	}

	if !d.inSpeech {
		d.preroll = append(d.preroll, frame)
		if len(d.preroll) > d.padFrames {
			d.preroll = d.preroll[1:]
		}
		return nil, false
	}

	d.silenceCount++
	if d.silenceCount <= d.padFrames {
		d.speechFrames = append(d.speechFrames, frame)
	}
	if d.silenceCount < d.maxSilenceFrames {
		return nil, false
	}

	var utt []byte
	ok := d.speechCount >= d.minSpeechFrames
	if ok {
		utt = join(d.speechFrames)
	}
	d.inSpeech = false
	d.speechFrames = nil
	d.speechCount = 0
	d.silenceCount = 0
	return utt, ok
}

// classify trusts the external vote alone when present; otherwise energy and
// zero-crossing votes combine with OR so either signal can confirm speech.
func (d *Detector) classify(samples []int16, rms float64) bool {
	if d.external != nil {
		return d.external.IsSpeech(samples)
	}
	if rms > d.cfg.EnergyThreshold {
		return true
	}
	if d.cfg.UseZeroCrossing {
		zcr := zeroCrossingRate(samples)
		return zcr > 0.02 && zcr < 0.5
	}
	return false
}

func frameCount(d, frame time.Duration) int {
	if frame <= 0 {
		return 0
	}
	return int(d / frame)
}

func toSamples(frame []byte) []int16 {
	samples := make([]int16, len(frame)/2)
	for i := range samples {
		samples[i] = int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
	}
	return samples
}

func normalizedRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum/float64(len(samples))) / 32767.0
}

// zeroCrossingRate reports sign changes per sample. Speech sits in a middle
// band; DC offsets and pure tones fall outside it.
func zeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples))
}

func join(frames [][]byte) []byte {
	size := 0
	for _, f := range frames {
		size += len(f)
	}
	out := make([]byte, 0, size)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
