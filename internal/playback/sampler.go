package playback

import (
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"voicecall/internal/clock"
)

// DefaultFrameInterval approximates a 60 Hz animation cadence.
const DefaultFrameInterval = 16 * time.Millisecond

const syntheticMaxVolume = 80

// Sampler produces one loudness sample per animation frame.
type Sampler interface {
	Sample() (float64, bool)
}

// Stream is a running sampler. Cancel stops emissions immediately.
type Stream struct {
	stop     func()
	canceled atomic.Bool
}

// Start emits s's samples at every tick of c until the stream is cancelled.
// Frames where the sampler has nothing to report are skipped.
func Start(c clock.Clock, interval time.Duration, s Sampler, emit func(float64)) *Stream {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	st := &Stream{}
	st.stop = c.Tick(interval, func() {
		if st.canceled.Load() {
			return
		}
		v, ok := s.Sample()
		if !ok || st.canceled.Load() {
			return
		}
		emit(v)
	})
	return st
}

func (s *Stream) Cancel() {
	if s == nil {
		return
	}
	if s.canceled.CompareAndSwap(false, true) {
		s.stop()
	}
}

func (s *Stream) Canceled() bool {
	return s == nil || s.canceled.Load()
}

// AnalyserSampler averages the analyser's frequency magnitudes (0..255)
// while the context is running.
type AnalyserSampler struct {
	context  AnalysisContext
	analyser Analyser
	buf      []byte
}

func NewAnalyserSampler(ctx AnalysisContext, analyser Analyser) *AnalyserSampler {
	return &AnalyserSampler{
		context:  ctx,
		analyser: analyser,
		buf:      make([]byte, analyser.FrequencyBinCount()),
	}
}

func (a *AnalyserSampler) Sample() (float64, bool) {
	if a.context.State() != ContextRunning {
		return 0, false
	}
	a.analyser.ByteFrequencyData(a.buf)
	if len(a.buf) == 0 {
		return 0, true
	}
	sum := 0
	for _, v := range a.buf {
		sum += int(v)
	}
	return float64(sum) / float64(len(a.buf)), true
}

// SyntheticSampler fabricates a plausible speech envelope from the playback
// position when no analyser is available. Values are clamped to [0, 80].
type SyntheticSampler struct {
	position func() time.Duration
	playing  func() bool
	rand     *rand.Rand
}

func NewSyntheticSampler(position func() time.Duration, playing func() bool, r *rand.Rand) *SyntheticSampler {
	if r == nil {
		r = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &SyntheticSampler{position: position, playing: playing, rand: r}
}

func (s *SyntheticSampler) Sample() (float64, bool) {
	if s.playing != nil && !s.playing() {
		return 0, true
	}
	return SyntheticVolume(s.position().Seconds(), s.rand.Float64()), true
}

// SyntheticVolume combines three sinusoids, a random speech component
// (noise in [0,1)) and a slow pulse.
func SyntheticVolume(t, noise float64) float64 {
	base := math.Sin(t*8) * 25
	mid := math.Sin(t*15) * 15
	high := math.Sin(t*25) * 10
	speech := noise * 20
	pulse := math.Sin(t*3)*5 + 5

	v := math.Abs(base+mid+high+speech) + pulse
	return math.Max(0, math.Min(v, syntheticMaxVolume))
}
