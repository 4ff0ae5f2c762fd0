package audio

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"voicecall/internal/domain"
	"voicecall/internal/playback"
)

// Analyser defaults follow the Web Audio AnalyserNode.
const (
	DefaultSmoothing = 0.8
	DefaultMinDB     = -100.0
	DefaultMaxDB     = -30.0
)

var ErrContextClosed = errors.New("analysis context closed")

// PCMSource is a sink that can deliver its played frames to one tap.
type PCMSource interface {
	ID() string
	Tap(fn TapFunc) (detach func(), err error)
}

// receiver is implemented by nodes that accept frames.
type receiver interface {
	playback.Node
	receive(frame []float64)
	owner() *PCMContext
}

// PCMContext is an in-process analysis graph fed by StreamSink taps.
type PCMContext struct {
	mu      sync.Mutex
	state   playback.ContextState
	dest    *destinationNode
	detachs []func()
}

func NewPCMContext() *PCMContext {
	c := &PCMContext{state: playback.ContextRunning}
	c.dest = &destinationNode{ctx: c}
	return c
}

// NewPCMContextFactory returns a factory that builds a fresh context per call.
func NewPCMContextFactory() playback.ContextFactory {
	return func() (playback.AnalysisContext, error) {
		return NewPCMContext(), nil
	}
}

func (c *PCMContext) State() playback.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *PCMContext) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == playback.ContextRunning {
		c.state = playback.ContextSuspended
	}
}

func (c *PCMContext) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == playback.ContextSuspended {
		c.state = playback.ContextRunning
	}
}

func (c *PCMContext) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == playback.ContextRunning
}

func (c *PCMContext) CreateTap(sink playback.Sink) (playback.Node, error) {
	c.mu.Lock()
	closed := c.state == playback.ContextClosed
	c.mu.Unlock()
	if closed {
		return nil, ErrContextClosed
	}

	src, ok := sink.(PCMSource)
	if !ok {
		return nil, fmt.Errorf("sink %s does not expose PCM: %w", sink.ID(), domain.ErrVisualizationUnavailable)
	}

	node := &tapNode{ctx: c}
	detach, err := src.Tap(node.receive)
	if err != nil {
		return nil, fmt.Errorf("tapping sink %s: %w", sink.ID(), err)
	}

	c.mu.Lock()
	c.detachs = append(c.detachs, detach)
	c.mu.Unlock()
	return node, nil
}

func (c *PCMContext) CreateAnalyser(fftSize int) (playback.Analyser, error) {
	if fftSize < 32 || fftSize > 32768 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d must be a power of two in [32, 32768]", fftSize)
	}
	if c.State() == playback.ContextClosed {
		return nil, ErrContextClosed
	}

	return &analyserNode{
		ctx:       c,
		fftSize:   fftSize,
		fft:       fourier.NewFFT(fftSize),
		window:    blackman(fftSize),
		ring:      make([]float64, fftSize),
		smoothed:  make([]float64, fftSize/2),
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDB,
		maxDB:     DefaultMaxDB,
	}, nil
}

func (c *PCMContext) Destination() playback.Node {
	return c.dest
}

// Close detaches every tap. Tapped sinks stay consumed.
func (c *PCMContext) Close() error {
	c.mu.Lock()
	if c.state == playback.ContextClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = playback.ContextClosed
	detachs := c.detachs
	c.detachs = nil
	c.mu.Unlock()

	for _, d := range detachs {
		d()
	}
	return nil
}

type outputs struct {
	mu  sync.Mutex
	dst []receiver
}

func (o *outputs) connect(from *PCMContext, dst playback.Node) error {
	r, ok := dst.(receiver)
	if !ok || r.owner() != from {
		return errors.New("cannot connect nodes from different contexts")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.dst {
		if existing == r {
			return nil
		}
	}
	o.dst = append(o.dst, r)
	return nil
}

func (o *outputs) disconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dst = nil
}

func (o *outputs) forward(frame []float64) {
	o.mu.Lock()
	dst := append([]receiver(nil), o.dst...)
	o.mu.Unlock()
	for _, r := range dst {
		r.receive(frame)
	}
}

type tapNode struct {
	ctx *PCMContext
	out outputs
}

func (n *tapNode) Connect(dst playback.Node) error { return n.out.connect(n.ctx, dst) }
func (n *tapNode) Disconnect()                     { n.out.disconnect() }

func (n *tapNode) receive(frame []float64, _ int) {
	if !n.ctx.running() {
		return
	}
	n.out.forward(frame)
}

type destinationNode struct {
	ctx *PCMContext
}

func (n *destinationNode) Connect(playback.Node) error {
	return errors.New("destination has no outputs")
}
func (n *destinationNode) Disconnect()        {}
func (n *destinationNode) receive([]float64)  {}
func (n *destinationNode) owner() *PCMContext { return n.ctx }

type analyserNode struct {
	ctx *PCMContext
	out outputs

	mu        sync.Mutex
	fftSize   int
	fft       *fourier.FFT
	window    []float64
	ring      []float64
	head      int
	smoothed  []float64
	smoothing float64
	minDB     float64
	maxDB     float64
}

func (a *analyserNode) Connect(dst playback.Node) error { return a.out.connect(a.ctx, dst) }
func (a *analyserNode) Disconnect()                     { a.out.disconnect() }
func (a *analyserNode) owner() *PCMContext              { return a.ctx }
func (a *analyserNode) FFTSize() int                    { return a.fftSize }
func (a *analyserNode) FrequencyBinCount() int          { return a.fftSize / 2 }

func (a *analyserNode) receive(frame []float64) {
	a.mu.Lock()
	for _, v := range frame {
		a.ring[a.head] = v
		a.head = (a.head + 1) % a.fftSize
	}
	a.mu.Unlock()
	a.out.forward(frame)
}

// ByteFrequencyData applies a Blackman window to the most recent fftSize
// samples, smooths magnitudes over time and maps decibels in [minDB, maxDB]
// onto 0..255.
func (a *analyserNode) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.fftSize
	seq := make([]float64, n)
	for i := 0; i < n; i++ {
		seq[i] = a.ring[(a.head+i)%n] * a.window[i]
	}

	coeffs := a.fft.Coefficients(nil, seq)

	scale := 255 / (a.maxDB - a.minDB)
	bins := min(len(dst), n/2)
	for k := 0; k < n/2; k++ {
		mag := cmplx.Abs(coeffs[k]) / float64(n)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k >= bins {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		v := scale * (db - a.minDB)
		switch {
		case math.IsNaN(v) || v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		dst[k] = byte(v)
	}
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2

	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
