package playback_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"voicecall/internal/domain"
	"voicecall/internal/playback"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type loadBehavior int

const (
	loadOK loadBehavior = iota
	loadFail
	loadHang
)

type fakeSink struct {
	id string

	mu       sync.Mutex
	behavior map[domain.CandidateLocation]loadBehavior
	loads    []domain.CandidateLocation
	source   domain.CandidateLocation
	playing  bool
	plays    int
	pauses   int
	rewinds  int
	position time.Duration
	playErr  error
	endFn    func(error)
}

func newFakeSink(id string) *fakeSink {
	return &fakeSink{id: id, behavior: make(map[domain.CandidateLocation]loadBehavior)}
}

func (s *fakeSink) ID() string { return s.id }

func (s *fakeSink) Load(ctx context.Context, loc domain.CandidateLocation) error {
	s.mu.Lock()
	s.loads = append(s.loads, loc)
	s.source = loc
	b := s.behavior[loc]
	s.mu.Unlock()

	switch b {
	case loadFail:
		return fmt.Errorf("404 for %s", loc)
	case loadHang:
		<-ctx.Done()
		return ctx.Err()
	default:
		return nil
	}
}

func (s *fakeSink) Source() domain.CandidateLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *fakeSink) Play(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playErr != nil {
		return s.playErr
	}
	s.plays++
	s.playing = true
	return nil
}

func (s *fakeSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses++
	s.playing = false
}

func (s *fakeSink) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewinds++
	s.position = 0
}

func (s *fakeSink) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *fakeSink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *fakeSink) SetEndHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endFn = fn
}

func (s *fakeSink) hasEndHandler() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endFn != nil
}

// finish simulates the sink reaching end of stream (err == nil) or failing.
func (s *fakeSink) finish(err error) {
	s.mu.Lock()
	fn := s.endFn
	s.playing = false
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (s *fakeSink) loaded() []domain.CandidateLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CandidateLocation(nil), s.loads...)
}

var errAlreadyBound = errors.New("sink already bound to a media element source")

type fakeNode struct {
	mu           sync.Mutex
	connected    []playback.Node
	disconnected int
}

func (n *fakeNode) Connect(dst playback.Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = append(n.connected, dst)
	return nil
}

func (n *fakeNode) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected++
	n.connected = nil
}

type fakeAnalyser struct {
	fakeNode
	fftSize int
	level   byte
}

func (a *fakeAnalyser) FFTSize() int           { return a.fftSize }
func (a *fakeAnalyser) FrequencyBinCount() int { return a.fftSize / 2 }

func (a *fakeAnalyser) ByteFrequencyData(dst []byte) {
	for i := range dst {
		dst[i] = a.level
	}
}

// fakeContext fails any second CreateTap for the same sink, like a real
// media element source.
type fakeContext struct {
	mu        sync.Mutex
	state     playback.ContextState
	bound     map[string]bool
	tapCalls  int
	closes    int
	level     byte
	analysers []*fakeAnalyser
	dest      *fakeNode
}

func newFakeContext(level byte) *fakeContext {
	return &fakeContext{
		state: playback.ContextRunning,
		bound: make(map[string]bool),
		level: level,
		dest:  &fakeNode{},
	}
}

func (c *fakeContext) State() playback.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeContext) setState(s playback.ContextState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *fakeContext) CreateTap(sink playback.Sink) (playback.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tapCalls++
	if c.bound[sink.ID()] {
		return nil, errAlreadyBound
	}
	c.bound[sink.ID()] = true
	return &fakeNode{}, nil
}

func (c *fakeContext) CreateAnalyser(fftSize int) (playback.Analyser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &fakeAnalyser{fftSize: fftSize, level: c.level}
	c.analysers = append(c.analysers, a)
	return a, nil
}

func (c *fakeContext) Destination() playback.Node { return c.dest }

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.state = playback.ContextClosed
	return nil
}

// contextFactory hands out fresh fake contexts and remembers them. A shared
// bound map models a sink that stays consumed across contexts.
type contextFactory struct {
	mu       sync.Mutex
	level    byte
	shared   map[string]bool
	created  []*fakeContext
	failWith error
}

func newContextFactory(level byte) *contextFactory {
	return &contextFactory{level: level, shared: make(map[string]bool)}
}

func (f *contextFactory) New() (playback.AnalysisContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	ctx := newFakeContext(f.level)
	ctx.bound = f.shared
	f.created = append(f.created, ctx)
	return ctx, nil
}

func (f *contextFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *contextFactory) last() *fakeContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
