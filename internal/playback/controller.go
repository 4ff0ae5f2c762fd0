package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"voicecall/internal/clock"
	"voicecall/internal/domain"
	"voicecall/internal/metrics"
)

var ErrDisposed = errors.New("playback controller disposed")

// Controller plays one asset at a time through a single sink and publishes
// PlaybackState. States: idle -> resolving -> playing -> idle, or
// idle -> resolving -> failed.
type Controller struct {
	sink     Sink
	resolver *Resolver
	graph    *GraphOwner
	clock    clock.Clock
	interval time.Duration
	rand     *rand.Rand
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onError  func(error)

	mu            sync.Mutex
	phase         domain.PlaybackPhase
	state         domain.PlaybackState
	degraded      bool
	current       domain.CandidateLocation
	stream        *Stream
	gen           uint64
	cancelResolve context.CancelFunc
	disposed      bool
	listeners     []func(domain.PlaybackState)
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithFrameInterval(d time.Duration) Option {
	return func(ctl *Controller) { ctl.interval = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// WithRand seeds the synthetic volume fallback.
func WithRand(r *rand.Rand) Option {
	return func(ctl *Controller) { ctl.rand = r }
}

// WithErrorHandler receives playback errors reported by the sink mid-play.
func WithErrorHandler(fn func(error)) Option {
	return func(ctl *Controller) { ctl.onError = fn }
}

func NewController(sink Sink, resolver *Resolver, graph *GraphOwner, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		sink:     sink,
		resolver: resolver,
		graph:    graph,
		clock:    clock.Real(),
		interval: DefaultFrameInterval,
		logger:   logger.With("component", "playback"),
		phase:    domain.PlaybackIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to receive every state change. fn must not block.
func (c *Controller) OnChange(fn func(domain.PlaybackState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) State() domain.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Phase() domain.PlaybackPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Degraded reports whether the current volume signal is synthetic.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *Controller) Current() domain.CandidateLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Play stops whatever is playing, resolves asset to a working location and
// starts playback. It returns once playback has started. Resolution failures
// are returned as *domain.ResolveError and leave the controller failed.
func (c *Controller) Play(ctx context.Context, asset domain.AudioAsset) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.teardownLocked("superseded")
	c.gen++
	gen := c.gen
	resolveCtx, cancel := context.WithCancel(ctx)
	c.cancelResolve = cancel
	c.phase = domain.PlaybackResolving
	c.degraded = false
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()
	defer cancel()

	c.publish(snapshot, listeners)
	c.logger.Info("playing response", "ref", asset.Ref, "candidates", len(asset.Candidates))

	loc, err := c.resolver.Resolve(resolveCtx, c.sink, asset.Candidates)

	c.mu.Lock()
	if gen != c.gen || c.disposed {
		c.mu.Unlock()
		return domain.ErrSuperseded
	}
	c.cancelResolve = nil

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.phase = domain.PlaybackIdle
			c.mu.Unlock()
			return err
		}
		c.phase = domain.PlaybackFailed
		c.mu.Unlock()
		c.logger.Error("no playable audio source", "ref", asset.Ref, "error", err)
		return fmt.Errorf("resolving %s: %w", asset.Ref, err)
	}

	c.current = loc
	sampler := c.samplerLocked()

	c.sink.SetEndHandler(func(err error) { c.handleEnd(gen, err) })
	c.stream = Start(c.clock, c.interval, sampler, func(v float64) { c.emitVolume(gen, v) })

	if err := c.sink.Play(ctx); err != nil {
		c.sink.SetEndHandler(nil)
		c.stream.Cancel()
		c.stream = nil
		c.phase = domain.PlaybackIdle
		c.mu.Unlock()
		c.metrics.RecordPlayFinished("start_error")
		c.logger.Error("starting playback", "location", loc, "error", err)
		return &domain.PlaybackError{Location: loc, Err: err}
	}

	c.phase = domain.PlaybackPlaying
	c.state = domain.PlaybackState{IsPlaying: true}
	degraded := c.degraded
	snapshot, listeners = c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.RecordPlayStarted(degraded)
	c.logger.Info("playback started", "location", loc, "synthetic_volume", degraded)
	c.publish(snapshot, listeners)
	return nil
}

// Stop halts playback, or abandons an in-flight resolution.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked("stopped")
	c.gen++
	c.phase = domain.PlaybackIdle
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snapshot, listeners)
}

// Dispose releases the analysis graph. It must be called when the controller
// is no longer needed and is safe to call more than once.
func (c *Controller) Dispose() {
	c.mu.Lock()
	wasDisposed := c.disposed
	c.disposed = true
	c.teardownLocked("disposed")
	c.gen++
	c.phase = domain.PlaybackIdle
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()

	c.graph.Dispose()
	if !wasDisposed {
		c.logger.Debug("playback controller disposed")
		c.publish(snapshot, listeners)
	}
}

func (c *Controller) samplerLocked() Sampler {
	analyser, err := c.graph.AttachAnalyser(c.sink)
	if err == nil {
		return NewAnalyserSampler(c.graph.Context(), analyser)
	}

	if errors.Is(err, domain.ErrVisualizationUnavailable) {
		c.logger.Info("visualization unavailable, using synthetic volume", "reason", err)
	} else {
		c.logger.Warn("attaching analyser, using synthetic volume", "error", err)
	}
	c.degraded = true
	return NewSyntheticSampler(c.sink.Position, c.sink.Playing, c.rand)
}

func (c *Controller) teardownLocked(reason string) {
	if c.cancelResolve != nil {
		c.cancelResolve()
		c.cancelResolve = nil
	}
	if c.stream != nil {
		c.stream.Cancel()
		c.stream = nil
	}
	c.sink.SetEndHandler(nil)

	if c.phase == domain.PlaybackPlaying {
		c.sink.Pause()
		c.sink.Rewind()
		c.metrics.RecordPlayFinished(reason)
		c.logger.Debug("playback stopped", "reason", reason)
	}
	c.state = domain.PlaybackState{}
}

func (c *Controller) handleEnd(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.phase != domain.PlaybackPlaying {
		c.mu.Unlock()
		return
	}
	if c.stream != nil {
		c.stream.Cancel()
		c.stream = nil
	}
	c.sink.SetEndHandler(nil)
	c.phase = domain.PlaybackIdle
	c.state = domain.PlaybackState{}
	loc := c.current
	onError := c.onError
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snapshot, listeners)

	if err == nil {
		c.metrics.RecordPlayFinished("ended")
		c.logger.Info("playback ended", "location", loc)
		return
	}

	c.metrics.RecordPlayFinished("error")
	perr := &domain.PlaybackError{Location: loc, Err: err}
	c.logger.Error("playback error", "error", perr)
	if onError != nil {
		onError(perr)
	}
}

func (c *Controller) emitVolume(gen uint64, raw float64) {
	c.mu.Lock()
	if gen != c.gen || !c.state.IsPlaying {
		c.mu.Unlock()
		return
	}
	v := raw
	if !c.degraded {
		v = raw * 100 / 255
	}
	c.state.Volume = math.Max(0, math.Min(v, 100))
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snapshot, listeners)
}

func (c *Controller) snapshotLocked() (domain.PlaybackState, []func(domain.PlaybackState)) {
	if len(c.listeners) == 0 {
		return c.state, nil
	}
	listeners := make([]func(domain.PlaybackState), len(c.listeners))
	copy(listeners, c.listeners)
	return c.state, listeners
}

func (c *Controller) publish(state domain.PlaybackState, listeners []func(domain.PlaybackState)) {
	for _, fn := range listeners {
		fn(state)
	}
}
