package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"voicecall/internal/domain"
)

const AnalyserFFTSize = 256

// tapBinding remembers that a sink was bound into a specific context. The
// binding outlives the context: once consumed, a sink can never be tapped again.
type tapBinding struct {
	node    Node
	context AnalysisContext
}

// GraphOwner owns the analysis context and enforces the bind-once rule for
// sink taps. Tap is a pure state check over recorded bindings.
type GraphOwner struct {
	newContext ContextFactory
	logger     *slog.Logger

	mu       sync.Mutex
	context  AnalysisContext
	tapped   string // sink ID bound under the current context
	bindings map[string]tapBinding
	analyser Analyser
}

func NewGraphOwner(factory ContextFactory, logger *slog.Logger) *GraphOwner {
	return &GraphOwner{
		newContext: factory,
		logger:     logger.With("component", "graph"),
		bindings:   make(map[string]tapBinding),
	}
}

// EnsureContext creates the analysis context if absent or closed.
func (g *GraphOwner) EnsureContext() (AnalysisContext, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureContextLocked()
}

func (g *GraphOwner) ensureContextLocked() (AnalysisContext, error) {
	if g.context != nil && g.context.State() != ContextClosed {
		return g.context, nil
	}
	if g.newContext == nil {
		return nil, fmt.Errorf("no analysis context factory: %w", domain.ErrVisualizationUnavailable)
	}

	ctx, err := g.newContext()
	if err != nil {
		return nil, fmt.Errorf("creating analysis context: %w", err)
	}
	g.context = ctx
	g.tapped = ""
	g.logger.Debug("analysis context created")
	return ctx, nil
}

// Tap binds sink into the current context at most once per sink identity.
// A sink already bound under the current context yields the same node; one
// bound under a stale context yields ErrVisualizationUnavailable.
func (g *GraphOwner) Tap(sink Sink) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tapLocked(sink)
}

func (g *GraphOwner) tapLocked(sink Sink) (Node, error) {
	if b, ok := g.bindings[sink.ID()]; ok {
		if b.context == g.context && b.node != nil && g.context.State() != ContextClosed {
			return b.node, nil
		}
		g.logger.Info("sink already tapped under a previous context, skipping visualization", "sink", sink.ID())
		return nil, fmt.Errorf("sink %s tapped under stale context: %w", sink.ID(), domain.ErrVisualizationUnavailable)
	}

	if g.tapped != "" && g.tapped != sink.ID() {
		g.logger.Debug("replacing analysis context for new sink", "previous", g.tapped, "sink", sink.ID())
		g.teardownLocked()
	}

	ctx, err := g.ensureContextLocked()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrVisualizationUnavailable, err)
	}

	node, err := ctx.CreateTap(sink)
	// The bind is consumed even if it failed; never attempt it again.
	g.bindings[sink.ID()] = tapBinding{node: node, context: ctx}
	if err != nil {
		return nil, fmt.Errorf("tapping sink %s: %w: %w", sink.ID(), domain.ErrVisualizationUnavailable, err)
	}
	g.tapped = sink.ID()
	g.logger.Debug("sink tapped", "sink", sink.ID())
	return node, nil
}

// AttachAnalyser creates a fresh analyser wired tap -> analyser -> destination.
func (g *GraphOwner) AttachAnalyser(sink Sink) (Analyser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tap, err := g.tapLocked(sink)
	if err != nil {
		return nil, err
	}

	// The tap feeds only the current analyser; cut its edge to the old one.
	tap.Disconnect()
	if g.analyser != nil {
		g.analyser.Disconnect()
		g.analyser = nil
	}

	analyser, err := g.context.CreateAnalyser(AnalyserFFTSize)
	if err != nil {
		return nil, fmt.Errorf("creating analyser: %w: %w", domain.ErrVisualizationUnavailable, err)
	}
	if err := tap.Connect(analyser); err != nil {
		return nil, fmt.Errorf("connecting tap: %w: %w", domain.ErrVisualizationUnavailable, err)
	}
	if err := analyser.Connect(g.context.Destination()); err != nil {
		analyser.Disconnect()
		return nil, fmt.Errorf("connecting analyser: %w: %w", domain.ErrVisualizationUnavailable, err)
	}

	g.analyser = analyser
	return analyser, nil
}

// Context returns the current analysis context, or nil.
func (g *GraphOwner) Context() AnalysisContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.context
}

// Dispose disconnects every node and closes the context. Safe to call
// repeatedly and from error paths. Consumed sinks stay recorded.
func (g *GraphOwner) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.teardownLocked()
}

func (g *GraphOwner) teardownLocked() {
	if g.analyser != nil {
		g.analyser.Disconnect()
		g.analyser = nil
	}
	for id, b := range g.bindings {
		if b.node != nil && b.context == g.context {
			b.node.Disconnect()
			g.bindings[id] = tapBinding{context: b.context}
		}
	}
	if g.context != nil {
		if g.context.State() != ContextClosed {
			if err := g.context.Close(); err != nil {
				g.logger.Warn("closing analysis context", "error", err)
			}
		}
		g.context = nil
	}
	g.tapped = ""
}
