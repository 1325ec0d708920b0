// Package engine owns the lighting state machine. A single goroutine
// consumes every input event, so state, the held-modifier set, the profile
// cache and the last emitted frame are never shared.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/metrics"
	"github.com/EvanSunde/Sinodragon/internal/sink"
	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

// ErrQueueFull reports an event rejected because the engine is saturated.
var ErrQueueFull = errors.New("engine event queue full")

const defaultQueueSize = 64

// ProfileStore is the profile collaborator the engine resolves against.
type ProfileStore interface {
	ResolveDefaultKeys(appID string) state.Mapping
	ResolveCombo(appID string, set state.ModifierSet) (state.Mapping, bool)
	Invalidate(appID string)
	InvalidateAll()
}

// Options tunes queue sizes and the sink deadline. Zero values use defaults.
type Options struct {
	QueueSize     int
	HistoryLimit  int
	SinkQueueSize int
	SinkTimeout   time.Duration
	// BridgeAvailable reports helper connectivity for snapshots.
	BridgeAvailable func() bool
}

// Engine is the lighting state machine.
type Engine struct {
	store   ProfileStore
	logger  *util.Logger
	metrics *metrics.Collector
	events  chan Event
	emitter *emitter
	history *transitionLog
	bridge  func() bool
	latest  atomic.Pointer[Snapshot]
	running atomic.Bool

	// Owned by the Run goroutine.
	resolver    AppResolver
	baseline    state.Mapping
	current     state.EngineState
	focus       state.WindowFocus
	held        state.ModifierSet
	keys        state.Mapping
	lastEmitted state.Mapping
	emitted     bool
	seq         uint64
}

// New returns an engine in the Baseline state.
func New(store ProfileStore, resolver AppResolver, baseline state.Mapping, out sink.Sink, opts Options, logger *util.Logger, m *metrics.Collector) *Engine {
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	e := &Engine{
		store:    store,
		logger:   logger,
		metrics:  m,
		events:   make(chan Event, queueSize),
		emitter:  newEmitter(out, opts.SinkQueueSize, opts.SinkTimeout, logger, m),
		history:  newTransitionLog(opts.HistoryLimit),
		bridge:   opts.BridgeAvailable,
		resolver: resolver,
		baseline: baseline.Clone(),
		current:  state.Baseline(),
		keys:     baseline.Clone(),
	}
	e.publish()
	return e
}

// Submit enqueues ev without blocking. It is safe for concurrent use.
func (e *Engine) Submit(ev Event) error {
	select {
	case e.events <- ev:
		return nil
	default:
		e.metrics.RecordQueueFull()
		e.logger.Warnf("engine queue full, dropping %s event", ev)
		return ErrQueueFull
	}
}

// Run consumes events until ctx is cancelled. The baseline frame is emitted
// on start.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running")
	}
	defer e.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.emitter.run(runCtx)

	e.emit()
	e.publish()
	for {
		select {
		case <-ctx.Done():
			return nil
		case seq := <-e.emitter.failures:
			if seq == e.seq {
				e.logger.Debugf("frame %d failed, next change will re-emit", seq)
				e.emitted = false
				e.lastEmitted = nil
			}
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

// Snapshot returns the state published after the last processed event.
func (e *Engine) Snapshot() Snapshot {
	snap := *e.latest.Load()
	snap.Keys = snap.Keys.Clone()
	snap.QueueDepth = len(e.events)
	if e.bridge != nil {
		snap.BridgeAvailable = e.bridge()
	}
	return snap
}

// History returns the recent transitions, oldest first.
func (e *Engine) History() []Transition {
	return e.history.snapshot()
}

func (e *Engine) handle(ev Event) {
	if ev.Source != "" {
		e.metrics.RecordEvent(ev.Source)
	}
	e.trace("event.received", map[string]any{"event": ev.String(), "state": e.current.String()})
	from := e.current

	switch ev.Kind {
	case EventFocus:
		e.focus = ev.Focus
		e.resolveFocused()
	case EventModifier:
		e.handleModifier(ev.Modifier)
	case EventRoot:
		e.held = 0
		e.resolveFocused()
	case EventApply:
		if ev.Baseline != nil {
			e.baseline = ev.Baseline.Clone()
		}
		if ev.Resolver != nil {
			e.resolver = ev.Resolver
		}
		e.reresolve()
	case EventInvalidate:
		if ev.AppID == "" {
			e.store.InvalidateAll()
		} else {
			e.store.Invalidate(ev.AppID)
		}
		e.reresolve()
	default:
		e.logger.Warnf("ignoring unknown event kind %d", int(ev.Kind))
		return
	}

	emitted := e.emit()
	if from != e.current {
		e.metrics.RecordTransition(e.current.Kind.String())
		e.trace("state.transition", map[string]any{"from": from.String(), "to": e.current.String()})
	}
	entry := Transition{Timestamp: time.Now(), Event: ev.String(), From: from.String(), To: e.current.String(), Emitted: emitted}
	if emitted {
		entry.Seq = e.seq
	}
	e.history.record(entry)
	e.publish()
}

func (e *Engine) handleModifier(m state.ModifierEvent) {
	if m.Pressed {
		e.held = e.held.With(m.Modifier)
	} else {
		e.held = e.held.Without(m.Modifier)
	}
	if e.current.Kind == state.KindBaseline {
		return
	}
	app := e.current.AppID
	if m.Pressed {
		if keys, ok := e.store.ResolveCombo(app, e.held); ok {
			e.set(state.ComboActive(app, e.held), keys)
		}
		return
	}
	if !e.held.Empty() {
		if keys, ok := e.store.ResolveCombo(app, e.held); ok {
			e.set(state.ComboActive(app, e.held), keys)
			return
		}
	}
	e.setAppDefault(app)
}

// resolveFocused picks the state for the focused window and held modifiers.
func (e *Engine) resolveFocused() {
	if e.focus.IsBlank() {
		e.set(state.Baseline(), e.baseline)
		return
	}
	app := e.appID(e.focus.AppClass)
	if !e.held.Empty() {
		if keys, ok := e.store.ResolveCombo(app, e.held); ok {
			e.set(state.ComboActive(app, e.held), keys)
			return
		}
	}
	e.setAppDefault(app)
}

// reresolve recomputes the mapping for the current state after profile or
// baseline changes. A combo that no longer exists falls back to the app default.
func (e *Engine) reresolve() {
	switch e.current.Kind {
	case state.KindBaseline:
		e.set(state.Baseline(), e.baseline)
	case state.KindAppDefault:
		app := e.current.AppID
		if !e.focus.IsBlank() {
			app = e.appID(e.focus.AppClass)
		}
		e.setAppDefault(app)
	case state.KindComboActive:
		if keys, ok := e.store.ResolveCombo(e.current.AppID, e.current.Combo); ok {
			e.set(e.current, keys)
			return
		}
		e.setAppDefault(e.current.AppID)
	}
}

func (e *Engine) setAppDefault(app string) {
	keys := e.store.ResolveDefaultKeys(app)
	if len(keys) == 0 {
		keys = e.baseline
	}
	e.set(state.AppDefault(app), keys)
}

func (e *Engine) set(next state.EngineState, keys state.Mapping) {
	e.current = next
	e.keys = keys
}

func (e *Engine) appID(class string) string {
	if e.resolver == nil {
		return strings.ToLower(class)
	}
	return e.resolver.AppID(class)
}

// emit hands the current mapping to the sink unless it equals the last one.
func (e *Engine) emit() bool {
	if e.emitted && e.keys.Equal(e.lastEmitted) {
		e.metrics.RecordFrame(metrics.FrameSuppressed)
		return false
	}
	e.seq++
	frame := sink.Frame{Seq: e.seq, State: e.current.String(), Keys: e.keys.Clone()}
	e.lastEmitted = frame.Keys
	e.emitted = true
	e.emitter.submit(frame)
	e.trace("frame.emitted", map[string]any{"seq": frame.Seq, "keys": len(frame.Keys)})
	return true
}

func (e *Engine) publish() {
	snap := &Snapshot{
		State:     e.current.String(),
		Kind:      e.current.Kind.String(),
		AppID:     e.current.AppID,
		Held:      e.held.String(),
		Focus:     e.focus,
		Keys:      e.keys.Clone(),
		FrameSeq:  e.seq,
		UpdatedAt: time.Now(),
	}
	if e.current.Kind == state.KindComboActive {
		snap.Combo = e.current.Combo.String()
	}
	e.latest.Store(snap)
}

func (e *Engine) trace(event string, fields map[string]any) {
	if e.logger == nil || !e.logger.Enabled(util.LevelTrace) {
		return
	}
	e.logger.Tracef("%s %s", event, formatTraceFields(fields))
}

func formatTraceFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		val, err := json.Marshal(fields[k])
		if err != nil {
			b.WriteString(strconv.Quote(fmt.Sprintf("<marshal error: %v>", err)))
			continue
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}
