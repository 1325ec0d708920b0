package metrics

import (
	"net/http"
	"sort"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sinodragon"

// Frame outcomes recorded by RecordFrame.
const (
	FrameEmitted    = "emitted"
	FrameSuppressed = "suppressed"
	FrameDropped    = "dropped"
	FrameFailed     = "failed"
	FrameTimeout    = "timeout"
)

// Profile lookup outcomes recorded by RecordProfile.
const (
	ProfileHit     = "hit"
	ProfileMiss    = "miss"
	ProfileEvicted = "evicted"
	ProfileError   = "error"
)

// Collector aggregates daemon counters in a Prometheus registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	started  time.Time
	registry *prom.Registry

	events          *prom.CounterVec
	received        *prom.CounterVec
	transitions     *prom.CounterVec
	frames          *prom.CounterVec
	reconnects      *prom.CounterVec
	profiles        *prom.CounterVec
	queueFull       prom.Counter
	bridgeAvailable prom.Gauge
}

// Snapshot is the serializable view of the current counters, keyed by
// metric name with labels rendered inline (frames_total{result=emitted}).
type Snapshot struct {
	Started  time.Time          `json:"started"`
	Counters map[string]float64 `json:"counters"`
}

// NewCollector registers the daemon metrics on reg, creating a private
// registry when reg is nil.
func NewCollector(reg *prom.Registry) *Collector {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	c := &Collector{
		started:  time.Now(),
		registry: reg,
		events: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events received by the engine, by source",
		}, []string{"source"}),
		received: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Events read from an ingestion socket, by client",
		}, []string{"client"}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Engine state transitions, by resulting state kind",
		}, []string{"state"}),
		frames: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Lighting frames by outcome",
		}, []string{"result"}),
		reconnects: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts, by ingestion client",
		}, []string{"client"}),
		profiles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "profile_lookups_total",
			Help:      "Profile cache lookups, by outcome",
		}, []string{"result"}),
		queueFull: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queue_full_total",
			Help:      "Events rejected because the engine queue was full",
		}),
		bridgeAvailable: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_available",
			Help:      "1 while the input bridge helper is connected",
		}),
	}
	reg.MustRegister(c.events, c.received, c.transitions, c.frames, c.reconnects, c.profiles, c.queueFull, c.bridgeAvailable)
	return c
}

// RecordEvent counts an event processed by the engine, by source (compositor, bridge, control).
func (c *Collector) RecordEvent(source string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(source).Inc()
}

// RecordReceived counts an event read off the wire by an ingestion client.
func (c *Collector) RecordReceived(client string) {
	if c == nil {
		return
	}
	c.received.WithLabelValues(client).Inc()
}

// RecordTransition counts a committed state transition.
func (c *Collector) RecordTransition(kind string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(kind).Inc()
}

// RecordFrame counts a frame outcome.
func (c *Collector) RecordFrame(result string) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues(result).Inc()
}

// RecordReconnect counts a reconnect attempt for the named client.
func (c *Collector) RecordReconnect(client string) {
	if c == nil {
		return
	}
	c.reconnects.WithLabelValues(client).Inc()
}

// RecordProfile counts a profile cache outcome.
func (c *Collector) RecordProfile(result string) {
	if c == nil {
		return
	}
	c.profiles.WithLabelValues(result).Inc()
}

// RecordQueueFull counts an event rejected by a full engine queue.
func (c *Collector) RecordQueueFull() {
	if c == nil {
		return
	}
	c.queueFull.Inc()
}

// SetBridgeAvailable publishes the helper connection state.
func (c *Collector) SetBridgeAvailable(available bool) {
	if c == nil {
		return
	}
	if available {
		c.bridgeAvailable.Set(1)
		return
	}
	c.bridgeAvailable.Set(0)
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	snap := Snapshot{Started: c.started, Counters: map[string]float64{}}
	families, err := c.registry.Gather()
	if err != nil {
		return snap
	}
	for _, mf := range families {
		name := strings.TrimPrefix(mf.GetName(), namespace+"_")
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			key := name
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				snap.Counters[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				snap.Counters[key] = m.GetGauge().GetValue()
			}
		}
	}
	return snap
}
