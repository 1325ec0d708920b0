package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/metrics"
	"github.com/EvanSunde/Sinodragon/internal/retry"
	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

const maxLineBytes = 4096

// Conn is one connection to the helper.
type Conn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	logger  *util.Logger
	held    state.ModifierSet
}

// Connect dials the helper socket.
func Connect(path string, logger *util.Logger) (*Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect input helper %s: %w", path, err)
	}
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), maxLineBytes)
	return &Conn{conn: conn, scanner: scanner, logger: logger}, nil
}

// NextEvent blocks for the next modifier or root event. A Delete press while
// Win is held is reported as the root chord, even when the helper sends it
// as a plain key. Other non-modifier keys and undecodable lines are dropped.
func (c *Conn) NextEvent() (Event, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := Decode(line)
		if err != nil {
			var notMod *ErrNotModifier
			if errors.As(err, &notMod) {
				if notMod.Key == rootKeyCode && notMod.Pressed && c.held.Has(state.Win) {
					return Event{Kind: EventRoot}, nil
				}
				c.logger.Warnf("dropping non-modifier key from helper")
			} else {
				c.logger.Warnf("dropping helper line: %v", err)
			}
			continue
		}
		if ev.Kind == EventModifier {
			if ev.Modifier.Pressed {
				c.held = c.held.With(ev.Modifier.Modifier)
			} else {
				c.held = c.held.Without(ev.Modifier.Modifier)
			}
		}
		return ev, nil
	}
	if err := c.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, errors.New("input helper closed the connection")
}

// Close releases the connection and unblocks NextEvent.
func (c *Conn) Close() error { return c.conn.Close() }

// Client keeps the helper connection alive and tracks availability.
type Client struct {
	path      string
	policy    retry.Policy
	logger    *util.Logger
	metrics   *metrics.Collector
	available atomic.Bool
}

// NewClient returns a client for the helper socket at path.
func NewClient(path string, policy retry.Policy, logger *util.Logger, m *metrics.Collector) *Client {
	if path == "" {
		path = DefaultSocketPath
	}
	if policy.Validate() != nil {
		policy = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	return &Client{path: path, policy: policy, logger: logger, metrics: m}
}

// IsAvailable reports whether the helper is currently connected.
func (c *Client) IsAvailable() bool { return c.available.Load() }

// Path returns the helper socket path.
func (c *Client) Path() string { return c.path }

// Run forwards helper events to emit until ctx is cancelled. When a
// connection drops, releases are synthesized for every modifier that was
// still held so the engine never sees a stuck chord.
func (c *Client) Run(ctx context.Context, emit func(Event)) error {
	backoff := retry.NewBackoff(c.policy)
	warned := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := Connect(c.path, c.logger)
		if err != nil {
			delay := backoff.Next()
			c.metrics.RecordReconnect("bridge")
			if !warned {
				c.logger.Warnf("input helper unavailable, modifier lighting disabled: %v", err)
				warned = true
			} else {
				c.logger.Debugf("input helper still unavailable (attempt %d), retrying in %s", backoff.Attempt(), delay)
			}
			if !retry.Sleep(ctx, delay) {
				return nil
			}
			continue
		}
		warned = false
		c.setAvailable(true)
		c.logger.Infof("connected to input helper at %s", c.path)
		started := time.Now()
		delivered, err := c.stream(ctx, conn, emit)
		c.setAvailable(false)
		if ctx.Err() != nil {
			return nil
		}
		if delivered > 0 || time.Since(started) >= retry.StableAfter {
			backoff.Reset()
			c.logger.Warnf("input helper disconnected: %v", err)
			continue
		}
		delay := backoff.Next()
		c.metrics.RecordReconnect("bridge")
		c.logger.Debugf("input helper dropped the connection right after connect (attempt %d): %v; retrying in %s", backoff.Attempt(), err, delay)
		if !retry.Sleep(ctx, delay) {
			return nil
		}
	}
}

func (c *Client) stream(ctx context.Context, conn *Conn, emit func(Event)) (int, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
	}()
	var held state.ModifierSet
	defer func() {
		for _, m := range held.Modifiers() {
			emit(Event{Kind: EventModifier, Modifier: state.ModifierEvent{Modifier: m, Pressed: false}})
		}
	}()
	delivered := 0
	for {
		ev, err := conn.NextEvent()
		if err != nil {
			return delivered, err
		}
		delivered++
		if ev.Kind == EventModifier {
			if ev.Modifier.Pressed {
				held = held.With(ev.Modifier.Modifier)
			} else {
				held = held.Without(ev.Modifier.Modifier)
			}
		}
		c.metrics.RecordReceived("bridge")
		c.logger.Tracef("helper event %s", ev)
		emit(ev)
	}
}

func (c *Client) setAvailable(v bool) {
	c.available.Store(v)
	c.metrics.SetBridgeAvailable(v)
}
