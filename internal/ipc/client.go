package ipc

import (
	"context"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/metrics"
	"github.com/EvanSunde/Sinodragon/internal/retry"
	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

const (
	// DefaultResyncInterval is how often the active window is re-queried.
	DefaultResyncInterval = 60 * time.Second
	queryTimeout          = 2 * time.Second
)

// Options configures a compositor Client.
type Options struct {
	// Socket overrides discovery when set.
	Socket      string
	SearchRoots []string
	Strategy    QueryStrategy
	// Resync is the periodic active-window query interval; negative disables it.
	Resync  time.Duration
	Backoff retry.Policy
}

// Client keeps a subscription to the compositor alive and forwards focus
// changes to the engine.
type Client struct {
	opts    Options
	logger  *util.Logger
	metrics *metrics.Collector

	discover    func(roots []string) (string, error)
	newQuerier  func(strategy QueryStrategy, commandSocket string) (FocusQuerier, error)
	tickerEvery func(time.Duration) (<-chan time.Time, func())
}

// NewClient returns a client; call Run to start it.
func NewClient(opts Options, logger *util.Logger, m *metrics.Collector) *Client {
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	if opts.Resync == 0 {
		opts.Resync = DefaultResyncInterval
	}
	if opts.Backoff.Validate() != nil {
		opts.Backoff = retry.DefaultPolicy()
	}
	return &Client{
		opts:       opts,
		logger:     logger,
		metrics:    m,
		discover:   Discover,
		newQuerier: NewQuerier,
		tickerEvery: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

func (c *Client) socketPath() (string, error) {
	if c.opts.Socket != "" {
		return c.opts.Socket, nil
	}
	return c.discover(c.opts.SearchRoots)
}

// Run connects, streams focus changes to emit and reconnects with backoff
// until ctx is cancelled. A cancelled context is a clean shutdown and
// returns nil.
func (c *Client) Run(ctx context.Context, emit func(state.WindowFocus)) error {
	backoff := retry.NewBackoff(c.opts.Backoff)
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := c.connect()
		if err != nil {
			delay := backoff.Next()
			c.metrics.RecordReconnect("compositor")
			c.logger.Warnf("compositor unavailable (attempt %d): %v; retrying in %s", backoff.Attempt(), err, delay)
			if !retry.Sleep(ctx, delay) {
				return nil
			}
			continue
		}
		c.logger.Infof("subscribed to compositor events at %s", conn.Path())
		started := time.Now()
		delivered, err := c.stream(ctx, conn, emit)
		if ctx.Err() != nil {
			return nil
		}
		if delivered > 0 || time.Since(started) >= retry.StableAfter {
			backoff.Reset()
			c.logger.Warnf("compositor event stream ended: %v", err)
			continue
		}
		delay := backoff.Next()
		c.metrics.RecordReconnect("compositor")
		c.logger.Warnf("compositor closed the stream right after connect (attempt %d): %v; retrying in %s", backoff.Attempt(), err, delay)
		if !retry.Sleep(ctx, delay) {
			return nil
		}
	}
}

func (c *Client) connect() (*EventConn, error) {
	path, err := c.socketPath()
	if err != nil {
		return nil, err
	}
	return Connect(path, c.logger)
}

type readResult struct {
	focus state.WindowFocus
	err   error
}

// stream forwards events until the connection ends and reports how many
// were read off the event socket.
func (c *Client) stream(ctx context.Context, conn *EventConn, emit func(state.WindowFocus)) (int, error) {
	results := make(chan readResult, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			focus, err := conn.NextEvent()
			select {
			case results <- readResult{focus: focus, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	stopOnCancel := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stopOnCancel()
		conn.Close()
	}()

	querier, err := c.newQuerier(c.opts.Strategy, CommandSocketFor(conn.Path()))
	if err != nil {
		c.logger.Warnf("active window queries disabled: %v", err)
	}
	c.resync(ctx, querier, emit)

	var tick <-chan time.Time
	if c.opts.Resync > 0 && querier != nil {
		ch, stop := c.tickerEvery(c.opts.Resync)
		defer stop()
		tick = ch
	}
	delivered := 0
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case <-tick:
			c.resync(ctx, querier, emit)
		case res := <-results:
			if res.err != nil {
				return delivered, res.err
			}
			delivered++
			c.metrics.RecordReceived("compositor")
			c.logger.Tracef("focus %s", res.focus.AppClass)
			emit(res.focus)
		}
	}
}

func (c *Client) resync(ctx context.Context, querier FocusQuerier, emit func(state.WindowFocus)) {
	if querier == nil {
		return
	}
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	focus, err := querier.ActiveWindow(qctx)
	if err != nil {
		c.logger.Debugf("active window query failed: %v", err)
		return
	}
	c.logger.Tracef("resync focus %q", focus.AppClass)
	emit(focus)
}
