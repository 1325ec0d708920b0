package engine

import (
	"context"
	"errors"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/metrics"
	"github.com/EvanSunde/Sinodragon/internal/sink"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

// ErrSinkTimeout reports a frame the sink did not accept within the deadline.
var ErrSinkTimeout = errors.New("led sink timed out")

const (
	defaultSinkQueueSize = 4
	defaultSinkTimeout   = 250 * time.Millisecond
)

// emitter hands frames to the sink off the engine goroutine. The queue is
// bounded; when it is full the oldest pending frame is dropped, since a
// newer frame fully supersedes it.
type emitter struct {
	sink     sink.Sink
	timeout  time.Duration
	queue    chan sink.Frame
	failures chan uint64
	logger   *util.Logger
	metrics  *metrics.Collector
}

func newEmitter(s sink.Sink, queueSize int, timeout time.Duration, logger *util.Logger, m *metrics.Collector) *emitter {
	if queueSize <= 0 {
		queueSize = defaultSinkQueueSize
	}
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &emitter{
		sink:     s,
		timeout:  timeout,
		queue:    make(chan sink.Frame, queueSize),
		failures: make(chan uint64, 1),
		logger:   logger,
		metrics:  m,
	}
}

// submit never blocks. It must only be called from the engine goroutine.
func (em *emitter) submit(frame sink.Frame) {
	for {
		select {
		case em.queue <- frame:
			return
		default:
		}
		select {
		case old := <-em.queue:
			em.metrics.RecordFrame(metrics.FrameDropped)
			em.logger.Debugf("dropping superseded frame %d", old.Seq)
		default:
		}
	}
}

func (em *emitter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-em.queue:
			em.apply(ctx, frame)
		}
	}
}

func (em *emitter) apply(ctx context.Context, frame sink.Frame) {
	if em.sink == nil {
		em.metrics.RecordFrame(metrics.FrameEmitted)
		return
	}
	actx, cancel := context.WithTimeout(ctx, em.timeout)
	err := em.sink.Apply(actx, frame)
	expired := errors.Is(actx.Err(), context.DeadlineExceeded)
	cancel()
	switch {
	case err == nil:
		em.metrics.RecordFrame(metrics.FrameEmitted)
		return
	case ctx.Err() != nil:
		return
	case expired:
		err = ErrSinkTimeout
		em.metrics.RecordFrame(metrics.FrameTimeout)
	default:
		em.metrics.RecordFrame(metrics.FrameFailed)
	}
	em.logger.Warnf("frame %d (%s) not applied: %v", frame.Seq, frame.State, err)
	em.reportFailure(frame.Seq)
}

// reportFailure keeps only the most recent failed sequence number.
func (em *emitter) reportFailure(seq uint64) {
	for {
		select {
		case em.failures <- seq:
			return
		default:
		}
		select {
		case <-em.failures:
		default:
		}
	}
}
