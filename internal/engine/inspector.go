package engine

import (
	"sync"
	"time"

	"github.com/EvanSunde/Sinodragon/internal/state"
)

const inspectorHistoryLimit = 128

// Transition records one processed event and its outcome.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Emitted   bool      `json:"emitted"`
	Seq       uint64    `json:"seq,omitempty"`
}

// Snapshot is the externally visible engine state after the last event.
type Snapshot struct {
	State           string            `json:"state"`
	Kind            string            `json:"kind"`
	AppID           string            `json:"appId,omitempty"`
	Combo           string            `json:"combo,omitempty"`
	Held            string            `json:"held,omitempty"`
	Focus           state.WindowFocus `json:"focus"`
	Keys            state.Mapping     `json:"keys"`
	FrameSeq        uint64            `json:"frameSeq"`
	BridgeAvailable bool              `json:"bridgeAvailable"`
	QueueDepth      int               `json:"queueDepth"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

type transitionLog struct {
	mu      sync.Mutex
	entries []Transition
	limit   int
}

func newTransitionLog(limit int) *transitionLog {
	if limit <= 0 {
		limit = inspectorHistoryLimit
	}
	return &transitionLog{limit: limit}
}

func (l *transitionLog) record(entry Transition) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == l.limit {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.limit-1]
	}
	l.entries = append(l.entries, entry)
}

func (l *transitionLog) snapshot() []Transition {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	return append([]Transition(nil), l.entries...)
}
