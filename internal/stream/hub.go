package stream

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/forgerun/execgw/internal/execmodel"
)

// subscriber is the single sink a run's frames fan out to. send is
// buffered so a slow consumer does not stall the run's own goroutine;
// frames are dropped (not blocked on) past a short deadline, mirroring the
// teacher's broadcast fan-out's best-effort delivery.
type subscriber struct {
	id   xid.ID
	send chan Frame
}

// Hub tracks at most one live subscriber per run id (spec §4.7). It holds
// no history: a subscriber that attaches after frames were emitted has
// missed them, by design (documented limitation, spec §4.7).
type Hub struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: map[string]*subscriber{}}
}

// Subscribe attaches a new subscriber for runID, replacing any existing
// one (the spec makes no promise about displacement behavior beyond "at
// most one active subscriber"; the newest attach wins). It immediately
// emits a `connected` frame, satisfying the ordering guarantee that
// `connected` precedes everything else the subscriber sees.
func (h *Hub) Subscribe(runID string) (<-chan Frame, func()) {
	sub := &subscriber{id: xid.New(), send: make(chan Frame, 64)}

	h.mu.Lock()
	h.subs[runID] = sub
	h.mu.Unlock()

	sub.send <- Frame{Type: FrameConnected, RunID: runID, Timestamp: now()}

	detach := func() {
		h.mu.Lock()
		if h.subs[runID] == sub {
			delete(h.subs, runID)
		}
		h.mu.Unlock()
	}
	return sub.send, detach
}

func (h *Hub) current(runID string) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[runID]
	return sub, ok
}

func (h *Hub) emit(runID string, frame Frame) {
	sub, ok := h.current(runID)
	if !ok {
		return
	}
	select {
	case sub.send <- frame:
	case <-time.After(500 * time.Millisecond):
	}
}

// Status emits a coarse stage-transition frame.
func (h *Hub) Status(runID, stage string) {
	h.emit(runID, Frame{Type: FrameStatus, RunID: runID, Timestamp: now(), Stage: stage})
}

// Stdout forwards an incremental stdout chunk as text.
func (h *Hub) Stdout(runID string, chunk []byte) {
	h.emit(runID, Frame{Type: FrameStdout, RunID: runID, Timestamp: now(), Text: string(chunk)})
}

// Stderr forwards an incremental stderr chunk as text.
func (h *Hub) Stderr(runID string, chunk []byte) {
	h.emit(runID, Frame{Type: FrameStderr, RunID: runID, Timestamp: now(), Text: string(chunk)})
}

// Complete emits the terminal frame carrying the full run record and
// detaches the subscriber: spec §4.7 promises at most one terminal frame
// and the subscription closing shortly after.
func (h *Hub) Complete(runID string, record execmodel.RunRecord) {
	h.emit(runID, Frame{Type: FrameComplete, RunID: runID, Timestamp: now(), Record: &record})
	h.closeSub(runID)
}

// Error emits the terminal error frame for an uncaught failure during the
// asynchronous run and detaches the subscriber.
func (h *Hub) Error(runID string, message string) {
	h.emit(runID, Frame{Type: FrameError, RunID: runID, Timestamp: now(), Message: message})
	h.closeSub(runID)
}

func (h *Hub) closeSub(runID string) {
	h.mu.Lock()
	sub, ok := h.subs[runID]
	if ok {
		delete(h.subs, runID)
	}
	h.mu.Unlock()
	if ok {
		close(sub.send)
	}
}

// Sink adapts a Hub to the internal/sandbox.Sink interface for a single
// run id, so the orchestrator can hand the sandbox runner a sink without
// either package depending on the other's concrete types.
type Sink struct {
	hub   *Hub
	runID string
}

func NewSink(hub *Hub, runID string) *Sink {
	return &Sink{hub: hub, runID: runID}
}

func (s *Sink) Stdout(chunk []byte)   { s.hub.Stdout(s.runID, chunk) }
func (s *Sink) Stderr(chunk []byte)   { s.hub.Stderr(s.runID, chunk) }
func (s *Sink) Status(stage string)   { s.hub.Status(s.runID, stage) }

// now is a seam so tests can't accidentally depend on wall-clock ordering;
// production always uses time.Now.
var now = func() time.Time { return time.Now() }
