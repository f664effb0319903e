// Package stream implements the optional streaming sibling of the
// synchronous orchestrator path (spec §4.7): a run id is returned
// immediately, a single subscriber may attach to watch live frames, and a
// terminal frame carries the same run record the synchronous path would
// have returned. Grounded on the teacher's
// internal/runner/statebroadcast.go fan-out pattern, narrowed from
// many-listeners-per-topic to spec §4.7's "at most one subscriber per
// run id".
package stream

import (
	"time"

	"github.com/forgerun/execgw/internal/execmodel"
)

// FrameKind is the closed tagged-union discriminator for stream frames.
type FrameKind string

const (
	FrameConnected FrameKind = "connected"
	FrameStatus    FrameKind = "status"
	FrameStdout    FrameKind = "stdout"
	FrameStderr    FrameKind = "stderr"
	FrameComplete  FrameKind = "complete"
	FrameError     FrameKind = "error"
)

// Frame is the JSON-encoded tagged union a subscriber receives. Only the
// fields relevant to Type are populated; the others are zero-valued.
type Frame struct {
	Type      FrameKind            `json:"type"`
	RunID     string                `json:"runId"`
	Timestamp time.Time             `json:"timestamp"`
	Stage     string                `json:"stage,omitempty"`
	Text      string                `json:"text,omitempty"`
	Record    *execmodel.RunRecord  `json:"record,omitempty"`
	Message   string                `json:"message,omitempty"`
}
