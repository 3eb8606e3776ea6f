package worker

import (
	"github.com/rlvgl/backtide/pkg/types"
)

// FrameType tags one IPC record
type FrameType string

const (
	FrameEvent    FrameType = "event"
	FrameProgress FrameType = "progress"
	FrameLog      FrameType = "log"
	FrameStatus   FrameType = "status"
)

// Frame is one record of the worker-to-controller IPC stream. The
// stream is newline-delimited JSON on the worker's stdout: a totally
// ordered sequence, flushed per frame, with back-pressure carried by
// the pipe — when the controller's relay falls behind, the worker's
// write blocks and the engine's feed step stalls with it.
type Frame struct {
	Type     FrameType          `json:"type"`
	Event    *types.EventRecord `json:"event,omitempty"`
	Progress float64            `json:"progress,omitempty"`
	Level    string             `json:"level,omitempty"`
	Message  string             `json:"message,omitempty"`
	Status   *StatusFrame       `json:"status,omitempty"`
}

// StatusFrame is the terminal record of a stream
type StatusFrame struct {
	Status   types.RunStatus `json:"status"` // succeeded, failed, canceled
	Error    string          `json:"error,omitempty"`
	ExitCode int             `json:"exit_code"`
	Bars     int             `json:"bars"`
	Fills    int             `json:"fills"`
	Equity   float64         `json:"equity"`
}
