package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rlvgl/backtide/pkg/config"
	"github.com/rlvgl/backtide/pkg/engine"
	"github.com/rlvgl/backtide/pkg/events"
	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rs/zerolog"
)

// Worker assembles an engine from a config document and runs it to
// completion in its own process, forwarding every pipeline event to
// the parent over the framed IPC stream. One worker serves one run.
type Worker struct {
	runID  string
	out    *json.Encoder
	logger zerolog.Logger

	lastProgress float64
}

// New creates a worker writing frames to out
func New(runID string, out io.Writer) *Worker {
	return &Worker{
		runID:  runID,
		out:    json.NewEncoder(out),
		logger: log.WithRunID(runID),
	}
}

// Run parses the config, drives the engine, and returns the process
// exit code. A structured status frame always precedes a non-zero
// exit on the clean paths; the controller falls back to the exit
// code when the process dies without one.
func (w *Worker) Run(ctx context.Context, cfgBytes []byte) int {
	doc, err := config.Parse(cfgBytes, false)
	if err != nil {
		return w.fail(types.ExitConfigInvalid, err)
	}

	eng, err := config.Build(doc, config.BuildOptions{
		RunID:      w.runID,
		ProgressFn: w.progress,
		EventSink:  w.relay,
	})
	if err != nil {
		return w.fail(types.ExitConfigInvalid, err)
	}

	summary, err := eng.Run(ctx)
	switch {
	case err == nil:
		w.status(&StatusFrame{
			Status:   types.RunSucceeded,
			ExitCode: types.ExitOK,
			Bars:     summary.BarsProcessed,
			Fills:    summary.Fills,
			Equity:   summary.FinalEquity,
		})
		return types.ExitOK

	case errors.Is(err, engine.ErrCanceled):
		w.status(&StatusFrame{
			Status:   types.RunCanceled,
			Error:    err.Error(),
			ExitCode: types.ExitCanceled,
			Bars:     summary.BarsProcessed,
			Fills:    summary.Fills,
			Equity:   summary.FinalEquity,
		})
		return types.ExitCanceled

	default:
		code := types.ExitInternalError
		var feedErr *engine.FeedError
		if errors.As(err, &feedErr) {
			code = types.ExitFeedError
		}
		return w.fail(code, err)
	}
}

// relay projects one bus event into an IPC frame. The encoder write
// blocks when the parent is congested; that back-pressure is the
// contract.
func (w *Worker) relay(ev types.Event) {
	rec, err := events.Project(ev)
	if err != nil {
		w.logger.Error().Err(err).Msg("Event projection failed")
		return
	}
	w.send(&Frame{Type: FrameEvent, Event: rec})
}

// progress forwards checkpoint updates, thinned to whole-percent
// steps so long runs do not flood the channel.
func (w *Worker) progress(p float64) {
	if p-w.lastProgress < 0.01 && p < 1 {
		return
	}
	w.lastProgress = p
	w.send(&Frame{Type: FrameProgress, Progress: p})
}

func (w *Worker) fail(code int, err error) int {
	w.logger.Error().Err(err).Int("exit_code", code).Msg("Run failed")
	w.status(&StatusFrame{Status: types.RunFailed, Error: err.Error(), ExitCode: code})
	return code
}

func (w *Worker) status(s *StatusFrame) {
	w.send(&Frame{Type: FrameStatus, Status: s})
}

func (w *Worker) send(f *Frame) {
	if err := w.out.Encode(f); err != nil {
		// The parent is gone; nothing sensible left to do but stop
		// quietly. The engine notices on the next checkpoint.
		w.logger.Warn().Err(err).Msg("IPC write failed")
	}
}
