package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

const workerDoc = `
name: worker-test
data_feed:
  type: inmemory
  bars:
    - {symbol: AAPL, ts: "2024-01-02T00:00:00Z", open: 100, high: 101, low: 99, close: 100.5, volume: 10000}
    - {symbol: AAPL, ts: "2024-01-03T00:00:00Z", open: 100.5, high: 102, low: 100, close: 101.5, volume: 12000}
    - {symbol: AAPL, ts: "2024-01-04T00:00:00Z", open: 101.5, high: 103, low: 101, close: 102.5, volume: 11000}
strategies:
  - type: moving_average
    symbol: AAPL
    short: 2
    long: 3
portfolio:
  lot_size: 100
  initial_cash: 100000
execution:
  fill_timing: next_open
reporters:
  - type: equity
`

func decodeFrames(t *testing.T, buf *bytes.Buffer) []*Frame {
	t.Helper()
	var frames []*Frame
	scanner := bufio.NewScanner(buf)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var f Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f))
		frames = append(frames, &f)
	}
	require.NoError(t, scanner.Err())
	return frames
}

func TestWorkerRunEmitsOrderedFramesAndStatus(t *testing.T) {
	var buf bytes.Buffer
	w := New("run-1", &buf)

	code := w.Run(context.Background(), []byte(workerDoc))
	assert.Equal(t, types.ExitOK, code)

	frames := decodeFrames(t, &buf)
	require.NotEmpty(t, frames)

	// The stream ends with exactly one terminal status frame.
	last := frames[len(frames)-1]
	require.Equal(t, FrameStatus, last.Type)
	assert.Equal(t, types.RunSucceeded, last.Status.Status)
	assert.Equal(t, 3, last.Status.Bars)

	// Event frames carry monotonically increasing sequence numbers.
	var lastSeq uint64
	var markets int
	for _, f := range frames {
		if f.Type != FrameEvent {
			continue
		}
		require.NotNil(t, f.Event)
		assert.Greater(t, f.Event.Seq, lastSeq)
		lastSeq = f.Event.Seq
		assert.Equal(t, "run-1", f.Event.RunID)
		if f.Event.Kind == types.EventMarket {
			markets++
		}
	}
	assert.Equal(t, 3, markets)
}

func TestWorkerConfigInvalid(t *testing.T) {
	var buf bytes.Buffer
	w := New("run-1", &buf)

	code := w.Run(context.Background(), []byte("name: broken\n"))
	assert.Equal(t, types.ExitConfigInvalid, code)

	frames := decodeFrames(t, &buf)
	require.Len(t, frames, 1)
	require.Equal(t, FrameStatus, frames[0].Type)
	assert.Equal(t, types.RunFailed, frames[0].Status.Status)
	assert.NotEmpty(t, frames[0].Status.Error)
}

func TestWorkerCanceled(t *testing.T) {
	var buf bytes.Buffer
	w := New("run-1", &buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := w.Run(ctx, []byte(workerDoc))
	assert.Equal(t, types.ExitCanceled, code)

	frames := decodeFrames(t, &buf)
	last := frames[len(frames)-1]
	require.Equal(t, FrameStatus, last.Type)
	assert.Equal(t, types.RunCanceled, last.Status.Status)
}
