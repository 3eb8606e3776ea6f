package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rlvgl/backtide/pkg/engine"
	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

func TestInMemoryFeedOrder(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := []*types.Bar{
		{Symbol: "AAPL", Timestamp: base.Add(2 * time.Hour), Close: 3},
		{Symbol: "AAPL", Timestamp: base, Close: 1},
		{Symbol: "AAPL", Timestamp: base.Add(time.Hour), Close: 2},
	}

	f := NewInMemoryFeed(bars)
	assert.Equal(t, 3, f.Size())

	var closes []float64
	for {
		bar, sig, err := f.Next(context.Background())
		require.NoError(t, err)
		if sig == engine.FeedEnd {
			break
		}
		closes = append(closes, bar.Close)
	}
	assert.Equal(t, []float64{1, 2, 3}, closes)
}

func TestInMemoryFeedEmpty(t *testing.T) {
	f := NewInMemoryFeed(nil)
	bar, sig, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, bar)
	assert.Equal(t, engine.FeedEnd, sig)
}

func TestCSVFeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.csv")
	content := strings.Join([]string{
		"timestamp,open,high,low,close,volume,amount",
		"2024-01-02,100,101,99,100.5,10000,1005000",
		"2024-01-03,100.5,102,100,101.5,12000,1218000",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	f, err := NewCSVFeed(path, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Size())

	bar, sig, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.FeedBar, sig)
	assert.Equal(t, "AAPL", bar.Symbol)
	assert.Equal(t, 100.5, bar.Close)
	assert.Equal(t, float64(10000), bar.Volume)
}

func TestCSVFeedMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("2024-01-02,100,abc,99,100.5,10000"), 0644))

	_, err := NewCSVFeed(path, "AAPL")
	assert.Error(t, err)
}

// wsTestServer streams the given frames to the first client, then
// holds the connection open.
func wsTestServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drain the subscribe request.
		_, _, _ = conn.ReadMessage()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Keep open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketFeedBarsAndGap(t *testing.T) {
	srv := wsTestServer(t, []string{
		`{"symbol":"AAPL","seq":1,"ts":1704153600000,"open":100,"high":101,"low":99,"close":100.5,"volume":1000}`,
		`{"symbol":"AAPL","seq":2,"ts":1704153660000,"open":100.5,"high":101,"low":100,"close":100.8,"volume":900}`,
		`{"symbol":"AAPL","seq":5,"ts":1704153720000,"open":100.8,"high":102,"low":100,"close":101.9,"volume":1100}`,
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := NewWebSocketFeed(WSConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols:           []string{"AAPL"},
		HeartbeatInterval: 2 * time.Second,
	})
	require.NoError(t, err)

	var signals []engine.FeedSignal
	for i := 0; i < 4; i++ {
		_, sig, err := f.Next(ctx)
		require.NoError(t, err)
		signals = append(signals, sig)
	}

	// Two clean bars, then the seq 2->5 jump surfaces as a gap signal
	// followed by the bar itself.
	assert.Equal(t, []engine.FeedSignal{engine.FeedBar, engine.FeedBar, engine.FeedGap, engine.FeedBar}, signals)
}

func TestWebSocketFeedHeartbeat(t *testing.T) {
	srv := wsTestServer(t, nil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := NewWebSocketFeed(WSConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		HeartbeatInterval: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	_, sig, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.FeedHeartbeat, sig)
}
