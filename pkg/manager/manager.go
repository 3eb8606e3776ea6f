package manager

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rlvgl/backtide/pkg/config"
	"github.com/rlvgl/backtide/pkg/events"
	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/metrics"
	"github.com/rlvgl/backtide/pkg/notify"
	"github.com/rlvgl/backtide/pkg/outbox"
	"github.com/rlvgl/backtide/pkg/storage"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rlvgl/backtide/pkg/worker"
)

var (
	// ErrResourceExhausted is returned when both the run slots and
	// the wait queue are full.
	ErrResourceExhausted = errors.New("manager: resource exhausted")

	// ErrRunTerminal is returned when an operation targets a run
	// that already finished.
	ErrRunTerminal = errors.New("manager: run is terminal")
)

// Config holds configuration for creating a Manager
type Config struct {
	DataDir           string
	WorkerBinary      string // empty: current executable
	MaxConcurrentRuns int
	QueueCap          int
	RingSize          int
	WriteDeadline     time.Duration
	CancelGrace       time.Duration
	RetentionTTL      time.Duration // 0 disables eviction
	RetentionSpec     string        // cron spec for the retention job
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 4
	}
	if c.QueueCap <= 0 {
		c.QueueCap = 32
	}
	if c.RingSize <= 0 {
		c.RingSize = 256
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 30 * time.Second
	}
	if c.RetentionSpec == "" {
		c.RetentionSpec = "@every 10m"
	}
	return c
}

// activeRun tracks one spawned worker
type activeRun struct {
	cmd    *exec.Cmd
	doneCh chan struct{} // closed when the relay finishes
}

// Manager admits, spawns, relays, and cancels isolated run workers.
// It owns the only references to the run store and (through the
// bridges) the outbox; workers share nothing with it but their IPC
// pipes.
type Manager struct {
	cfg        Config
	store      storage.Store
	outbox     *outbox.Outbox
	dispatcher *outbox.Dispatcher
	logger     zerolog.Logger
	cron       *cron.Cron

	mu       sync.Mutex
	active   map[string]*activeRun
	queue    []string
	hubs     map[string]*events.Hub
	canceled map[string]bool
	wg       sync.WaitGroup
	stopped  bool
}

// NewManager creates a manager over an opened store. The outbox and
// dispatcher are optional; without them, run notifications are
// disabled. Interrupted runs from a previous controller life are
// failed with a recovery note before any new admission.
func NewManager(cfg Config, store storage.Store, ob *outbox.Outbox, disp *outbox.Dispatcher) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.WorkerBinary == "" {
		bin, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("manager: resolve worker binary: %w", err)
		}
		cfg.WorkerBinary = bin
	}

	recovered, err := store.RecoverInterrupted("controller restarted while run was live")
	if err != nil {
		return nil, fmt.Errorf("manager: recover: %w", err)
	}

	m := &Manager{
		cfg:        cfg,
		store:      store,
		outbox:     ob,
		dispatcher: disp,
		logger:     log.WithComponent("manager"),
		cron:       cron.New(),
		active:     make(map[string]*activeRun),
		hubs:       make(map[string]*events.Hub),
		canceled:   make(map[string]bool),
	}
	if recovered > 0 {
		m.logger.Warn().Int("recovered", recovered).Msg("Failed interrupted runs from previous life")
	}

	if cfg.RetentionTTL > 0 {
		if _, err := m.cron.AddFunc(cfg.RetentionSpec, m.evict); err != nil {
			return nil, fmt.Errorf("manager: retention schedule: %w", err)
		}
	}
	if _, err := m.cron.AddFunc("@every 15s", m.refreshGauges); err != nil {
		return nil, fmt.Errorf("manager: gauge schedule: %w", err)
	}
	return m, nil
}

// Start begins the background jobs
func (m *Manager) Start() {
	m.cron.Start()
}

// Stop cancels every live run and waits for relays to drain
func (m *Manager) Stop() {
	m.cron.Stop()

	m.mu.Lock()
	m.stopped = true
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Cancel(id); err != nil {
			m.logger.Warn().Err(err).Str("run_id", id).Msg("Cancel on shutdown failed")
		}
	}
	m.wg.Wait()
}

// Submit validates a config document, persists a pending run, and
// starts it immediately when a slot is free. At capacity the run
// waits in a bounded FIFO queue; queue overflow fails with
// ErrResourceExhausted.
func (m *Manager) Submit(cfgBytes []byte, strict bool) (string, error) {
	doc, err := config.Parse(cfgBytes, strict)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return "", errors.New("manager: shutting down")
	}
	if len(m.active) >= m.cfg.MaxConcurrentRuns && len(m.queue) >= m.cfg.QueueCap {
		return "", fmt.Errorf("%w: %d active, %d queued", ErrResourceExhausted, len(m.active), len(m.queue))
	}

	now := time.Now().UTC()
	run := &types.Run{
		ID:        uuid.New().String(),
		Name:      doc.Name,
		Config:    string(cfgBytes),
		Status:    types.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateRun(run); err != nil {
		return "", fmt.Errorf("manager: persist run: %w", err)
	}

	m.hubs[run.ID] = events.NewHub(m.cfg.RingSize, m.cfg.WriteDeadline)

	if len(m.active) < m.cfg.MaxConcurrentRuns {
		if err := m.startLocked(run); err != nil {
			_ = m.store.SetStatus(run.ID, types.RunFailed, err.Error())
			m.closeHubLocked(run.ID)
			return "", err
		}
	} else {
		m.queue = append(m.queue, run.ID)
		metrics.QueuedRuns.Set(float64(len(m.queue)))
		m.logger.Info().Str("run_id", run.ID).Int("position", len(m.queue)).Msg("Run queued")
	}
	return run.ID, nil
}

// startLocked spawns the worker process for a pending run. Callers
// hold m.mu.
func (m *Manager) startLocked(run *types.Run) error {
	cmd := exec.Command(m.cfg.WorkerBinary, "worker", "--run-id", run.ID)
	cmd.Stdin = strings.NewReader(run.Config)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("manager: stdout pipe: %w", err)
	}

	if err := m.store.SetStatus(run.ID, types.RunRunning, ""); err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		_ = m.store.SetStatus(run.ID, types.RunFailed, fmt.Sprintf("spawn: %v", err))
		return fmt.Errorf("manager: spawn worker: %w", err)
	}

	ar := &activeRun{cmd: cmd, doneCh: make(chan struct{})}
	m.active[run.ID] = ar
	metrics.ActiveRuns.Set(float64(len(m.active)))

	bridges := m.bridgesFor(run)

	m.wg.Add(1)
	go m.relay(run.ID, ar, bufio.NewReaderSize(stdout, 1<<20), bridges)

	m.logger.Info().Str("run_id", run.ID).Str("name", run.Name).Msg("Run started")
	return nil
}

// bridgesFor builds one signal bridge per configured notification
// channel and registers the channel's adapter with the dispatcher.
func (m *Manager) bridgesFor(run *types.Run) []*notify.Bridge {
	if m.outbox == nil {
		return nil
	}
	doc, err := config.Parse([]byte(run.Config), false)
	if err != nil || doc.Notifications == nil || !doc.Notifications.Enabled {
		return nil
	}
	n := doc.Notifications

	var bridges []*notify.Bridge
	for _, ch := range n.Channels {
		ref := ch.Type + ":" + ch.Destination
		if m.dispatcher != nil {
			adapter, err := notify.NewAdapter(ch)
			if err != nil {
				m.logger.Error().Err(err).Str("channel", ref).Msg("Channel adapter construction failed")
				continue
			}
			m.dispatcher.RegisterChannel(ref, adapter)
		}

		minSev := n.MinLevel
		if ch.MinSeverity != "" {
			minSev = ch.MinSeverity
		}
		bridges = append(bridges, notify.NewBridge(notify.BridgeConfig{
			MinSeverity:      minSev,
			DedupeTTLSeconds: n.DedupeTTLSeconds,
			Channel:          ref,
		}))
	}
	return bridges
}

// relay is the dedicated reader of one worker's IPC stream. Events
// are journaled, fanned out, and bridged to the outbox in stream
// order; the terminal frame (or, failing that, the exit code)
// decides the run's final status.
func (m *Manager) relay(runID string, ar *activeRun, r *bufio.Reader, bridges []*notify.Bridge) {
	defer m.wg.Done()
	logger := log.WithRunID(runID)
	timer := metrics.NewTimer()

	m.mu.Lock()
	hub := m.hubs[runID]
	m.mu.Unlock()

	var terminal *worker.StatusFrame

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var frame worker.Frame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			logger.Warn().Err(err).Msg("Malformed IPC frame, skipping")
			continue
		}

		switch frame.Type {
		case worker.FrameEvent:
			if frame.Event == nil {
				continue
			}
			if err := m.store.AppendEvent(runID, frame.Event); err != nil {
				logger.Error().Err(err).Msg("Event journal append failed")
			}
			if hub != nil {
				hub.Publish(frame.Event)
			}
			metrics.EventsRelayed.WithLabelValues(string(frame.Event.Kind)).Inc()
			m.bridge(logger, bridges, frame.Event)

		case worker.FrameProgress:
			if err := m.store.SetProgress(runID, frame.Progress); err != nil {
				logger.Error().Err(err).Msg("Progress update failed")
			}

		case worker.FrameLog:
			logger.Info().Str("worker_level", frame.Level).Msg(frame.Message)

		case worker.FrameStatus:
			terminal = frame.Status
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("IPC stream read failed")
	}

	waitErr := ar.cmd.Wait()
	ar.relayDone()
	metrics.RunDuration.Observe(timer.Duration().Seconds())

	m.mu.Lock()
	wasCanceled := m.canceled[runID]
	delete(m.canceled, runID)
	m.mu.Unlock()

	status := types.RunFailed
	lastErr := ""
	switch {
	case terminal != nil:
		status = terminal.Status
		lastErr = terminal.Error
	case wasCanceled:
		status = types.RunCanceled
		lastErr = "worker killed after cancel grace period"
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == types.ExitCanceled {
			status = types.RunCanceled
			lastErr = "worker exited with the canceled exit code"
			break
		}
		lastErr = fmt.Sprintf("worker crashed: %v", waitErr)
	default:
		lastErr = "worker exited without a status frame"
	}

	if err := m.store.SetStatus(runID, status, lastErr); err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("Terminal status update failed")
	}
	logger.Info().Str("status", string(status)).Msg("Run finished")

	m.mu.Lock()
	delete(m.active, runID)
	m.closeHubLocked(runID)
	metrics.ActiveRuns.Set(float64(len(m.active)))
	m.startNextLocked()
	m.mu.Unlock()
}

func (m *Manager) bridge(logger zerolog.Logger, bridges []*notify.Bridge, rec *types.EventRecord) {
	for _, b := range bridges {
		intent, err := b.IntentFor(rec)
		if err != nil {
			logger.Warn().Err(err).Msg("Intent mapping failed")
			continue
		}
		if intent == nil {
			continue
		}
		if _, err := m.outbox.Enqueue(intent); err != nil {
			logger.Error().Err(err).Str("intent_id", intent.ID).Msg("Intent enqueue failed")
		}
	}
}

// startNextLocked admits the oldest queued run. Callers hold m.mu.
func (m *Manager) startNextLocked() {
	for len(m.queue) > 0 && len(m.active) < m.cfg.MaxConcurrentRuns && !m.stopped {
		runID := m.queue[0]
		m.queue = m.queue[1:]
		metrics.QueuedRuns.Set(float64(len(m.queue)))

		run, err := m.store.GetRun(runID)
		if err != nil {
			m.logger.Error().Err(err).Str("run_id", runID).Msg("Queued run vanished")
			continue
		}
		if run.Status != types.RunPending {
			// Canceled while queued.
			continue
		}
		if err := m.startLocked(run); err != nil {
			m.logger.Error().Err(err).Str("run_id", runID).Msg("Queued run failed to start")
			_ = m.store.SetStatus(runID, types.RunFailed, err.Error())
			m.closeHubLocked(runID)
		}
	}
}

// Cancel delivers the cooperative cancel signal to a live run's
// worker and escalates to a kill after the grace period. A queued
// run is canceled in place.
func (m *Manager) Cancel(runID string) error {
	m.mu.Lock()

	// Queued: remove and cancel directly.
	for i, id := range m.queue {
		if id == runID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			metrics.QueuedRuns.Set(float64(len(m.queue)))
			m.closeHubLocked(runID)
			m.mu.Unlock()
			return m.store.SetStatus(runID, types.RunCanceled, "canceled while queued")
		}
	}

	ar, ok := m.active[runID]
	if !ok {
		m.mu.Unlock()
		run, err := m.store.GetRun(runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrRunTerminal, run.Status)
		}
		return m.store.SetStatus(runID, types.RunCanceled, "canceled before start")
	}
	m.canceled[runID] = true
	m.mu.Unlock()

	if err := ar.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		m.logger.Warn().Err(err).Str("run_id", runID).Msg("Cancel signal failed")
	}

	// Escalate if the worker ignores the cooperative token.
	go func() {
		select {
		case <-ar.doneCh:
		case <-time.After(m.cfg.CancelGrace):
			m.logger.Warn().Str("run_id", runID).Msg("Cancel grace expired, killing worker")
			_ = ar.cmd.Process.Kill()
		}
	}()
	return nil
}

// Stream returns the run's event sequence: ring-buffered history
// first, then live events until the run terminates. Terminal runs
// replay their journaled log. The returned cancel function releases
// the subscription.
func (m *Manager) Stream(runID string) (<-chan *types.EventRecord, func(), error) {
	m.mu.Lock()
	hub, live := m.hubs[runID]
	m.mu.Unlock()

	if live {
		if sub := hub.Subscribe(); sub != nil {
			return sub, func() { hub.Unsubscribe(sub) }, nil
		}
	}

	// Terminal (or just-closed) run: replay the journal.
	recs, err := m.store.Events(runID, 0, 0)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan *types.EventRecord, len(recs))
	for _, rec := range recs {
		ch <- rec
	}
	close(ch)
	return ch, func() {}, nil
}

// Get returns one run record
func (m *Manager) Get(runID string) (*types.Run, error) {
	return m.store.GetRun(runID)
}

// List returns all runs, newest first
func (m *Manager) List() ([]*types.Run, error) {
	return m.store.ListRuns()
}

func (m *Manager) closeHubLocked(runID string) {
	if hub, ok := m.hubs[runID]; ok {
		hub.Close()
		delete(m.hubs, runID)
	}
}

// relayDone is closed by the relay; exposed for the cancel
// escalation path.
func (ar *activeRun) relayDone() { close(ar.doneCh) }

// evict applies the retention policy
func (m *Manager) evict() {
	cutoff := time.Now().UTC().Add(-m.cfg.RetentionTTL)
	n, err := m.store.EvictTerminalBefore(cutoff)
	if err != nil {
		m.logger.Error().Err(err).Msg("Retention eviction failed")
		return
	}
	if n > 0 {
		m.logger.Info().Int("evicted", n).Msg("Evicted terminal runs")
	}
}

// refreshGauges republishes run-status gauges from the store
func (m *Manager) refreshGauges() {
	runs, err := m.store.ListRuns()
	if err != nil {
		return
	}
	counts := make(map[types.RunStatus]int)
	for _, run := range runs {
		counts[run.Status]++
	}
	for _, status := range []types.RunStatus{
		types.RunPending, types.RunRunning, types.RunSucceeded,
		types.RunFailed, types.RunCanceled,
	} {
		metrics.RunsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
