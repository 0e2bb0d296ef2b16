package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/armbridge/armbridge/internal/fri"
	"github.com/armbridge/armbridge/internal/handoff"
	"github.com/armbridge/armbridge/internal/logging"
)

// Valid controller port band, inclusive.
const (
	PortMin = 30200
	PortMax = 30209
)

// DefaultJoinTimeout bounds the wait for the cyclic loop goroutine to
// exit on disconnect.
const DefaultJoinTimeout = time.Second

// Sentinel errors returned by the Manager.
var (
	// ErrInvalidPort is returned when the requested port lies outside
	// [PortMin, PortMax]. No side effects occur.
	ErrInvalidPort = errors.New("port outside valid band")

	// ErrJoinTimeout is returned when the cyclic loop goroutine does
	// not exit within the join timeout on disconnect. This is fatal
	// for the disconnect call: the loop is stuck and its resources
	// cannot be safely reclaimed, so the condition must reach the
	// operator rather than being swallowed.
	ErrJoinTimeout = errors.New("cyclic loop did not exit within join timeout")

	// ErrStuckLoop is returned by Connect while the previous session's
	// loop goroutine, whose join timed out, is still running. Starting
	// a second loop against the same stepper would break the
	// one-loop-per-connection guarantee.
	ErrStuckLoop = errors.New("previous cyclic loop still running")
)

// EventType classifies a lifecycle event.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventConnectFailed EventType = "connect_failed"
	EventDisconnected  EventType = "disconnected"
	EventCycleFailure  EventType = "cycle_failure"
	EventJoinTimeout   EventType = "join_timeout"
)

// Event is a lifecycle audit record.
type Event struct {
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Port      int       `json:"port,omitempty"`
	Host      string    `json:"host,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Recorder persists lifecycle events. Implementations must tolerate
// being called from the management goroutine and from the loop
// goroutine's teardown path.
type Recorder interface {
	Record(ev Event) error
}

// ConnectResult reports the outcome of Connect. Already distinguishes
// an idempotent no-op from a real transition; the external request
// contract collapses both into the same boolean, but callers in
// process can tell them apart.
type ConnectResult struct {
	Connected bool
	Already   bool
	SessionID string
}

// DisconnectResult reports the outcome of Disconnect.
type DisconnectResult struct {
	Disconnected bool
	Already      bool
}

// Status is a snapshot of the connection for monitoring.
type Status struct {
	Connected    bool             `json:"connected"`
	Port         int              `json:"port"`
	Host         string           `json:"host,omitempty"`
	SessionID    string           `json:"session_id,omitempty"`
	SessionState fri.SessionState `json:"session_state"`
	Cycles       uint64           `json:"cycles"`
	PublishSkips uint64           `json:"publish_skips"`
	CommandDrops uint64           `json:"command_drops"`
	LastExit     string           `json:"last_exit,omitempty"`
}

// Options configures a Manager.
type Options struct {
	Stepper  fri.Stepper
	Commands *handoff.Handoff[fri.Command]
	Sink     StateSink
	Logger   *logging.Logger
	Recorder Recorder // optional

	// JoinTimeout bounds the disconnect join; DefaultJoinTimeout when
	// zero.
	JoinTimeout time.Duration
}

// Manager owns the connect/disconnect state machine and the lifetime
// of the single cyclic loop goroutine. All lifecycle methods are safe
// for concurrent use; at most one loop goroutine exists at any time.
type Manager struct {
	stepper     fri.Stepper
	commands    *handoff.Handoff[fri.Command]
	sink        StateSink
	log         *logging.Logger
	rec         Recorder
	joinTimeout time.Duration

	mu         sync.Mutex
	cond       *sync.Cond
	connecting bool
	connected  atomic.Bool
	port       int
	host       string
	sessionID  string
	loop       *Loop
	done       chan struct{}
	lastExit   string

	// Lifetime totals across sessions, so monitoring counters stay
	// monotonic over reconnects.
	cyclesTotal atomic.Uint64
	skipsTotal  atomic.Uint64
}

// NewManager creates a Manager in the disconnected state with the
// default port recorded. Construction is fallible so callers handle
// setup errors as values.
func NewManager(opts Options) (*Manager, error) {
	if opts.Stepper == nil {
		return nil, errors.New("stepper is required")
	}
	if opts.Commands == nil {
		return nil, errors.New("command handoff is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("state sink is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	joinTimeout := opts.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	m := &Manager{
		stepper:     opts.Stepper,
		commands:    opts.Commands,
		sink:        opts.Sink,
		log:         log,
		rec:         opts.Recorder,
		joinTimeout: joinTimeout,
		port:        PortMin,
	}
	m.cond = sync.NewCond(&m.mu)
	return m, nil
}

// ValidPort reports whether port lies in the controller's band.
func ValidPort(port int) bool {
	return port >= PortMin && port <= PortMax
}

// Connect validates the port, performs the session handshake, and on
// success starts the cyclic loop goroutine. Connecting while already
// connected is an idempotent no-op: no second handshake, no second
// goroutine. host may be empty to accept the configured default.
//
// While the previous session's loop is still alive after a timed-out
// join, Connect refuses with ErrStuckLoop: a second loop against the
// same stepper would break the one-loop-per-connection guarantee.
//
// ctx bounds the lifetime of the spawned loop: when it is cancelled
// the loop exits at its next iteration check.
func (m *Manager) Connect(ctx context.Context, port int, host string) (ConnectResult, error) {
	if !ValidPort(port) {
		m.log.Error("connect rejected", "port", port, "min", PortMin, "max", PortMax)
		return ConnectResult{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPort, port, PortMin, PortMax)
	}

	m.mu.Lock()
	for {
		if m.connected.Load() {
			curPort, curSession := m.port, m.sessionID
			m.mu.Unlock()
			m.log.Info("already connected", "port", curPort, "session", curSession)
			return ConnectResult{Connected: true, Already: true, SessionID: curSession}, nil
		}
		if !m.connecting {
			break
		}
		// Another Connect holds the handshake; wait for its outcome
		// rather than racing a second handshake.
		m.cond.Wait()
	}
	if m.done != nil {
		select {
		case <-m.done:
			m.done = nil
		default:
			m.mu.Unlock()
			m.log.Error("connect refused, previous loop not joined", "port", port)
			return ConnectResult{}, ErrStuckLoop
		}
	}
	m.connecting = true
	m.mu.Unlock()

	// The handshake can block for its full network timeout; it runs
	// outside the lock so status snapshots stay responsive.
	m.log.Info("connecting to controller", "port", port, "host", host)
	err := m.stepper.Connect(port, host)

	m.mu.Lock()
	m.connecting = false
	m.cond.Broadcast()
	if err != nil {
		m.mu.Unlock()
		m.log.Warn("handshake failed", "port", port, "err", err)
		m.record(Event{Type: EventConnectFailed, Port: port, Host: host, Detail: err.Error()})
		return ConnectResult{}, fmt.Errorf("handshake: %w", err)
	}

	m.port = port
	m.host = host
	m.sessionID = uuid.NewString()
	m.connected.Store(true)
	m.done = make(chan struct{})
	m.loop = NewLoop(m.stepper, m.commands, m.sink, m.log.With("session", m.sessionID))

	go m.runLoop(ctx, m.loop, m.done, m.sessionID)
	sessionID := m.sessionID
	m.mu.Unlock()

	m.log.Info("connected", "port", port, "session", sessionID)
	m.record(Event{Type: EventConnected, SessionID: sessionID, Port: port, Host: host})
	return ConnectResult{Connected: true, SessionID: sessionID}, nil
}

// runLoop drives the cyclic loop and performs teardown when it exits
// on its own (step failure or shutdown): the stepper is disconnected
// and the connection flag cleared, so a later Disconnect call is an
// idempotent no-op.
func (m *Manager) runLoop(ctx context.Context, loop *Loop, done chan struct{}, sessionID string) {
	res := loop.Run(ctx)

	m.mu.Lock()
	m.cyclesTotal.Add(loop.Cycles())
	m.skipsTotal.Add(loop.PublishSkips())
	// Only the current loop may tear the session down. A stale loop
	// must never clear a successor's connection or disconnect its
	// stepper session.
	if m.loop == loop {
		m.lastExit = res.Reason.String()
		m.loop = nil
		if m.connected.Load() {
			// The loop exited without an external disconnect request.
			m.connected.Store(false)
			if err := m.stepper.Disconnect(); err != nil {
				m.log.Warn("stepper disconnect failed", "err", err)
			}
		}
	}
	m.mu.Unlock()
	close(done)

	if res.Reason == ExitReasonStepFailure {
		m.record(Event{Type: EventCycleFailure, SessionID: sessionID, Detail: res.Err.Error()})
	}
	m.log.Info("cyclic loop exited", "reason", res.Reason.String(), "cycles", res.Cycles, "session", sessionID)
}

// Disconnect stops the loop, signals the stepper to unblock any
// in-flight step, and waits for the loop goroutine with a bounded
// timeout. Disconnecting while already disconnected is an idempotent
// no-op. A timed-out join returns ErrJoinTimeout; until the stuck
// goroutine finally exits, Connect refuses to start a new session.
func (m *Manager) Disconnect() (DisconnectResult, error) {
	m.mu.Lock()
	if !m.connected.Load() {
		m.mu.Unlock()
		m.log.Info("already disconnected")
		return DisconnectResult{Disconnected: true, Already: true}, nil
	}

	sessionID := m.sessionID
	m.connected.Store(false)
	if m.loop != nil {
		m.loop.Stop()
	}
	// Unblocks an in-flight step; the loop observes its stop request
	// on the next iteration.
	if err := m.stepper.Disconnect(); err != nil {
		m.log.Warn("stepper disconnect failed", "err", err)
	}
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(m.joinTimeout):
		m.log.Error("cyclic loop stuck, join timed out", "timeout", m.joinTimeout, "session", sessionID)
		m.record(Event{Type: EventJoinTimeout, SessionID: sessionID, Detail: m.joinTimeout.String()})
		return DisconnectResult{}, ErrJoinTimeout
	}

	m.log.Info("disconnected", "session", sessionID)
	m.record(Event{Type: EventDisconnected, SessionID: sessionID})
	return DisconnectResult{Disconnected: true}, nil
}

// Connected reports whether a live cyclic loop owns the connection.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Status returns a monitoring snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Connected:    m.connected.Load(),
		Port:         m.port,
		Host:         m.host,
		SessionID:    m.sessionID,
		SessionState: m.stepper.SessionState(),
		CommandDrops: m.commands.Drops(),
		LastExit:     m.lastExit,
	}
	st.Cycles = m.cyclesTotal.Load()
	st.PublishSkips = m.skipsTotal.Load()
	if m.loop != nil {
		st.Cycles += m.loop.Cycles()
		st.PublishSkips += m.loop.PublishSkips()
	}
	return st
}

// Close attempts a defensive disconnect at teardown. Errors are
// logged, never propagated, so process exit is not blocked by a
// failed join.
func (m *Manager) Close() {
	if _, err := m.Disconnect(); err != nil {
		m.log.Error("disconnect on close failed", "err", err)
	}
}

func (m *Manager) record(ev Event) {
	if m.rec == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if err := m.rec.Record(ev); err != nil {
		m.log.Warn("failed to record lifecycle event", "type", string(ev.Type), "err", err)
	}
}
