package fri

import (
	"errors"
	"sync"
	"time"
)

// MockStepper implements Stepper for tests. It gives fine-grained
// control over handshake and step outcomes and records every call.
// Exported so that tests in other packages can drive the bridge
// without a real controller session.
type MockStepper struct {
	mu sync.Mutex

	// Behavior control.
	connectErr   error
	connectDelay time.Duration
	stepFunc     func(staged Command) (State, error)
	script       []StepResult
	stepDelay    time.Duration

	// When blockSteps is set, Step blocks until ReleaseSteps or, if
	// releaseOnDisconnect, until Disconnect. Used to simulate a loop
	// stuck inside the network exchange.
	blockSteps          bool
	releaseOnDisconnect bool
	releaseCh           chan struct{}

	// Session tracking.
	connected    bool
	disconnectCh chan struct{}
	latest       State

	// Call recording.
	connectCalls    []MockConnectCall
	disconnectCalls int
	staged          []Command
	stepCalls       int
}

// MockConnectCall records a Connect call.
type MockConnectCall struct {
	Port int
	Host string
}

// StepResult is a scripted outcome for one Step call.
type StepResult struct {
	State State
	Err   error
}

// NewMockStepper creates a MockStepper whose handshake succeeds and
// whose steps report a commanding-active session.
func NewMockStepper() *MockStepper {
	return &MockStepper{
		releaseCh:           make(chan struct{}),
		releaseOnDisconnect: true,
	}
}

// SetConnectErr makes subsequent Connect calls fail with err.
func (m *MockStepper) SetConnectErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetConnectDelay makes Connect block for d, simulating a slow
// network handshake.
func (m *MockStepper) SetConnectDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectDelay = d
}

// SetStepFunc overrides step behavior entirely. It receives the most
// recently staged command and takes precedence over any script.
func (m *MockStepper) SetStepFunc(fn func(staged Command) (State, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepFunc = fn
}

// EnqueueSteps appends scripted step outcomes. When the script is
// exhausted, steps report a commanding-active session.
func (m *MockStepper) EnqueueSteps(results ...StepResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
}

// SetStepDelay paces each Step call, simulating the controller's
// cycle cadence.
func (m *MockStepper) SetStepDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepDelay = d
}

// BlockSteps makes Step block. If releaseOnDisconnect is false the
// block survives Disconnect, simulating a stuck loop that cannot be
// joined.
func (m *MockStepper) BlockSteps(releaseOnDisconnect bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockSteps = true
	m.releaseOnDisconnect = releaseOnDisconnect
}

// ReleaseSteps unblocks any Step blocked by BlockSteps.
func (m *MockStepper) ReleaseSteps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.releaseCh:
	default:
		close(m.releaseCh)
	}
}

// Connect implements Stepper.
func (m *MockStepper) Connect(port int, host string) error {
	m.mu.Lock()
	m.connectCalls = append(m.connectCalls, MockConnectCall{Port: port, Host: host})
	delay := m.connectDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	m.disconnectCh = make(chan struct{})
	return nil
}

// Disconnect implements Stepper.
func (m *MockStepper) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	if m.connected {
		m.connected = false
		close(m.disconnectCh)
	}
	return nil
}

// Stage implements Stepper.
func (m *MockStepper) Stage(cmd Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = append(m.staged, cmd)
}

// Step implements Stepper.
func (m *MockStepper) Step() error {
	m.mu.Lock()
	m.stepCalls++
	blocked := m.blockSteps
	releaseOnDisconnect := m.releaseOnDisconnect
	releaseCh := m.releaseCh
	disconnectCh := m.disconnectCh
	delay := m.stepDelay
	fn := m.stepFunc
	var scripted *StepResult
	if fn == nil && len(m.script) > 0 {
		scripted = &m.script[0]
		m.script = m.script[1:]
	}
	var lastStaged Command
	if len(m.staged) > 0 {
		lastStaged = m.staged[len(m.staged)-1]
	}
	cycle := uint64(m.stepCalls)
	m.mu.Unlock()

	if blocked {
		if releaseOnDisconnect {
			select {
			case <-releaseCh:
			case <-disconnectCh:
				return errors.New("session closed")
			}
		} else {
			<-releaseCh
		}
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	var (
		st  State
		err error
	)
	switch {
	case fn != nil:
		st, err = fn(lastStaged)
	case scripted != nil:
		st, err = scripted.State, scripted.Err
	default:
		st = State{SessionState: SessionCommandingActive}
	}
	if err != nil {
		return err
	}

	st.Cycle = cycle
	if st.Stamp.IsZero() {
		st.Stamp = time.Now()
	}

	m.mu.Lock()
	m.latest = st
	m.mu.Unlock()
	return nil
}

// SessionState implements Stepper.
func (m *MockStepper) SessionState() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest.SessionState
}

// LatestState implements Stepper.
func (m *MockStepper) LatestState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// ConnectCalls returns recorded Connect calls.
func (m *MockStepper) ConnectCalls() []MockConnectCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockConnectCall(nil), m.connectCalls...)
}

// DisconnectCalls returns the number of Disconnect calls.
func (m *MockStepper) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

// StagedCommands returns every command handed to Stage, in order.
func (m *MockStepper) StagedCommands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.staged...)
}

// StepCalls returns the number of Step calls.
func (m *MockStepper) StepCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stepCalls
}
