package fri

import (
	"errors"
	"sync"
	"time"
)

// Session phase schedule for the simulator: a few monitoring cycles
// after connect, one commanding-wait cycle, then commanding-active.
const simMonitorCycles = 5

// ErrNotConnected is returned by SimStepper.Step without a session.
var ErrNotConnected = errors.New("no active session")

// ErrSessionClosed is returned by a Step interrupted by Disconnect,
// mirroring a transport whose socket is closed under a blocking
// exchange.
var ErrSessionClosed = errors.New("session closed")

// SimStepper simulates a controller session locally: Step blocks for
// one sample period, walks the session phases a freshly connected
// controller walks, and echoes the staged command back as measured
// state. It lets the daemon be commissioned end to end without
// hardware.
type SimStepper struct {
	sampleTime time.Duration

	mu           sync.Mutex
	connected    bool
	disconnectCh chan struct{}
	staged       Command
	latest       State
	cycle        uint64
}

// NewSimStepper creates a simulator with the given cycle period.
func NewSimStepper(sampleTime time.Duration) *SimStepper {
	if sampleTime <= 0 {
		sampleTime = 5 * time.Millisecond
	}
	return &SimStepper{sampleTime: sampleTime}
}

// Connect implements Stepper. The simulated handshake always
// succeeds and resets the session phase walk.
func (s *SimStepper) Connect(port int, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.disconnectCh = make(chan struct{})
	s.cycle = 0
	s.latest = State{SessionState: SessionMonitoringWait}
	return nil
}

// Disconnect implements Stepper. It interrupts an in-flight Step.
func (s *SimStepper) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.connected = false
		close(s.disconnectCh)
	}
	return nil
}

// Stage implements Stepper. The zero command is a safe default: the
// simulator holds the current position.
func (s *SimStepper) Stage(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = cmd
}

// Step implements Stepper. It blocks for one sample period or until
// Disconnect.
func (s *SimStepper) Step() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	disconnectCh := s.disconnectCh
	staged := s.staged
	s.mu.Unlock()

	select {
	case <-time.After(s.sampleTime):
	case <-disconnectCh:
		return ErrSessionClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrSessionClosed
	}

	s.cycle++
	var phase SessionState
	switch {
	case s.cycle <= simMonitorCycles:
		phase = SessionMonitoringReady
	case s.cycle == simMonitorCycles+1:
		phase = SessionCommandingWait
	default:
		phase = SessionCommandingActive
	}

	s.latest = State{
		SessionState:    phase,
		JointPosition:   append([]float64(nil), staged.JointPosition...),
		MeasuredTorque:  append([]float64(nil), staged.Torque...),
		SampleTime:      s.sampleTime.Seconds(),
		TrackingPerf:    1.0,
		ConnectionScore: 1.0,
		Cycle:           s.cycle,
		Stamp:           time.Now(),
	}
	return nil
}

// SessionState implements Stepper.
func (s *SimStepper) SessionState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest.SessionState
}

// LatestState implements Stepper.
func (s *SimStepper) LatestState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}
