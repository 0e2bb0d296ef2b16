package fri

// Stepper performs the cyclic session exchange with the robot
// controller. Implementations own the transport and the session
// protocol; the bridge only drives the cycle.
//
// Connect and Disconnect are called from the management goroutine.
// Stage, Step, SessionState and LatestState are called only from the
// single cyclic loop goroutine, so implementations need not make them
// safe for concurrent use with each other. Disconnect must be
// safe to call while Step is blocked, and must cause that Step to
// return.
type Stepper interface {
	// Connect performs the session handshake. host may be empty to
	// accept the configured default. A refused or failed handshake is
	// returned as an error; no cyclic exchange happens until Connect
	// succeeds.
	Connect(port int, host string) error

	// Disconnect tears the session down. It unblocks an in-flight
	// Step. Safe to call when not connected.
	Disconnect() error

	// Stage hands the latest operator command to the protocol's
	// internal buffer for the next exchange. An empty command (ok ==
	// false upstream) is represented by the zero value; the protocol
	// applies its own safe default in that case.
	Stage(cmd Command)

	// Step performs exactly one blocking network exchange, paced by
	// the controller's control-loop cadence. It returns an error on
	// session failure or timeout; the bridge does not retry a failed
	// step.
	Step() error

	// SessionState returns the session phase observed by the most
	// recent Step.
	SessionState() SessionState

	// LatestState returns the controller state observed by the most
	// recent Step.
	LatestState() State
}
