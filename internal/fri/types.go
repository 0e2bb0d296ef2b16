// Package fri defines the boundary with the robot-controller session
// protocol: the session-state phases the controller reports, the
// command and state payloads exchanged with it, and the Stepper
// interface that performs the actual cyclic network exchange.
//
// The wire protocol itself is owned by the Stepper implementation and
// is deliberately out of scope here; this package only fixes the
// contract the bridge depends on.
package fri

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionState is the controller-reported session phase. It indicates
// whether the controller is ready to accept the operator's command
// stream.
type SessionState int

const (
	// SessionIdle means no session is established.
	SessionIdle SessionState = iota
	// SessionMonitoringWait means the controller is monitoring but the
	// connection quality is not yet sufficient.
	SessionMonitoringWait
	// SessionMonitoringReady means the controller is monitoring and
	// stable.
	SessionMonitoringReady
	// SessionCommandingWait means the controller is about to hand
	// control to the operator and expects a fresh command stream.
	// Commands written before this phase must not be replayed into it.
	SessionCommandingWait
	// SessionCommandingActive means the controller is executing the
	// operator's commands.
	SessionCommandingActive
)

var sessionStateNames = map[SessionState]string{
	SessionIdle:             "idle",
	SessionMonitoringWait:   "monitoring_wait",
	SessionMonitoringReady:  "monitoring_ready",
	SessionCommandingWait:   "commanding_wait",
	SessionCommandingActive: "commanding_active",
}

// String returns the wire name of the session state.
func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the session state as its wire name.
func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a session state from its wire name.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for state, n := range sessionStateNames {
		if n == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown session state: %q", name)
}

// Command is the operator's motion command for one control cycle.
// Only the most recent command is meaningful; producers may emit at
// any rate and unconsumed commands are discarded.
type Command struct {
	// JointPosition is the commanded joint position set point, in
	// radians, one entry per joint.
	JointPosition []float64 `json:"joint_position,omitempty"`
	// Torque is the commanded superimposed joint torque, in Nm.
	Torque []float64 `json:"torque,omitempty"`
}

// State is the controller telemetry produced once per successful
// cyclic step.
type State struct {
	SessionState    SessionState `json:"session_state"`
	JointPosition   []float64    `json:"joint_position,omitempty"`
	MeasuredTorque  []float64    `json:"measured_torque,omitempty"`
	SampleTime      float64      `json:"sample_time,omitempty"`
	TrackingPerf    float64      `json:"tracking_performance,omitempty"`
	ConnectionScore float64      `json:"connection_quality,omitempty"`
	Cycle           uint64       `json:"cycle"`
	Stamp           time.Time    `json:"stamp"`
}
