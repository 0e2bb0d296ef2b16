package fri

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimStepper_StepRequiresSession(t *testing.T) {
	t.Parallel()

	s := NewSimStepper(time.Millisecond)
	assert.ErrorIs(t, s.Step(), ErrNotConnected)
}

func TestSimStepper_PhaseWalk(t *testing.T) {
	t.Parallel()

	s := NewSimStepper(time.Millisecond)
	require.NoError(t, s.Connect(30200, ""))

	var phases []SessionState
	for i := 0; i < simMonitorCycles+3; i++ {
		require.NoError(t, s.Step())
		phases = append(phases, s.SessionState())
	}

	for i := 0; i < simMonitorCycles; i++ {
		assert.Equal(t, SessionMonitoringReady, phases[i], "cycle %d", i+1)
	}
	assert.Equal(t, SessionCommandingWait, phases[simMonitorCycles])
	assert.Equal(t, SessionCommandingActive, phases[simMonitorCycles+1])
	assert.Equal(t, SessionCommandingActive, phases[simMonitorCycles+2])
}

func TestSimStepper_EchoesStagedCommand(t *testing.T) {
	t.Parallel()

	s := NewSimStepper(time.Millisecond)
	require.NoError(t, s.Connect(30200, ""))

	s.Stage(Command{JointPosition: []float64{0.1, -0.2}})
	require.NoError(t, s.Step())

	st := s.LatestState()
	assert.Equal(t, []float64{0.1, -0.2}, st.JointPosition)
	assert.Equal(t, uint64(1), st.Cycle)
	assert.InDelta(t, 0.001, st.SampleTime, 1e-9)
}

func TestSimStepper_DisconnectInterruptsStep(t *testing.T) {
	t.Parallel()

	s := NewSimStepper(time.Hour)
	require.NoError(t, s.Connect(30200, ""))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Step() }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Disconnect())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("step was not interrupted by disconnect")
	}
}

func TestSimStepper_Reconnect(t *testing.T) {
	t.Parallel()

	s := NewSimStepper(time.Millisecond)
	require.NoError(t, s.Connect(30200, ""))
	for i := 0; i < simMonitorCycles+2; i++ {
		require.NoError(t, s.Step())
	}
	require.Equal(t, SessionCommandingActive, s.SessionState())

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Connect(30200, ""))

	// The phase walk starts over on a fresh session.
	require.NoError(t, s.Step())
	assert.Equal(t, SessionMonitoringReady, s.SessionState())
}
