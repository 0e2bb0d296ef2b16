package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armbridge/armbridge/internal/fri"
	"github.com/armbridge/armbridge/internal/handoff"
	"github.com/armbridge/armbridge/internal/logging"
)

// memRecorder collects lifecycle events in memory.
type memRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *memRecorder) Record(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

func newTestManager(t *testing.T, stepper fri.Stepper, opts ...func(*Options)) (*Manager, *handoff.Handoff[fri.Command], *captureSink) {
	t.Helper()

	commands := handoff.New[fri.Command]()
	sink := &captureSink{}
	o := Options{
		Stepper:  stepper,
		Commands: commands,
		Sink:     sink,
		Logger:   logging.New(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	mgr, err := NewManager(o)
	require.NoError(t, err)
	return mgr, commands, sink
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Options{})
	assert.Error(t, err)

	_, err = NewManager(Options{Stepper: fri.NewMockStepper()})
	assert.Error(t, err)
}

func TestConnect_RejectsPortOutsideBand(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	mgr, _, _ := newTestManager(t, stepper)

	for _, port := range []int{0, -1, 30199, 30210, 65535} {
		_, err := mgr.Connect(context.Background(), port, "")
		assert.ErrorIs(t, err, ErrInvalidPort, "port %d", port)
		assert.False(t, mgr.Connected())
	}
	// Rejected before any side effect.
	assert.Empty(t, stepper.ConnectCalls())
}

func TestConnect_BandPassesValidation(t *testing.T) {
	t.Parallel()

	// Handshake fails, so a handshake error (not ErrInvalidPort)
	// proves validation passed for every port in the band.
	for port := PortMin; port <= PortMax; port++ {
		stepper := fri.NewMockStepper()
		stepper.SetConnectErr(errors.New("refused"))
		mgr, _, _ := newTestManager(t, stepper)

		_, err := mgr.Connect(context.Background(), port, "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidPort, "port %d", port)
		assert.False(t, mgr.Connected())
	}
}

func TestConnect_HandshakeFailureStaysDisconnected(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	stepper.SetConnectErr(errors.New("controller unreachable"))
	rec := &memRecorder{}
	mgr, _, _ := newTestManager(t, stepper, func(o *Options) { o.Recorder = rec })

	res, err := mgr.Connect(context.Background(), 30200, "")
	require.Error(t, err)
	assert.False(t, res.Connected)
	assert.False(t, mgr.Connected())
	assert.Equal(t, []EventType{EventConnectFailed}, rec.types())
}

func TestConnect_Idempotent(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	stepper.SetStepDelay(time.Millisecond)
	mgr, _, _ := newTestManager(t, stepper)
	defer mgr.Close()

	first, err := mgr.Connect(context.Background(), 30200, "")
	require.NoError(t, err)
	assert.True(t, first.Connected)
	assert.False(t, first.Already)

	second, err := mgr.Connect(context.Background(), 30200, "")
	require.NoError(t, err)
	assert.True(t, second.Connected)
	assert.True(t, second.Already)
	assert.Equal(t, first.SessionID, second.SessionID)

	// Exactly one handshake, exactly one loop.
	assert.Len(t, stepper.ConnectCalls(), 1)
}

func TestConnect_ConcurrentSpawnsOneLoop(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	stepper.SetStepDelay(time.Millisecond)
	mgr, _, _ := newTestManager(t, stepper)
	defer mgr.Close()

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := mgr.Connect(context.Background(), 30200, "")
			assert.NoError(t, err)
			assert.True(t, res.Connected)
		}()
	}
	wg.Wait()

	assert.Len(t, stepper.ConnectCalls(), 1)
	assert.True(t, mgr.Connected())
}

func TestDisconnect_Idempotent(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	mgr, _, _ := newTestManager(t, stepper)

	res, err := mgr.Disconnect()
	require.NoError(t, err)
	assert.True(t, res.Disconnected)
	assert.True(t, res.Already)
	// No join attempted, no stepper call.
	assert.Equal(t, 0, stepper.DisconnectCalls())
}

func TestDisconnect_JoinsLoop(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	stepper.SetStepDelay(time.Millisecond)
	mgr, _, _ := newTestManager(t, stepper)

	_, err := mgr.Connect(context.Background(), 30201, "192.168.0.5")
	require.NoError(t, err)

	res, err := mgr.Disconnect()
	require.NoError(t, err)
	assert.True(t, res.Disconnected)
	assert.False(t, res.Already)
	assert.False(t, mgr.Connected())
	assert.Equal(t, 1, stepper.DisconnectCalls())
}

func TestDisconnect_BoundedJoinTimeout(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	// Step blocks and ignores the disconnect: the loop cannot be
	// joined.
	stepper.BlockSteps(false)
	rec := &memRecorder{}
	mgr, _, _ := newTestManager(t, stepper, func(o *Options) {
		o.JoinTimeout = 50 * time.Millisecond
		o.Recorder = rec
	})

	_, err := mgr.Connect(context.Background(), 30200, "")
	require.NoError(t, err)

	// Let the loop enter the blocking step.
	require.Eventually(t, func() bool { return stepper.StepCalls() > 0 },
		time.Second, time.Millisecond)

	start := time.Now()
	_, err = mgr.Disconnect()
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrJoinTimeout)
	assert.Less(t, elapsed, 500*time.Millisecond, "disconnect must return within timeout plus epsilon")
	assert.Contains(t, rec.types(), EventJoinTimeout)

	// Unstick the mock so the goroutine can exit.
	stepper.ReleaseSteps()
}

// countingStepFunc tracks how many Step calls run at the same time.
// More than one would mean two loops driving the same stepper.
func countingStepFunc(maxInFlight *atomic.Int64) func(fri.Command) (fri.State, error) {
	var inFlight atomic.Int64
	return func(fri.Command) (fri.State, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return fri.State{SessionState: fri.SessionCommandingActive}, nil
	}
}

// After a timed-out join the old loop goroutine is still alive.
// Connect must refuse until it has exited; once it has, a new session
// starts and the old loop must not resume alongside it.
func TestConnect_RefusedWhileLoopStuck(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	var maxInFlight atomic.Int64
	stepper.SetStepFunc(countingStepFunc(&maxInFlight))
	stepper.BlockSteps(false)
	mgr, _, _ := newTestManager(t, stepper, func(o *Options) {
		o.JoinTimeout = 50 * time.Millisecond
	})

	_, err := mgr.Connect(context.Background(), 30200, "")
	require.NoError(t, err)

	// Let the loop enter the blocking step.
	require.Eventually(t, func() bool { return stepper.StepCalls() > 0 },
		time.Second, time.Millisecond)

	_, err = mgr.Disconnect()
	require.ErrorIs(t, err, ErrJoinTimeout)

	// The old loop is still inside its step; a second loop against the
	// same stepper is refused.
	_, err = mgr.Connect(context.Background(), 30200, "")
	assert.ErrorIs(t, err, ErrStuckLoop)
	assert.False(t, mgr.Connected())
	assert.Len(t, stepper.ConnectCalls(), 1)

	stepper.ReleaseSteps()

	// Once the old loop has exited, connecting works again.
	require.Eventually(t, func() bool {
		res, err := mgr.Connect(context.Background(), 30200, "")
		return err == nil && res.Connected
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return stepper.StepCalls() > 3 },
		time.Second, time.Millisecond)

	_, err = mgr.Disconnect()
	require.NoError(t, err)
	assert.Equal(t, int64(1), maxInFlight.Load(),
		"only one loop may ever drive the stepper")
}

// A loop from a finished session must never tear down its successor:
// racing disconnects and connects may interleave with the old loop's
// exit path, but the session that wins stays intact.
func TestManager_DisconnectConnectStress(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	var maxInFlight atomic.Int64
	stepper.SetStepFunc(countingStepFunc(&maxInFlight))
	mgr, _, _ := newTestManager(t, stepper)

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := mgr.Connect(ctx, 30200, "")
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = mgr.Disconnect()
		}()
		go func() {
			defer wg.Done()
			_, _ = mgr.Connect(ctx, 30200, "")
		}()
		wg.Wait()

		_, err = mgr.Disconnect()
		require.NoError(t, err)
		require.False(t, mgr.Connected())
	}

	assert.Equal(t, int64(1), maxInFlight.Load(),
		"only one loop may ever drive the stepper")
}

// A status snapshot must not wait behind a slow handshake.
func TestStatus_ResponsiveDuringHandshake(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	stepper.SetConnectDelay(300 * time.Millisecond)
	stepper.SetStepDelay(time.Millisecond)
	mgr, _, _ := newTestManager(t, stepper)
	defer mgr.Close()

	connectDone := make(chan struct{})
	go func() {
		defer close(connectDone)
		_, _ = mgr.Connect(context.Background(), 30200, "")
	}()

	// The mock records the call before it starts sleeping, so this
	// observes the handshake in flight.
	require.Eventually(t, func() bool { return len(stepper.ConnectCalls()) == 1 },
		time.Second, time.Millisecond)

	start := time.Now()
	st := mgr.Status()
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, st.Connected)

	<-connectDone
	assert.True(t, mgr.Connected())
}

func TestManager_AutoDisconnectOnStepFailure(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	stepper.EnqueueSteps(fri.StepResult{Err: errors.New("cycle blew up")})
	rec := &memRecorder{}
	mgr, _, _ := newTestManager(t, stepper, func(o *Options) { o.Recorder = rec })

	_, err := mgr.Connect(context.Background(), 30200, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !mgr.Connected() },
		time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return stepper.DisconnectCalls() == 1 },
		time.Second, time.Millisecond)

	// Recovery is external: a later disconnect is a no-op.
	res, err := mgr.Disconnect()
	require.NoError(t, err)
	assert.True(t, res.Already)
	assert.Contains(t, rec.types(), EventCycleFailure)
}

// End-to-end scenario: connect, push a command, observe the state
// published from the cycle that consumed it, disconnect cleanly.
func TestManager_Scenario(t *testing.T) {
	t.Parallel()

	stepper := fri.NewMockStepper()
	stepper.SetStepDelay(time.Millisecond)
	rec := &memRecorder{}
	mgr, commands, sink := newTestManager(t, stepper, func(o *Options) { o.Recorder = rec })

	res, err := mgr.Connect(context.Background(), 30200, "")
	require.NoError(t, err)
	assert.True(t, res.Connected)
	assert.NotEmpty(t, res.SessionID)

	commandA := fri.Command{JointPosition: []float64{0, 0.5, 0, -0.5, 0, 0.5, 0}}
	commands.Write(commandA)

	require.Eventually(t, func() bool {
		for _, staged := range stepper.StagedCommands() {
			if len(staged.JointPosition) == 7 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "loop should read and stage the command")

	require.Eventually(t, func() bool {
		for _, st := range sink.published() {
			if st.SessionState == fri.SessionCommandingActive {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "loop should publish commanding-active state")

	start := time.Now()
	dres, err := mgr.Disconnect()
	require.NoError(t, err)
	assert.True(t, dres.Disconnected)
	assert.False(t, mgr.Connected())
	assert.Less(t, time.Since(start), DefaultJoinTimeout+500*time.Millisecond)

	assert.Equal(t, []EventType{EventConnected, EventDisconnected}, rec.types())

	st := mgr.Status()
	assert.False(t, st.Connected)
	assert.Equal(t, 30200, st.Port)
	assert.NotZero(t, st.Cycles)
}
