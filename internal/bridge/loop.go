// Package bridge connects a non-realtime command source to the cyclic
// robot-control session. A single background goroutine runs the
// cyclic step loop, paced by the controller's clock via the stepper's
// blocking exchange; the connection manager owns that goroutine's
// lifecycle and guarantees it is joined on disconnect.
package bridge

import (
	"context"
	"sync/atomic"

	"github.com/armbridge/armbridge/internal/fri"
	"github.com/armbridge/armbridge/internal/handoff"
	"github.com/armbridge/armbridge/internal/logging"
)

// ExitReason indicates why the cyclic loop stopped.
type ExitReason int

const (
	ExitReasonUnknown     ExitReason = iota
	ExitReasonStepFailure            // A step call failed; no in-loop retry
	ExitReasonDisconnect             // Disconnect was requested
	ExitReasonShutdown               // Process is shutting down
)

// String returns a human-readable description of the exit reason.
func (r ExitReason) String() string {
	switch r {
	case ExitReasonStepFailure:
		return "step failure"
	case ExitReasonDisconnect:
		return "disconnect requested"
	case ExitReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Result contains the outcome of a loop execution.
type Result struct {
	Reason ExitReason
	Cycles uint64
	Err    error
}

// StateSink consumes state produced by the cyclic loop. TryPublish
// must never block: if the consumer side is busy it returns false and
// the state for this cycle is skipped. Bounded-staleness telemetry is
// acceptable; a missed control cycle is not.
type StateSink interface {
	TryPublish(st fri.State) bool
}

// Loop runs the cyclic step exchange. Exactly one Loop goroutine
// exists per active connection; it is created by the Manager on
// connect and joined on disconnect.
//
// Each Loop owns its stop flag. A flag shared across sessions would
// let a later connect re-arm a loop whose stop was already requested,
// so the flag is per-session: once Stop is called this Loop can never
// resume, no matter what the Manager does afterwards.
type Loop struct {
	stepper  fri.Stepper
	commands *handoff.Handoff[fri.Command]
	sink     StateSink
	log      *logging.Logger

	active atomic.Bool
	cycles atomic.Uint64
	skips  atomic.Uint64
}

// NewLoop creates a Loop in the running state.
func NewLoop(stepper fri.Stepper, commands *handoff.Handoff[fri.Command], sink StateSink, log *logging.Logger) *Loop {
	l := &Loop{
		stepper:  stepper,
		commands: commands,
		sink:     sink,
		log:      log,
	}
	l.active.Store(true)
	return l
}

// Stop requests exit. The loop observes the request at the top of its
// next iteration; Stop cannot be undone.
func (l *Loop) Stop() {
	l.active.Store(false)
}

// Run executes the cyclic loop until a step fails, Stop is called, or
// ctx is cancelled. Within one iteration the order is
// strictly reset-check, read-command, stage, step, publish; the state
// published in cycle N is always derived from the step that used the
// command read in cycle N.
//
// There is no hard-cancel path: a disconnect request is observed at
// the top of the next iteration, after any in-flight step returns.
func (l *Loop) Run(ctx context.Context) Result {
	for {
		if ctx.Err() != nil {
			return Result{Reason: ExitReasonShutdown, Cycles: l.cycles.Load()}
		}
		if !l.active.Load() {
			return Result{Reason: ExitReasonDisconnect, Cycles: l.cycles.Load()}
		}

		// The controller expects a fresh command stream when it enters
		// the commanding-wait phase. A command written before that
		// transition must never be replayed into it.
		if l.stepper.SessionState() == fri.SessionCommandingWait {
			l.commands.Reset()
		}

		// Empty on the first cycles before any command arrives; the
		// stepper applies its own safe default for the zero value.
		cmd, _ := l.commands.Read()
		l.stepper.Stage(cmd)

		if err := l.stepper.Step(); err != nil {
			l.log.Error("cyclic step failed", "err", err, "cycle", l.cycles.Load())
			return Result{Reason: ExitReasonStepFailure, Cycles: l.cycles.Load(), Err: err}
		}
		l.cycles.Add(1)

		if !l.sink.TryPublish(l.stepper.LatestState()) {
			l.skips.Add(1)
		}
	}
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() uint64 {
	return l.cycles.Load()
}

// PublishSkips returns the number of cycles whose state publish was
// skipped because the consumer side was busy.
func (l *Loop) PublishSkips() uint64 {
	return l.skips.Load()
}
