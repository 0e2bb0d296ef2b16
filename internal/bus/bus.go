// Package bus is the command/state transport boundary. Operator
// commands arrive on a NATS subject at an arbitrary rate and are
// written into the inbound handoff: each push replaces any unconsumed
// prior value, no queueing, no backpressure. Controller state flows
// the other way: the cyclic loop drops the latest state into an
// outbound handoff and nudges a publisher goroutine with a
// non-blocking send, so a slow broker can only cost telemetry
// freshness, never a control cycle.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/armbridge/armbridge/internal/fri"
	"github.com/armbridge/armbridge/internal/handoff"
	"github.com/armbridge/armbridge/internal/logging"
)

// Default subjects for the command and state streams.
const (
	DefaultCommandSubject = "armbridge.command"
	DefaultStateSubject   = "armbridge.state"
)

// Conn is the slice of the NATS connection the bus uses. *nats.Conn
// satisfies it; tests substitute a fake.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// Options configures a Bus.
type Options struct {
	CommandSubject string
	StateSubject   string
	Logger         *logging.Logger
}

// Bus bridges NATS subjects to the realtime handoffs.
type Bus struct {
	conn           Conn
	commandSubject string
	stateSubject   string
	log            *logging.Logger

	commands *handoff.Handoff[fri.Command]
	states   *handoff.Handoff[fri.State]
	notify   chan struct{}

	mu      sync.Mutex
	sub     *nats.Subscription
	started bool

	published   atomic.Uint64
	badCommands atomic.Uint64
}

// New creates a Bus feeding the given command handoff.
func New(conn Conn, commands *handoff.Handoff[fri.Command], opts Options) *Bus {
	commandSubject := opts.CommandSubject
	if commandSubject == "" {
		commandSubject = DefaultCommandSubject
	}
	stateSubject := opts.StateSubject
	if stateSubject == "" {
		stateSubject = DefaultStateSubject
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Bus{
		conn:           conn,
		commandSubject: commandSubject,
		stateSubject:   stateSubject,
		log:            log,
		commands:       commands,
		states:         handoff.New[fri.State](),
		notify:         make(chan struct{}, 1),
	}
}

// Start subscribes to the command subject and starts the state
// publisher goroutine. The publisher exits when ctx is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.New("bus already started")
	}

	sub, err := b.conn.Subscribe(b.commandSubject, b.handleCommand)
	if err != nil {
		return err
	}
	b.sub = sub
	b.started = true

	go b.publishLoop(ctx)

	b.log.Info("bus started", "command_subject", b.commandSubject, "state_subject", b.stateSubject)
	return nil
}

// Stop unsubscribes and drains the connection.
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}
	b.started = false

	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.log.Warn("unsubscribe failed", "err", err)
		}
		b.sub = nil
	}
	return b.conn.Drain()
}

// handleCommand decodes an inbound command and hands it to the cyclic
// loop. A malformed payload is dropped and counted; it must not
// disturb the loop.
func (b *Bus) handleCommand(msg *nats.Msg) {
	var cmd fri.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		b.badCommands.Add(1)
		b.log.Warn("dropping malformed command", "err", err)
		return
	}
	b.commands.Write(cmd)
}

// TryPublish implements bridge.StateSink. It stores the state in the
// outbound handoff and nudges the publisher without blocking; false
// means the publisher was busy and this cycle's nudge was skipped.
// The handoff still holds the latest state, so the publisher catches
// up on its next pass.
func (b *Bus) TryPublish(st fri.State) bool {
	b.states.Write(st)
	select {
	case b.notify <- struct{}{}:
		return true
	default:
		return false
	}
}

// publishLoop drains the outbound handoff at the consumer's own pace.
func (b *Bus) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
			st, ok := b.states.Read()
			if !ok {
				continue
			}
			data, err := json.Marshal(st)
			if err != nil {
				b.log.Warn("failed to encode state", "err", err)
				continue
			}
			if err := b.conn.Publish(b.stateSubject, data); err != nil {
				b.log.Warn("failed to publish state", "err", err)
				continue
			}
			b.published.Add(1)
		}
	}
}

// Published returns the number of states delivered to the broker.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// BadCommands returns the number of malformed commands dropped.
func (b *Bus) BadCommands() uint64 {
	return b.badCommands.Load()
}
