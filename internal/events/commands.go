// Package events implements the internal command channel and system event
// bus. These exist to keep the dependency graph linear: the Stream Hub
// publishes outward to subscribers and never calls back into the Monitor
// Loop; anything that needs to trigger a tick instead posts a Command here,
// which the Monitor Loop consumes on its own schedule.
package events

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/domain"
)

// CommandType enumerates the commands the Monitor Loop accepts.
type CommandType string

const (
	// CommandTriggerTick asks the loop to run one owner's tick immediately,
	// outside its normal ticker cadence (e.g. a user just linked a wallet).
	CommandTriggerTick CommandType = "trigger_tick"
	// CommandRegisterOwner begins tracking a newly-onboarded owner.
	CommandRegisterOwner CommandType = "register_owner"
	// CommandDeregisterOwner stops tracking an owner.
	CommandDeregisterOwner CommandType = "deregister_owner"
)

// Command is one request posted to the Monitor Loop's command channel.
type Command struct {
	Type      CommandType
	Owner     domain.Address
	IssuedAt  time.Time
}

// CommandBus is a many-producers, single-consumer channel wrapper. The
// Monitor Loop is the only consumer; any number of producers (the thin HTTP
// surface, the Stream Hub's command bridge) may post.
type CommandBus struct {
	ch  chan Command
	log zerolog.Logger
}

// NewCommandBus builds a CommandBus with a bounded backlog. A full backlog
// drops the command and logs a warning rather than blocking the producer.
func NewCommandBus(backlog int, log zerolog.Logger) *CommandBus {
	if backlog <= 0 {
		backlog = 64
	}
	return &CommandBus{
		ch:  make(chan Command, backlog),
		log: log.With().Str("component", "command_bus").Logger(),
	}
}

// Post enqueues a command, dropping it if the backlog is full.
func (b *CommandBus) Post(cmd Command) {
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}
	select {
	case b.ch <- cmd:
	default:
		b.log.Warn().Str("command_type", string(cmd.Type)).Msg("command bus backlog full, dropping command")
	}
}

// Commands exposes the receive-only channel for the Monitor Loop to range
// over.
func (b *CommandBus) Commands() <-chan Command {
	return b.ch
}
