package events

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/onchainrisk/monitor/internal/domain"
)

type fakeSink struct {
	topic, kind string
	payload     any
}

func (f *fakeSink) Publish(topic, kind string, payload any) {
	f.topic, f.kind, f.payload = topic, kind, payload
}

func TestBusEmitForwardsToSink(t *testing.T) {
	sink := &fakeSink{}
	bus := NewBus(sink, zerolog.Nop())

	bus.Emit(PositionDiscovered, "monitor", map[string]any{"position_id": "p1"})

	assert.Equal(t, "system", sink.topic)
	event, ok := sink.payload.(Event)
	assert.True(t, ok)
	assert.Equal(t, PositionDiscovered, event.Type)
}

func TestBusEmitErrorIncludesContext(t *testing.T) {
	sink := &fakeSink{}
	bus := NewBus(sink, zerolog.Nop())

	bus.EmitError("protocols.aave", errors.New("rpc down"), map[string]any{"chain": 1})

	event := sink.payload.(Event)
	assert.Equal(t, AdapterErrorRaised, event.Type)
	assert.Equal(t, "rpc down", event.Data["error"])
	assert.Equal(t, 1, event.Data["chain"])
}

func TestCommandBusDropsOnFullBacklog(t *testing.T) {
	bus := NewCommandBus(1, zerolog.Nop())
	owner, _ := domain.ParseAddress("0x4444444444444444444444444444444444444444")

	bus.Post(Command{Type: CommandTriggerTick, Owner: owner})
	bus.Post(Command{Type: CommandTriggerTick, Owner: owner}) // dropped, backlog full

	select {
	case <-bus.Commands():
	case <-time.After(time.Second):
		t.Fatal("expected first command to be queued")
	}

	select {
	case <-bus.Commands():
		t.Fatal("second command should have been dropped")
	default:
	}
}
