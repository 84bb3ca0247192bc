package events

import (
	"time"

	"github.com/rs/zerolog"
)

// EventType enumerates the system event bus's audit-trail events. Unlike
// Commands these are one-way notifications: nothing consumes a reply.
type EventType string

const (
	PositionDiscovered  EventType = "POSITION_DISCOVERED"
	PositionArchived    EventType = "POSITION_ARCHIVED"
	AdapterErrorRaised  EventType = "ADAPTER_ERROR"
	CircuitStateChanged EventType = "CIRCUIT_STATE_CHANGED"
	PriceAnomaly        EventType = "PRICE_ANOMALY"
	TickSkipped         EventType = "TICK_SKIPPED"
)

// Event is one structured entry on the bus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Module    string
	Data      map[string]any
}

// Sink optionally receives every emitted Event, e.g. to forward onto the
// Stream Hub's system topic.
type Sink interface {
	Publish(topic, kind string, payload any)
}

// Bus logs every event structurally and, if a Sink is attached, forwards it
// onto the system topic. It never blocks and never returns an error:
// degraded observability should never slow the caller down.
type Bus struct {
	log  zerolog.Logger
	sink Sink
}

// NewBus builds a Bus. sink may be nil.
func NewBus(sink Sink, log zerolog.Logger) *Bus {
	return &Bus{sink: sink, log: log.With().Str("component", "events").Logger()}
}

// Emit records an event.
func (b *Bus) Emit(eventType EventType, module string, data map[string]any) {
	event := Event{Type: eventType, Timestamp: time.Now(), Module: module, Data: data}

	logEntry := b.log.Info().Str("event_type", string(eventType)).Str("module", module)
	for k, v := range data {
		logEntry = logEntry.Interface(k, v)
	}
	logEntry.Msg("event emitted")

	if b.sink != nil {
		b.sink.Publish("system", "event", event)
	}
}

// EmitError is a convenience for the common adapter/transport failure case.
func (b *Bus) EmitError(module string, err error, context map[string]any) {
	data := map[string]any{"error": err.Error()}
	for k, v := range context {
		data[k] = v
	}
	b.Emit(AdapterErrorRaised, module, data)
}
