// Package stream implements the Stream Hub (C9): in-process topic pub/sub
// fan-out with per-subscriber bounded queues and heartbeats.
package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Message is one item delivered on a topic.
type Message struct {
	Topic     string
	Kind      string // "risk", "alert", "position", "price", "system", "heartbeat"
	Payload   any
	Timestamp time.Time
}

// Config controls subscriber queue depth and heartbeat cadence.
type Config struct {
	SubscriberQueueDepth int
	HeartbeatInterval    time.Duration
}

// DefaultConfig matches §4.9's defaults.
var DefaultConfig = Config{
	SubscriberQueueDepth: 256,
	HeartbeatInterval:    30 * time.Second,
}

// RiskTopic, AlertsTopic, PositionsTopic, and MarketTopic build the
// per-entity topic names §4.9 specifies.
func RiskTopic(positionID string) string  { return fmt.Sprintf("risk:%s", positionID) }
func AlertsTopic(owner domain.Address) string    { return fmt.Sprintf("alerts:%s", owner.String()) }
func PositionsTopic(owner domain.Address) string { return fmt.Sprintf("positions:%s", owner.String()) }
func MarketTopic(t domain.TokenRef) string       { return fmt.Sprintf("market:%d:%s", t.Chain, t.Address.String()) }

// SystemTopic carries health/status changes; it has no entity suffix.
const SystemTopic = "system"

type subscriber struct {
	id      string
	topic   string
	queue   chan Message
	dropped int64
	mu      sync.Mutex
	closed  bool
}

// DropRecorder observes backpressure drops, wired to the prometheus
// registry's StreamDrops counter in cmd/monitor; nil disables recording.
type DropRecorder interface {
	RecordDrop(topic string)
}

// Hub is the topic-keyed pub/sub fan-out.
type Hub struct {
	cfg     Config
	log     zerolog.Logger
	metrics DropRecorder

	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // topic -> subscriberID -> sub

	stop chan struct{}
	wg   sync.WaitGroup
}

// SetDropRecorder wires a metrics sink for subscriber-queue drops. Safe to
// call once after NewHub and before Subscribe/Publish traffic starts.
func (h *Hub) SetDropRecorder(m DropRecorder) { h.metrics = m }

// NewHub builds a Hub and starts its heartbeat loop.
func NewHub(cfg Config, log zerolog.Logger) *Hub {
	h := &Hub{
		cfg:         cfg,
		log:         log.With().Str("component", "stream").Logger(),
		subscribers: make(map[string]map[string]*subscriber),
		stop:        make(chan struct{}),
	}
	h.wg.Add(1)
	go h.heartbeatLoop()
	return h
}

// Close stops the heartbeat loop and closes every subscriber channel.
func (h *Hub) Close() {
	close(h.stop)
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subscribers {
		for _, sub := range subs {
			sub.closeQueue()
		}
	}
	h.subscribers = make(map[string]map[string]*subscriber)
}

// Subscription is returned to callers; Messages delivers, Unsubscribe tears
// down, DroppedCount reports backpressure drops.
type Subscription struct {
	Messages <-chan Message
	hub      *Hub
	topic    string
	id       string
	sub      *subscriber
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if subs, ok := s.hub.subscribers[s.topic]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.hub.subscribers, s.topic)
		}
	}
	s.sub.closeQueue()
}

// DroppedCount reports how many messages were dropped for this subscriber
// due to a full queue (§5 drop-oldest backpressure).
func (s *Subscription) DroppedCount() int64 {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	return s.sub.dropped
}

// Subscribe registers a new subscriber on topic with a bounded queue.
func (h *Hub) Subscribe(topic string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	depth := h.cfg.SubscriberQueueDepth
	if depth <= 0 {
		depth = DefaultConfig.SubscriberQueueDepth
	}

	sub := &subscriber{
		id:    newSubscriberID(),
		topic: topic,
		queue: make(chan Message, depth),
	}
	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[string]*subscriber)
	}
	h.subscribers[topic][sub.id] = sub

	return &Subscription{Messages: sub.queue, hub: h, topic: topic, id: sub.id, sub: sub}
}

// Publish delivers msg to every subscriber of topic. A full subscriber queue
// drops its oldest pending message to make room (§5), never blocking the
// publisher.
func (h *Hub) Publish(topic string, kind string, payload any) {
	msg := Message{Topic: topic, Kind: kind, Payload: payload, Timestamp: time.Now()}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers[topic]))
	for _, sub := range h.subscribers[topic] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.deliver(msg, h.log) && h.metrics != nil {
			h.metrics.RecordDrop(topic)
		}
	}
}

func (s *subscriber) deliver(msg Message, log zerolog.Logger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.queue <- msg:
		return false
	default:
	}

	dropped := false
	// Queue full: drop the oldest pending message and retry once.
	select {
	case <-s.queue:
		s.dropped++
		dropped = true
		log.Warn().Str("topic", s.topic).Str("subscriber", s.id).Msg("subscriber queue full, dropped oldest message")
	default:
	}
	select {
	case s.queue <- msg:
	default:
		// Another deliverer raced us; count this one dropped too.
		s.dropped++
		dropped = true
	}
	return dropped
}

func (s *subscriber) closeQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()
	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultConfig.HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.broadcastHeartbeat()
		}
	}
}

func (h *Hub) broadcastHeartbeat() {
	h.mu.RLock()
	topics := make([]string, 0, len(h.subscribers))
	for topic := range h.subscribers {
		topics = append(topics, topic)
	}
	h.mu.RUnlock()

	for _, topic := range topics {
		h.Publish(topic, "heartbeat", nil)
	}
}

var subscriberSeq struct {
	mu  sync.Mutex
	seq int64
}

func newSubscriberID() string {
	subscriberSeq.mu.Lock()
	defer subscriberSeq.mu.Unlock()
	subscriberSeq.seq++
	return fmt.Sprintf("sub-%d", subscriberSeq.seq)
}
