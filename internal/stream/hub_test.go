package stream

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/onchainrisk/monitor/internal/domain"
)

func testHub() *Hub {
	return NewHub(Config{SubscriberQueueDepth: 4, HeartbeatInterval: time.Hour}, zerolog.Nop())
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	sub := hub.Subscribe("risk:pos-1")
	hub.Publish("risk:pos-1", "risk", domain.RiskMetrics{PositionID: "pos-1", Overall: 0.7})

	select {
	case msg := <-sub.Messages:
		assert.Equal(t, "risk", msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a delivered message")
	}
}

func TestPublishOnlyReachesMatchingTopic(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	sub := hub.Subscribe("risk:pos-1")
	hub.Publish("risk:pos-2", "risk", domain.RiskMetrics{PositionID: "pos-2"})

	select {
	case <-sub.Messages:
		t.Fatal("should not receive messages for a different topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsOldestWhenQueueFull(t *testing.T) {
	hub := testHub() // depth 4
	defer hub.Close()

	sub := hub.Subscribe("risk:pos-1")
	for i := 0; i < 6; i++ {
		hub.Publish("risk:pos-1", "risk", i)
	}

	assert.Greater(t, sub.DroppedCount(), int64(0))

	// Drain and confirm the most recent message survived.
	var last any
	drain := true
	for drain {
		select {
		case msg := <-sub.Messages:
			last = msg.Payload
		default:
			drain = false
		}
	}
	assert.Equal(t, 5, last)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	sub := hub.Subscribe("system")
	sub.Unsubscribe()

	_, open := <-sub.Messages
	assert.False(t, open)
}

func TestTopicHelpersFormatConsistently(t *testing.T) {
	owner := testStreamOwner()
	assert.Equal(t, "risk:pos-1", RiskTopic("pos-1"))
	assert.Contains(t, AlertsTopic(owner), "alerts:")
	assert.Contains(t, PositionsTopic(owner), "positions:")
}

func testStreamOwner() domain.Address {
	addr, _ := domain.ParseAddress("0x3333333333333333333333333333333333333333")
	return addr
}
