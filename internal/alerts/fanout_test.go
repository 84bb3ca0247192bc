package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/onchainrisk/monitor/internal/domain"
)

func TestFanOutSinkDeliversToEverySink(t *testing.T) {
	a := &fakeSink{}
	b := &fakeSink{}
	fanout := FanOutSink{a, b}

	alert := domain.Alert{ID: "alert-1", Severity: domain.SeverityHigh}
	fanout.CreateAlert(alert)
	fanout.ResolveAlert("alert-1", time.Now())

	assert.Equal(t, []domain.Alert{alert}, a.created)
	assert.Equal(t, []domain.Alert{alert}, b.created)
	assert.Equal(t, []string{"alert-1"}, a.resolved)
	assert.Equal(t, []string{"alert-1"}, b.resolved)
}
