package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ChangeApplied("message", "added")
	m.ChangeDropped("decode")
	m.SubscriptionOpened("messages")
	m.SubscriptionClosed("messages")
	m.Write("add_message", nil)
	m.SetAppUnread(3)
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.ChangeApplied("message", "added")
	m.ChangeApplied("message", "added")
	m.Write("add_message", errors.New("boom"))
	m.SubscriptionOpened("messages")
	m.SubscriptionOpened("messages")
	m.SubscriptionClosed("messages")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.changes.WithLabelValues("message", "added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("add_message", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptions.WithLabelValues("messages")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetAppUnread(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "chatsync_app_unread_messages 7"), body)
}
