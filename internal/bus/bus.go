package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/paysettle/internal/retry"
)

const (
	TopicHoldRequest  = "payment-hold-request"
	TopicHoldResponse = "payment-hold-response"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_published_total",
		Help: "Messages handed to the bus, labeled by delivery result",
	}, []string{"topic", "result"})

	consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_consumed_total",
		Help: "Messages delivered to handlers, labeled by result",
	}, []string{"topic", "result"})
)

// Message is one record on a topic. Key decides ordering: messages with the
// same key are delivered in publish order.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Handler processes one message. A returned error asks for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages without waiting for the broker. done is called
// exactly once, from another goroutine, with nil once the broker has the
// message or with the delivery error.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, done func(error))
}

// Subscriber delivers a topic to h until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// DefaultRedelivery is how a failing handler is retried before its message is skipped.
var DefaultRedelivery = retry.Backoff{Attempts: 5, Initial: 200 * time.Millisecond, Multiplier: 2, Max: 5 * time.Second}

// deliver runs h with in-place redelivery. Later offsets cannot be
// committed past a message that was never acknowledged, so a message that
// keeps failing is logged and dropped once the attempts are spent.
// It reports false only when ctx ended first; the message then stays
// unacknowledged for the next owner of the partition.
func deliver(ctx context.Context, policy retry.Backoff, h Handler, msg Message) bool {
	err := policy.Do(ctx, func(attempt int) error {
		err := h(ctx, msg)
		if err != nil {
			slog.Warn("Message handler failed", "topic", msg.Topic, "key", msg.Key, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil && ctx.Err() != nil {
		return false
	}
	if err != nil {
		consumedTotal.WithLabelValues(msg.Topic, "dropped").Inc()
		slog.Error("Message dropped after redelivery attempts", "topic", msg.Topic, "key", msg.Key, "error", err)
		return true
	}
	consumedTotal.WithLabelValues(msg.Topic, "ok").Inc()
	return true
}

func observePublish(topic string, err error) {
	if err != nil {
		publishedTotal.WithLabelValues(topic, "error").Inc()
		return
	}
	publishedTotal.WithLabelValues(topic, "ok").Inc()
}
