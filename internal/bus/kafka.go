package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/retry"
)

// NewSaramaConfig returns the client settings both services share:
// acknowledged-by-all-replicas, hash partitioning on the key, and consumer
// groups starting from the oldest retained offset.
func NewSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Interval = time.Second
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	return config
}

// Producer is a Publisher over a sarama.AsyncProducer. Completion callbacks
// travel in ProducerMessage.Metadata and are fired by the drain goroutines.
type Producer struct {
	producer sarama.AsyncProducer

	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	callbacks sync.WaitGroup
}

func NewProducer(brokers []string, config *sarama.Config) (*Producer, error) {
	p, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("%w: start producer: %v", domain.ErrMessagingFailure, err)
	}
	slog.Info("Kafka producer initialized", "brokers", brokers)
	return NewProducerFrom(p), nil
}

// NewProducerFrom wraps an existing async producer, which must be configured
// to return both successes and errors.
func NewProducerFrom(p sarama.AsyncProducer) *Producer {
	pr := &Producer{producer: p}
	pr.wg.Add(2)
	go pr.drainSuccesses()
	go pr.drainErrors()
	return pr
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	msg := &sarama.ProducerMessage{
		Topic:    topic,
		Key:      sarama.StringEncoder(key),
		Value:    sarama.ByteEncoder(value),
		Metadata: done,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		go done(fmt.Errorf("%w: producer closed", domain.ErrMessagingFailure))
		return
	}

	select {
	case p.producer.Input() <- msg:
	case <-ctx.Done():
		go done(fmt.Errorf("%w: %v", domain.ErrMessagingFailure, ctx.Err()))
	}
}

func (p *Producer) drainSuccesses() {
	defer p.wg.Done()
	for msg := range p.producer.Successes() {
		observePublish(msg.Topic, nil)
		p.fire(msg.Metadata, nil)
	}
}

func (p *Producer) drainErrors() {
	defer p.wg.Done()
	for perr := range p.producer.Errors() {
		observePublish(perr.Msg.Topic, perr.Err)
		slog.Error("Kafka delivery failed", "topic", perr.Msg.Topic, "error", perr.Err)
		p.fire(perr.Msg.Metadata, fmt.Errorf("%w: %v", domain.ErrMessagingFailure, perr.Err))
	}
}

// fire runs the callback off the drain goroutine so slow callbacks never
// stall the producer's result channels.
func (p *Producer) fire(metadata any, err error) {
	done, ok := metadata.(func(error))
	if !ok {
		return
	}
	p.callbacks.Add(1)
	go func() {
		defer p.callbacks.Done()
		done(err)
	}()
}

// Close flushes buffered messages and waits until every callback has fired.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.producer.AsyncClose()
	p.wg.Wait()
	p.callbacks.Wait()
}

// Consumer is a Subscriber over a sarama consumer group. Sarama runs one
// ConsumeClaim goroutine per assigned partition, so partitions are
// processed in parallel while each key stays ordered.
type Consumer struct {
	group      sarama.ConsumerGroup
	redelivery retry.Backoff
}

func NewConsumer(brokers []string, groupID string, config *sarama.Config) (*Consumer, error) {
	g, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("%w: start consumer group %s: %v", domain.ErrMessagingFailure, groupID, err)
	}
	return NewConsumerFrom(g), nil
}

func NewConsumerFrom(g sarama.ConsumerGroup) *Consumer {
	return &Consumer{group: g, redelivery: DefaultRedelivery}
}

// Subscribe blocks, rejoining the group after every rebalance, until ctx ends.
// A Consumer serves one Subscribe call at a time.
func (c *Consumer) Subscribe(ctx context.Context, topic string, h Handler) error {
	handler := &claimHandler{topic: topic, handle: h, redelivery: c.redelivery}
	for {
		if err := c.group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("%w: consume %s: %v", domain.ErrMessagingFailure, topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type claimHandler struct {
	topic      string
	handle     Handler
	redelivery retry.Backoff
}

func (h *claimHandler) Setup(sess sarama.ConsumerGroupSession) error {
	slog.Info("Consumer group session started", "topic", h.topic, "claims", sess.Claims())
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			msg := Message{Topic: m.Topic, Key: string(m.Key), Value: m.Value}
			if !deliver(sess.Context(), h.redelivery, h.handle, msg) {
				return nil
			}
			sess.MarkMessage(m, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
