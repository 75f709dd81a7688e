package bus

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/punchamoorthee/paysettle/internal/retry"
)

// MemoryBus is an in-process Publisher and Subscriber for tests and
// single-binary runs. Each subscription shards messages over a fixed set of
// workers by key hash, so one key is handled serially while different keys
// run in parallel. Messages published to a topic nobody subscribes to yet
// are kept and delivered to the first subscriber.
type MemoryBus struct {
	// BeforePublish, when set, may fail a publish; the error reaches the
	// publisher's callback and the message is not delivered.
	BeforePublish func(Message) error

	mu         sync.Mutex
	subs       map[string][]*memSub
	backlog    map[string][]Message
	workers    int
	redelivery retry.Backoff
}

func NewMemoryBus(workers int) *MemoryBus {
	if workers < 1 {
		workers = 1
	}
	return &MemoryBus{
		subs:       map[string][]*memSub{},
		backlog:    map[string][]Message{},
		workers:    workers,
		redelivery: DefaultRedelivery,
	}
}

type memSub struct {
	queues []chan Message
}

func (b *MemoryBus) Publish(ctx context.Context, topic, key string, value []byte, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	msg := Message{Topic: topic, Key: key, Value: append([]byte(nil), value...)}

	b.mu.Lock()
	hook := b.BeforePublish
	b.mu.Unlock()
	if hook != nil {
		if err := hook(msg); err != nil {
			observePublish(topic, err)
			go done(err)
			return
		}
	}

	b.mu.Lock()
	subs := b.subs[topic]
	if len(subs) == 0 {
		b.backlog[topic] = append(b.backlog[topic], msg)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(ctx, msg)
	}
	observePublish(topic, nil)
	go done(nil)
}

// SetBeforePublish installs or clears the publish hook.
func (b *MemoryBus) SetBeforePublish(hook func(Message) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.BeforePublish = hook
}

func (s *memSub) enqueue(ctx context.Context, msg Message) {
	h := fnv.New32a()
	h.Write([]byte(msg.Key))
	q := s.queues[h.Sum32()%uint32(len(s.queues))]
	select {
	case q <- msg:
	case <-ctx.Done():
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	s := &memSub{queues: make([]chan Message, b.workers)}

	// The backlog is queued before the subscription becomes visible so it
	// stays ahead of anything published afterwards.
	b.mu.Lock()
	backlog := b.backlog[topic]
	delete(b.backlog, topic)
	for i := range s.queues {
		s.queues[i] = make(chan Message, 256+len(backlog))
	}
	for _, msg := range backlog {
		s.enqueue(ctx, msg)
	}
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, q := range s.queues {
		wg.Add(1)
		go func(q chan Message) {
			defer wg.Done()
			for {
				select {
				case msg := <-q:
					deliver(ctx, b.redelivery, h, msg)
				case <-ctx.Done():
					return
				}
			}
		}(q)
	}

	<-ctx.Done()

	// Publish ranges over the old slice outside the lock, so it is replaced
	// rather than edited in place.
	b.mu.Lock()
	remaining := make([]*memSub, 0, len(b.subs[topic]))
	for _, x := range b.subs[topic] {
		if x != s {
			remaining = append(remaining, x)
		}
	}
	b.subs[topic] = remaining
	b.mu.Unlock()
	wg.Wait()
	return nil
}
