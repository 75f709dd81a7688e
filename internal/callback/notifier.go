package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/models"
	"github.com/punchamoorthee/paysettle/internal/retry"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callback_deliveries_total",
		Help: "Callback deliveries, labeled by result (delivered, failed, dropped)",
	}, []string{"result"})

	attemptLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callback_attempt_duration_seconds",
		Help:    "Duration of single callback POST attempts",
		Buckets: prometheus.DefBuckets,
	})
)

// DefaultBackoff is three attempts, one second apart and doubling.
var DefaultBackoff = retry.Backoff{Attempts: 3, Initial: time.Second, Multiplier: 2}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per attempt
	Backoff   retry.Backoff
	Client    *http.Client
}

// Notifier posts terminal payment outcomes to their callback URLs on a fixed
// pool of workers. Delivery failures are logged and counted; they never
// reach the caller.
type Notifier struct {
	client  *http.Client
	backoff retry.Backoff
	jobs    chan domain.Payment

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func New(opts Options) *Notifier {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1024
	}
	if opts.Backoff.Attempts == 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
		if opts.Timeout <= 0 {
			opts.Client.Timeout = 10 * time.Second
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		client:  opts.Client,
		backoff: opts.Backoff,
		jobs:    make(chan domain.Payment, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Notify queues p for delivery and returns at once. When the queue is full
// the callback is dropped and logged rather than stalling settlement.
func (n *Notifier) Notify(ctx context.Context, p domain.Payment) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		deliveriesTotal.WithLabelValues("dropped").Inc()
		slog.Warn("Callback dropped, notifier closed", "payment_id", p.ID)
		return
	}
	select {
	case n.jobs <- p:
	default:
		deliveriesTotal.WithLabelValues("dropped").Inc()
		slog.Error("Callback dropped, queue full", "payment_id", p.ID, "status", p.Status)
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for p := range n.jobs {
		n.deliver(p)
	}
}

func (n *Notifier) deliver(p domain.Payment) {
	body, err := json.Marshal(models.NewCallbackPayload(p))
	if err != nil {
		slog.Error("Callback payload encoding failed", "payment_id", p.ID, "error", err)
		deliveriesTotal.WithLabelValues("failed").Inc()
		return
	}

	err = n.backoff.Do(n.ctx, func(attempt int) error {
		err := n.post(p.CallbackURL, body)
		if err != nil {
			slog.Warn("Callback attempt failed", "payment_id", p.ID, "url", p.CallbackURL, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		deliveriesTotal.WithLabelValues("failed").Inc()
		slog.Error("Callback delivery failed after all retries", "payment_id", p.ID, "url", p.CallbackURL, "error", err)
		return
	}
	deliveriesTotal.WithLabelValues("delivered").Inc()
	slog.Info("Callback delivered", "payment_id", p.ID, "status", p.Status)
}

func (n *Notifier) post(url string, body []byte) error {
	start := time.Now()
	defer func() { attemptLatency.Observe(time.Since(start).Seconds()) }()

	req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCallbackDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCallbackDelivery, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", domain.ErrCallbackDelivery, resp.StatusCode)
	}
	return nil
}

// Close stops accepting callbacks and waits for queued ones to finish. If
// ctx ends first, in-flight retries are abandoned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.jobs)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}
