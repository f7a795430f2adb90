package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onem2m/cse/logging"
	"github.com/onem2m/cse/resource"
)

// Notification is one queued delivery attempt: a single subscribed-to
// event fanned out to every nu target of one SUB (§4.6: "all targets
// in a SUB are attempted; a failure on one does not skip the
// others").
type Notification struct {
	SubRI     string
	Targets   []string
	Event     EventType
	Resource  *resource.Resource
	MergePatch json.RawMessage // RFC 7396 diff for updateOfResource, nil otherwise
}

// Transport sends one notification body to one target URI. The
// production Transport issues an HTTP POST; tests substitute a fake.
type Transport interface {
	Deliver(ctx context.Context, target string, body []byte) error
}

// HTTPTransport is the production Transport, a thin net/http client.
type HTTPTransport struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: http.DefaultClient, Timeout: 10 * time.Second}
}

func (t *HTTPTransport) Deliver(ctx context.Context, target string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errStatus(resp.StatusCode)
	}
	return nil
}

type errStatus int

func (e errStatus) Error() string { return "notification target rejected delivery" }

// bookkeeper is notified once per Notification after delivery is
// attempted against every target, so the Engine can decrement exc and
// delete exhausted SUBs (§4.6).
type bookkeeper func(ctx context.Context, subRI string, anyDelivered bool)

// Queue is the bounded, single-worker delivery queue §5 describes:
// "a single worker drains the queue"; overflow drops the oldest
// undelivered notification. Modeled as a mutex-guarded ring rather
// than a Go channel because a channel has no way to evict its oldest
// buffered value on overflow.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []Notification
	capacity int
	closed   bool

	transport  Transport
	limiter    *rate.Limiter
	retryCount int
	onResult   bookkeeper
	log        logging.Logger

	metrics *Metrics
}

// Config bounds and paces the Queue.
type Config struct {
	Capacity   int
	RetryCount int
	RateLimit  rate.Limit
	Burst      int
}

func NewQueue(cfg Config, transport Transport, onResult bookkeeper, log logging.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	q := &Queue{
		capacity:   cfg.Capacity,
		transport:  transport,
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		retryCount: cfg.RetryCount,
		onResult:   onResult,
		log:        log,
		metrics:    NewMetrics(),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// MetricsCollector exposes the Queue's prometheus.Collector for
// registration with the CSE's metrics registry.
func (q *Queue) MetricsCollector() *Metrics { return q.metrics }

// Enqueue appends n, dropping the oldest queued notification if the
// queue is at capacity.
func (q *Queue) Enqueue(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.metrics.Inc()
		q.log.Info("notification queue overflow, dropped oldest", "sub", n.SubRI)
	}
	q.items = append(q.items, n)
	q.cond.Signal()
}

// Close stops Run once the notifications already queued have been
// delivered (§5 "cooperative and cancellable at shutdown"); Enqueue
// after Close drops the notification.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) dequeue() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Notification{}, false
	}
	n := q.items[0]
	q.items = q.items[1:]
	return n, true
}

// Run drains the queue; it returns once Close has been called and the
// queue is empty. It runs in its own goroutine for the lifetime of the
// CSE process.
func (q *Queue) Run(ctx context.Context) {
	for {
		n, ok := q.dequeue()
		if !ok {
			return
		}
		q.deliver(ctx, n)
	}
}

func (q *Queue) deliver(ctx context.Context, n Notification) {
	body, err := marshalNotification(n)
	if err != nil {
		q.log.Info("failed to encode notification", "sub", n.SubRI, "err", err.Error())
		return
	}

	anyDelivered := false
	for _, target := range n.Targets {
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		err := q.transport.Deliver(ctx, target, body)
		for attempt := 0; err != nil && attempt < q.retryCount; attempt++ {
			if werr := q.limiter.Wait(ctx); werr != nil {
				return
			}
			err = q.transport.Deliver(ctx, target, body)
		}
		if err != nil {
			q.log.Info("notification delivery failed, dropping", "sub", n.SubRI, "target", target, "err", err.Error())
			continue
		}
		anyDelivered = true
	}

	if q.onResult != nil {
		q.onResult(ctx, n.SubRI, anyDelivered)
	}
}

func marshalNotification(n Notification) ([]byte, error) {
	envelope := map[string]any{
		"net": n.Event,
		"sub": n.SubRI,
	}
	if n.Resource != nil {
		envelope["rep"] = n.Resource
	}
	if len(n.MergePatch) > 0 {
		envelope["patch"] = n.MergePatch
	}
	return json.Marshal(envelope)
}
