package webhook

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

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/tmcfarland/shepherd/internal/model"
	"github.com/tmcfarland/shepherd/internal/store"
)

const (
	EventHeader    = "X-Shepherd-Event"
	DeliveryHeader = "X-Shepherd-Delivery"

	defaultMaxAttempts    = 5
	defaultBaseDelay      = 30 * time.Second
	defaultAttemptTimeout = 10 * time.Second
	testFireTimeout       = 5 * time.Second

	queueSize = 256
)

// Envelope is the POST body receivers get. Receivers must be idempotent on ID:
// delivery is at-least-once.
type Envelope struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"timestamp"`
}

// Engine fans domain events out to matching webhook subscriptions. Each
// subscription gets its own serial worker, so deliveries for one subscription
// happen in emission order while subscriptions proceed in parallel. Emission is
// fire-and-forget: Emit never blocks on delivery outcome.
type Engine struct {
	subs       *store.WebhookStore
	deliveries *store.DeliveryStore
	client     *http.Client
	logger     *slog.Logger

	maxAttempts    uint64
	baseDelay      time.Duration
	attemptTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[int64]chan deliveryJob
}

type deliveryJob struct {
	deliveryID string
	sub        model.WebhookSubscription
	event      Event
	body       []byte
}

type EngineOption func(*Engine)

func WithMaxAttempts(n uint64) EngineOption {
	return func(e *Engine) { e.maxAttempts = n }
}

func WithBaseDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.baseDelay = d }
}

func WithAttemptTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.attemptTimeout = d }
}

func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.client = c }
}

func NewEngine(subs *store.WebhookStore, deliveries *store.DeliveryStore, logger *slog.Logger, opts ...EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		subs:           subs,
		deliveries:     deliveries,
		client:         &http.Client{},
		logger:         logger,
		maxAttempts:    defaultMaxAttempts,
		baseDelay:      defaultBaseDelay,
		attemptTimeout: defaultAttemptTimeout,
		ctx:            ctx,
		cancel:         cancel,
		queues:         make(map[int64]chan deliveryJob),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close stops accepting work and waits for in-flight deliveries to wind down.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Emit dispatches an event to every active subscription of the account whose
// event set contains it. No match is a no-op. Failures downstream are never
// reported back to the emitter; they land in the per-subscription delivery log.
func (e *Engine) Emit(accountID int64, event Event, payload map[string]any) {
	matches, err := e.subs.ListActiveForEvent(accountID, string(event))
	if err != nil {
		e.logger.Error("list subscriptions for event", "event", event, "error", err)
		return
	}
	if len(matches) == 0 {
		return
	}

	envelope := Envelope{
		ID:        uuid.NewString(),
		Event:     string(event),
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		e.logger.Error("marshal event envelope", "event", event, "error", err)
		return
	}

	for _, sub := range matches {
		deliveryID := uuid.NewString()
		if _, err := e.deliveries.Create(deliveryID, sub.ID, string(event), string(body)); err != nil {
			e.logger.Error("record delivery", "subscription_id", sub.ID, "error", err)
			continue
		}
		e.enqueue(deliveryJob{deliveryID: deliveryID, sub: sub, event: event, body: body})
	}
}

func (e *Engine) enqueue(job deliveryJob) {
	e.mu.Lock()
	q, ok := e.queues[job.sub.ID]
	if !ok {
		q = make(chan deliveryJob, queueSize)
		e.queues[job.sub.ID] = q
		e.wg.Add(1)
		go e.worker(q)
	}
	e.mu.Unlock()

	select {
	case q <- job:
	default:
		// The subscription's queue is saturated; dropping here bounds the
		// loss instead of blocking the emitter.
		e.logger.Warn("delivery queue full, dropping", "subscription_id", job.sub.ID, "delivery_id", job.deliveryID)
		e.deliveries.RecordAttempt(job.deliveryID, 0, "delivery queue full")
		e.deliveries.MarkExhausted(job.deliveryID)
	}
}

func (e *Engine) worker(q chan deliveryJob) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case job := <-q:
			e.deliver(job)
		}
	}
}

// deliver runs the retry loop for one delivery: exponential backoff up to the
// attempt ceiling, then the delivery is marked exhausted.
func (e *Engine) deliver(job deliveryJob) {
	backoff := retry.WithMaxRetries(e.maxAttempts-1, retry.NewExponential(e.baseDelay))
	err := retry.Do(e.ctx, backoff, func(ctx context.Context) error {
		status, attemptErr := e.attempt(ctx, job)
		if attemptErr != nil {
			e.deliveries.RecordAttempt(job.deliveryID, status, attemptErr.Error())
			return retry.RetryableError(attemptErr)
		}
		e.deliveries.RecordAttempt(job.deliveryID, status, "")
		return nil
	})
	if err != nil {
		if e.ctx.Err() == nil {
			e.logger.Warn("webhook delivery exhausted",
				"subscription_id", job.sub.ID, "delivery_id", job.deliveryID, "event", job.event, "error", err)
			e.deliveries.MarkExhausted(job.deliveryID)
		}
		return
	}
	e.deliveries.MarkDelivered(job.deliveryID)
}

// attempt is one signed POST with a bounded timeout. Success is any 2xx.
func (e *Engine) attempt(ctx context.Context, job deliveryJob) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.sub.URL, bytes.NewReader(job.body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(job.sub.Secret, job.body))
	req.Header.Set(EventHeader, string(job.event))
	req.Header.Set(DeliveryHeader, job.deliveryID)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// TestFire synchronously sends one test event to the subscription, bypassing
// the retry queue, and reports the outcome inline.
func (e *Engine) TestFire(ctx context.Context, subscriptionID int64) (int, error) {
	sub, err := e.subs.GetByID(subscriptionID)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		return 0, ErrNotFound
	}

	envelope := Envelope{
		ID:    uuid.NewString(),
		Event: string(EventTest),
		Payload: map[string]any{
			"message":      "Test delivery from Shepherd",
			"subscription": sub.Description,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return 0, fmt.Errorf("marshal test envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, testFireTimeout)
	defer cancel()
	return e.attempt(ctx, deliveryJob{
		deliveryID: envelope.ID,
		sub:        *sub,
		event:      EventTest,
		body:       body,
	})
}
