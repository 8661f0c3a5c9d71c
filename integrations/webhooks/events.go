package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"lendledger/core/events"
)

const (
	// HeaderEvent carries the ledger event type of the delivery.
	HeaderEvent = "X-Ledger-Event"
	// HeaderSignature carries the hex HMAC-SHA256 of the body prefixed with "sha256=".
	HeaderSignature = "X-Ledger-Signature"
	// HeaderDelivery carries a stable identifier receivers can deduplicate on.
	HeaderDelivery = "X-Ledger-Delivery"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
)

var (
	errDispatcherClosed = errors.New("webhook: dispatcher closed")
	errQueueFull        = errors.New("webhook: delivery queue full")
)

// Payload is the JSON body posted for every committed ledger event.
type Payload struct {
	DeliveryID string        `json:"deliveryId"`
	Record     events.Record `json:"record"`
	SentAt     time.Time     `json:"sentAt"`
}

// Dispatcher forwards committed ledger events to an HTTP endpoint with
// HMAC signatures, retry and exponential backoff. It implements
// events.Emitter so it can sit beside the journal in an events.Multi.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	actions     map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	id        string
	eventType string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLogger routes delivery failures to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithActions restricts deliveries to records produced by the named actions.
func WithActions(actions ...string) Option {
	return func(d *Dispatcher) {
		for _, action := range actions {
			action = strings.ToLower(strings.TrimSpace(action))
			if action == "" {
				continue
			}
			if d.actions == nil {
				d.actions = make(map[string]struct{})
			}
			d.actions[action] = struct{}{}
		}
	}
}

// WithQueueSize bounds the number of pending deliveries.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan delivery, size)
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Emit implements events.Emitter. Only committed records are forwarded and
// the call never blocks the ledger; a full queue drops the delivery.
func (d *Dispatcher) Emit(evt events.Event) {
	if d == nil || evt == nil {
		return
	}
	record, ok := evt.(events.Record)
	if !ok {
		return
	}
	if err := d.Enqueue(record); err != nil {
		d.logger.Warn("webhook delivery dropped",
			slog.String("type", record.Type),
			slog.String("call_id", record.CallID),
			slog.Any("error", err))
	}
}

// Enqueue schedules record for delivery.
func (d *Dispatcher) Enqueue(record events.Record) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	if len(d.actions) > 0 {
		if _, ok := d.actions[strings.ToLower(record.Action)]; !ok {
			return nil
		}
	}
	payload := Payload{
		DeliveryID: fmt.Sprintf("%s-%d", record.CallID, record.Index),
		Record:     record,
		SentAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if d.ctx.Err() != nil {
		return errDispatcherClosed
	}
	select {
	case d.queue <- delivery{id: payload.DeliveryID, eventType: record.Type, body: data}:
		return nil
	case <-d.ctx.Done():
		return errDispatcherClosed
	default:
		return errQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook delivery failed",
				slog.String("delivery_id", job.id),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, job.eventType)
	req.Header.Set(HeaderDelivery, job.id)
	req.Header.Set(HeaderSignature, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit || next < current {
		return limit
	}
	return next
}
