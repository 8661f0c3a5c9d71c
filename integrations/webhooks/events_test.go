package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lendledger/core/events"
)

var testSecret = []byte("webhook-secret")

func TestDispatcherSignsRecord(t *testing.T) {
	var (
		mu        sync.Mutex
		signature string
		eventType string
		body      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		signature = r.Header.Get(HeaderSignature)
		eventType = r.Header.Get(HeaderEvent)
		body = data
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, testSecret)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(events.Record{CallID: "call-1", Action: "initialize_user", Type: "ledger.initialize_user"})
	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if !Verify(testSecret, body, signature) {
		t.Fatalf("signature %q does not verify", signature)
	}
	if eventType != "ledger.initialize_user" {
		t.Fatalf("unexpected event header %q", eventType)
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.DeliveryID != "call-1-0" || payload.Record.CallID != "call-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, testSecret, WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(events.Record{CallID: "call-2", Type: "ledger.create_loan"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d attempts", attempts)
	}
}

func TestDispatcherFiltersActions(t *testing.T) {
	hits := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, testSecret, WithActions("Deposit_Collateral"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(events.Record{CallID: "a", Action: "create_loan"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := dispatcher.Enqueue(events.Record{CallID: "b", Action: "deposit_collateral"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&hits) >= 1 }, time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	dispatcher, err := NewDispatcher("http://127.0.0.1:1", testSecret)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	dispatcher.Close()
	if err := dispatcher.Enqueue(events.Record{CallID: "late"}); err != errDispatcherClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", testSecret); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://example.invalid", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(fn func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
