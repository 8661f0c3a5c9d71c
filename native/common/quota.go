package common

import (
	"errors"
	"math"
	"sync"
	"time"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an identity.
type QuotaNow struct {
	ReqCount uint32
	WindowID uint64
}

// Quota defines the limits enforced for ledger calls per identity.
type Quota struct {
	MaxRequestsPerWindow uint32
	WindowSeconds        uint32
}

// Window returns the identifier of the window containing now.
func (q Quota) Window(now time.Time) uint64 {
	seconds := q.WindowSeconds
	if seconds == 0 {
		seconds = 60
	}
	unix := now.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(seconds)
}

// CheckQuota verifies whether the additional requests fit within the
// configured quota. The returned QuotaNow reflects the updated counters when
// the quota is not exceeded.
func CheckQuota(q Quota, nowWindow uint64, prev QuotaNow, addReq uint32) (QuotaNow, error) {
	next := prev
	if prev.WindowID != nowWindow {
		next = QuotaNow{WindowID: nowWindow}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerWindow > 0 && next.ReqCount > q.MaxRequestsPerWindow {
		return prev, ErrQuotaRequestsExceeded
	}
	return next, nil
}

// QuotaTracker keeps per-identity counters in memory.
type QuotaTracker struct {
	mu       sync.Mutex
	quota    Quota
	counters map[string]QuotaNow
	now      func() time.Time
}

// NewQuotaTracker constructs a tracker enforcing q. A zero
// MaxRequestsPerWindow disables enforcement.
func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, counters: make(map[string]QuotaNow), now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (t *QuotaTracker) SetClock(now func() time.Time) {
	if t == nil || now == nil {
		return
	}
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Consume records one call for identity, failing once the window is full.
func (t *QuotaTracker) Consume(identity string) error {
	if t == nil || t.quota.MaxRequestsPerWindow == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	window := t.quota.Window(t.now())
	next, err := CheckQuota(t.quota, window, t.counters[identity], 1)
	if err != nil {
		return err
	}
	t.counters[identity] = next
	t.prune(window)
	return nil
}

func (t *QuotaTracker) prune(window uint64) {
	for identity, counter := range t.counters {
		if counter.WindowID < window {
			delete(t.counters, identity)
		}
	}
}
