package common

import (
	"errors"
	"math"
	"sync"
	"time"
)

var (
	ErrQuotaRequestsExceeded  = errors.New("quota requests exceeded")
	ErrQuotaEscrowCapExceeded = errors.New("quota escrow cap exceeded")
	ErrQuotaCounterOverflow   = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount   uint32
	EscrowUsed uint64
	EpochID    uint64
}

// Quota defines the limits enforced on linkage creation per address.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxEscrowPerEpoch uint64
	EpochSeconds      uint32
}

// Epoch returns the quota epoch containing t.
func (q Quota) Epoch(t time.Time) uint64 {
	seconds := uint64(q.EpochSeconds)
	if seconds == 0 {
		seconds = 60
	}
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / seconds
}

// CheckQuota verifies whether the additional request and escrow usage fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addEscrow uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerMin > 0 && next.ReqCount > q.MaxRequestsPerMin {
		return prev, ErrQuotaRequestsExceeded
	}

	if addEscrow > 0 {
		if next.EscrowUsed > math.MaxUint64-addEscrow {
			return prev, ErrQuotaCounterOverflow
		}
		next.EscrowUsed += addEscrow
	}
	if q.MaxEscrowPerEpoch > 0 && next.EscrowUsed > q.MaxEscrowPerEpoch {
		return prev, ErrQuotaEscrowCapExceeded
	}

	return next, nil
}

// CounterStore persists per-address quota counters.
type CounterStore interface {
	Load(addr [20]byte) (QuotaNow, error)
	Save(addr [20]byte, counters QuotaNow) error
}

// QuotaTracker enforces a Quota per address. Counters live in memory unless a
// CounterStore is attached.
type QuotaTracker struct {
	quota Quota
	now   func() time.Time

	mu    sync.Mutex
	store CounterStore
	usage map[[20]byte]QuotaNow
}

// NewQuotaTracker returns a tracker enforcing q. A nil clock uses time.Now.
func NewQuotaTracker(q Quota, now func() time.Time) *QuotaTracker {
	if now == nil {
		now = time.Now
	}
	return &QuotaTracker{quota: q, now: now, usage: make(map[[20]byte]QuotaNow)}
}

// SetStore routes counter reads and writes through store.
func (t *QuotaTracker) SetStore(store CounterStore) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store = store
}

func (t *QuotaTracker) load(addr [20]byte) (QuotaNow, error) {
	if t.store != nil {
		return t.store.Load(addr)
	}
	return t.usage[addr], nil
}

func (t *QuotaTracker) save(addr [20]byte, counters QuotaNow) error {
	if t.store != nil {
		return t.store.Save(addr, counters)
	}
	t.usage[addr] = counters
	return nil
}

// Charge records one request and escrow units against addr, leaving the
// counters untouched when the charge would exceed the quota.
func (t *QuotaTracker) Charge(addr [20]byte, escrow uint64) error {
	if t == nil {
		return nil
	}
	epoch := t.quota.Epoch(t.now())
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, err := t.load(addr)
	if err != nil {
		return err
	}
	next, err := CheckQuota(t.quota, epoch, prev, 1, escrow)
	if err != nil {
		return err
	}
	return t.save(addr, next)
}

// Usage returns the counters recorded for addr.
func (t *QuotaTracker) Usage(addr [20]byte) (QuotaNow, error) {
	if t == nil {
		return QuotaNow{}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(addr)
}
