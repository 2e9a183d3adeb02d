package projection

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"OmniLedger/internal/runtime"
)

// TxSummary is the queryable view of one processed transaction.
type TxSummary struct {
	Sequence      int64     `json:"sequence"`
	TxID          uuid.UUID `json:"tx_id"`
	Signer        uuid.UUID `json:"signer"`
	CallType      string    `json:"call_type"`
	DispatchError string    `json:"dispatch_error,omitempty"`
	ActualFee     uint64    `json:"actual_fee"`
	Tip           uint64    `json:"tip"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewTxSummary flattens an executive output.
func NewTxSummary(out runtime.Output) TxSummary {
	s := TxSummary{
		Sequence:      out.Envelope.Sequence,
		TxID:          out.Envelope.TxID,
		Signer:        out.Envelope.Signer,
		CallType:      out.Envelope.CallType,
		DispatchError: out.Envelope.DispatchError,
		Timestamp:     out.Envelope.Timestamp,
	}
	if out.Fee != nil {
		s.ActualFee = out.Fee.ActualFee
		s.Tip = out.Fee.Tip
	}
	return s
}

// RecentBuffer is a fixed-size ring of the newest transaction summaries,
// served directly by the HTTP API. Safe for concurrent use.
type RecentBuffer struct {
	mu      sync.RWMutex
	entries []TxSummary
	next    int
	filled  bool
}

func NewRecentBuffer(capacity int) *RecentBuffer {
	return &RecentBuffer{entries: make([]TxSummary, capacity)}
}

// Add records a summary, evicting the oldest once full.
func (rb *RecentBuffer) Add(s TxSummary) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.next] = s
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next = 0
		rb.filled = true
	}
}

// Latest returns up to limit summaries, newest first.
func (rb *RecentBuffer) Latest(limit int) []TxSummary {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]TxSummary, 0, limit)
	for i := 0; i < rb.size() && len(result) < limit; i++ {
		result = append(result, rb.at(i))
	}
	return result
}

// BySigner returns up to limit summaries for one signer, newest first.
func (rb *RecentBuffer) BySigner(signer uuid.UUID, limit int) []TxSummary {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]TxSummary, 0, limit)
	for i := 0; i < rb.size() && len(result) < limit; i++ {
		if s := rb.at(i); s.Signer == signer {
			result = append(result, s)
		}
	}
	return result
}

// size and at require the lock held. at(0) is the newest entry.
func (rb *RecentBuffer) size() int {
	if rb.filled {
		return len(rb.entries)
	}
	return rb.next
}

func (rb *RecentBuffer) at(i int) TxSummary {
	idx := rb.next - 1 - i
	if idx < 0 {
		idx += len(rb.entries)
	}
	return rb.entries[idx]
}
