package runtime

import (
	"time"

	"github.com/google/uuid"

	"OmniLedger/internal/currency"
)

// SignedTransaction is one authenticated instruction from an account holder.
// Signature verification happens at the edge; by the time a transaction
// reaches the executive its signer is trusted.
type SignedTransaction struct {
	// ID is the client-chosen idempotency key.
	ID uuid.UUID

	Signer currency.AccountID

	// Sequence must match the signer's current account sequence.
	Sequence uint64

	// Tip is the optional priority payment, decoded from the
	// ChargeTransactionPayment extension.
	Tip uint64

	Call Call

	// Length is the encoded size of the original submission, in bytes. It
	// feeds the per-byte fee.
	Length uint32

	// Timestamp is the versioned ingestion time. The executive never reads
	// the wall clock.
	Timestamp time.Time
}

// FeeRecord is the settled charge for one transaction.
type FeeRecord struct {
	TxID      uuid.UUID
	Payer     currency.AccountID
	EstFee    uint64
	ActualFee uint64
	Tip       uint64
}

// Envelope is the executive's per-transaction output header: a hash-chained,
// globally sequenced record of what was applied.
type Envelope struct {
	Sequence  int64
	TxID      uuid.UUID
	Signer    currency.AccountID
	CallType  string
	Timestamp time.Time

	// DispatchError is the call's failure, if any. The fee was still charged
	// and the sequence still advanced.
	DispatchError string

	StateHash [32]byte
	PrevHash  [32]byte
}

// Output is what the executive emits per processed transaction.
type Output struct {
	Envelope *Envelope
	Tx       *SignedTransaction
	Fee      *FeeRecord
}
