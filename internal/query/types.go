package query

import (
	"time"

	"github.com/google/uuid"
)

// FeeHistoryEntry is one settled charge for API queries.
type FeeHistoryEntry struct {
	Sequence      int64     `json:"sequence"`
	TxID          uuid.UUID `json:"tx_id"`
	Payer         uuid.UUID `json:"payer"`
	CallType      string    `json:"call_type"`
	ActualFee     int64     `json:"actual_fee"`
	Tip           int64     `json:"tip"`
	DispatchError string    `json:"dispatch_error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// TransactionDetail is one logged transaction with its fee settlement.
type TransactionDetail struct {
	Sequence        int64     `json:"sequence"`
	TxID            uuid.UUID `json:"tx_id"`
	Signer          uuid.UUID `json:"signer"`
	CallType        string    `json:"call_type"`
	AccountSequence int64     `json:"account_sequence"`
	DispatchError   string    `json:"dispatch_error,omitempty"`
	EstFee          int64     `json:"est_fee"`
	ActualFee       int64     `json:"actual_fee"`
	Tip             int64     `json:"tip"`
	StateHash       []byte    `json:"state_hash"`
	PrevHash        []byte    `json:"prev_hash"`
	Timestamp       time.Time `json:"timestamp"`
}

// IntegrityReport is the result of a hash chain verification over the
// transaction log.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LatestSequence  int64   `json:"latest_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
