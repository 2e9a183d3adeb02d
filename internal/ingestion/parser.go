package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"OmniLedger/internal/payment"
	"OmniLedger/internal/runtime"
)

// submissionJSON is the wire format for a signed transaction. Field names use
// snake_case to match upstream producers. The charge field carries the
// SCALE-encoded ChargeTransactionPayment extension as hex.
type submissionJSON struct {
	TxID        string          `json:"tx_id"`
	Signer      string          `json:"signer"`
	Sequence    uint64          `json:"sequence"`
	CallType    string          `json:"call_type"`
	Call        json.RawMessage `json:"call"`
	Charge      string          `json:"charge,omitempty"`
	TimestampUs int64           `json:"timestamp_us,omitempty"`
}

// ParseSubmission converts raw JSON bytes into a typed transaction for the
// executive. The encoded length of the submission becomes the transaction's
// byte length for fee purposes.
func ParseSubmission(raw RawSubmission) (*runtime.SignedTransaction, error) {
	var j submissionJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse submission: %w", err)
	}

	txID, err := uuid.Parse(j.TxID)
	if err != nil {
		return nil, fmt.Errorf("parse tx_id: %w", err)
	}
	signer, err := uuid.Parse(j.Signer)
	if err != nil {
		return nil, fmt.Errorf("parse signer: %w", err)
	}

	call, err := runtime.NewCall(j.CallType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(j.Call, call); err != nil {
		return nil, fmt.Errorf("parse %s call: %w", j.CallType, err)
	}

	var tip uint64
	if j.Charge != "" {
		ext, err := hex.DecodeString(j.Charge)
		if err != nil {
			return nil, fmt.Errorf("parse charge extension: %w", err)
		}
		charge, n, err := payment.DecodeCharge(ext)
		if err != nil {
			return nil, err
		}
		if n != len(ext) {
			return nil, fmt.Errorf("charge extension has %d trailing bytes", len(ext)-n)
		}
		tip = charge.Tip
	}

	ts := raw.Timestamp
	if j.TimestampUs != 0 {
		ts = time.UnixMicro(j.TimestampUs)
	}

	return &runtime.SignedTransaction{
		ID:        txID,
		Signer:    signer,
		Sequence:  j.Sequence,
		Tip:       tip,
		Call:      call,
		Length:    uint32(len(raw.Data)),
		Timestamp: ts,
	}, nil
}
