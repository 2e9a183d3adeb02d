package ingestion_test

import (
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"OmniLedger/internal/ingestion"
	"OmniLedger/internal/payment"
	"OmniLedger/internal/runtime"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawSubmission {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawSubmission{
		Subject:   "omni.tx.submit",
		Data:      data,
		Timestamp: time.Unix(1_700_000_000, 0),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseSubmission_Transfer(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":     "550e8400-e29b-41d4-a716-446655440000",
		"signer":    "660e8400-e29b-41d4-a716-446655440001",
		"sequence":  uint64(3),
		"call_type": "transfer",
		"call": map[string]interface{}{
			"currency": "OUSD",
			"to":       "770e8400-e29b-41d4-a716-446655440002",
			"amount":   uint64(1_000),
		},
		"timestamp_us": int64(1_700_000_000_000_000),
	}

	raw := rawFromJSON(t, payload)
	tx, err := ingestion.ParseSubmission(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if tx.Signer.String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("signer: got %s", tx.Signer)
	}
	if tx.Sequence != 3 {
		t.Errorf("sequence: got %d, want 3", tx.Sequence)
	}
	if tx.Length != uint32(len(raw.Data)) {
		t.Errorf("length: got %d, want %d", tx.Length, len(raw.Data))
	}
	if !tx.Timestamp.Equal(time.UnixMicro(1_700_000_000_000_000)) {
		t.Errorf("timestamp: got %v", tx.Timestamp)
	}

	call, ok := tx.Call.(*runtime.TransferCall)
	if !ok {
		t.Fatalf("expected *runtime.TransferCall, got %T", tx.Call)
	}
	if string(call.Currency) != "OUSD" || call.Amount != 1_000 {
		t.Errorf("call: %+v", call)
	}
}

func TestParseSubmission_ChargeExtensionTip(t *testing.T) {
	charge := payment.Charge{Tip: 69}
	payload := map[string]interface{}{
		"tx_id":     "550e8400-e29b-41d4-a716-446655440000",
		"signer":    "660e8400-e29b-41d4-a716-446655440001",
		"sequence":  uint64(0),
		"call_type": "close_account",
		"call":      map[string]interface{}{},
		"charge":    hex.EncodeToString(charge.Encode()),
	}

	tx, err := ingestion.ParseSubmission(rawFromJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if tx.Tip != 69 {
		t.Errorf("tip: got %d, want 69", tx.Tip)
	}
}

func TestParseSubmission_RejectsBadCharge(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"tx_id":     "550e8400-e29b-41d4-a716-446655440000",
			"signer":    "660e8400-e29b-41d4-a716-446655440001",
			"sequence":  uint64(0),
			"call_type": "close_account",
			"call":      map[string]interface{}{},
		}
	}

	cases := []struct {
		name   string
		charge string
	}{
		{"not hex", "zz"},
		{"truncated", "15"},
		{"non-canonical", "0500"}, // tip 1 in two-byte mode
		{"trailing bytes", "04ff"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := base()
			payload["charge"] = tc.charge
			if _, err := ingestion.ParseSubmission(rawFromJSON(t, payload)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseSubmission_UnknownCallType(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":     "550e8400-e29b-41d4-a716-446655440000",
		"signer":    "660e8400-e29b-41d4-a716-446655440001",
		"sequence":  uint64(0),
		"call_type": "mint_unbacked",
		"call":      map[string]interface{}{},
	}
	if _, err := ingestion.ParseSubmission(rawFromJSON(t, payload)); err == nil {
		t.Error("expected error for unknown call type")
	}
}

func TestParseSubmission_BadSigner(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":     "550e8400-e29b-41d4-a716-446655440000",
		"signer":    "not-a-uuid",
		"sequence":  uint64(0),
		"call_type": "close_account",
		"call":      map[string]interface{}{},
	}
	if _, err := ingestion.ParseSubmission(rawFromJSON(t, payload)); err == nil {
		t.Error("expected error for bad signer")
	}
}

func TestParseSubmission_DefaultsToIngestTimestamp(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":     "550e8400-e29b-41d4-a716-446655440000",
		"signer":    "660e8400-e29b-41d4-a716-446655440001",
		"sequence":  uint64(0),
		"call_type": "close_account",
		"call":      map[string]interface{}{},
	}

	raw := rawFromJSON(t, payload)
	tx, err := ingestion.ParseSubmission(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !tx.Timestamp.Equal(raw.Timestamp) {
		t.Errorf("timestamp: got %v, want %v", tx.Timestamp, raw.Timestamp)
	}
}
