package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"OmniLedger/internal/runtime"
)

// OutboundPublisher streams processed transactions and account lifecycle
// events to NATS for downstream consumers. Publishing is best-effort: a
// missed message can always be rebuilt from the transaction log.
type OutboundPublisher struct {
	js       jetstream.JetStream
	outputs  <-chan runtime.Output
	accounts <-chan AccountEvent
	log      zerolog.Logger
}

// txEventJSON is the outbound wire format for one processed transaction.
type txEventJSON struct {
	Sequence      int64     `json:"sequence"`
	TxID          string    `json:"tx_id"`
	Signer        string    `json:"signer"`
	CallType      string    `json:"call_type"`
	DispatchError string    `json:"dispatch_error,omitempty"`
	ActualFee     uint64    `json:"actual_fee"`
	Tip           uint64    `json:"tip"`
	StateHash     []byte    `json:"state_hash"`
	Timestamp     time.Time `json:"timestamp"`
}

// AccountEvent reports an account opening or being killed.
type AccountEvent struct {
	Event     string    `json:"event"` // "created" or "killed"
	Account   string    `json:"account"`
	Timestamp time.Time `json:"timestamp"`
}

func NewOutboundPublisher(
	js jetstream.JetStream,
	outputs <-chan runtime.Output,
	accounts <-chan AccountEvent,
	log zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:       js,
		outputs:  outputs,
		accounts: accounts,
		log:      log,
	}
}

// Run pumps both channels until ctx is cancelled or the output channel
// closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.outputs:
			if !ok {
				return nil
			}
			if err := op.publishTx(ctx, out); err != nil {
				op.log.Warn().Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
			}

		case evt, ok := <-op.accounts:
			if !ok {
				return nil
			}
			if err := op.publishAccount(ctx, evt); err != nil {
				op.log.Warn().Err(err).
					Str("account", evt.Account).
					Msg("account event publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publishTx(ctx context.Context, out runtime.Output) error {
	env := out.Envelope
	msg := txEventJSON{
		Sequence:      env.Sequence,
		TxID:          env.TxID.String(),
		Signer:        env.Signer.String(),
		CallType:      env.CallType,
		DispatchError: env.DispatchError,
		StateHash:     env.StateHash[:],
		Timestamp:     env.Timestamp,
	}
	if out.Fee != nil {
		msg.ActualFee = out.Fee.ActualFee
		msg.Tip = out.Fee.Tip
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal tx event: %w", err)
	}

	subject := fmt.Sprintf("omni.ledger.tx.%s", env.CallType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

func (op *OutboundPublisher) publishAccount(ctx context.Context, evt AccountEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal account event: %w", err)
	}

	subject := fmt.Sprintf("omni.ledger.accounts.%s", evt.Event)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}
