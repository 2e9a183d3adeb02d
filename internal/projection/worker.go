package projection

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"OmniLedger/internal/runtime"
)

// Worker consumes the executive's best-effort projection channel and keeps
// two read models current: the fee history table in Postgres and an
// in-memory ring of recent transactions. Dropped outputs are fine; both
// models can be rebuilt from the transaction log.
type Worker struct {
	db      *sql.DB
	in      <-chan runtime.Output
	recent  *RecentBuffer
	log     zerolog.Logger
	lastSeq int64
}

// NewWorker creates the projection worker. db may be nil, in which case only
// the in-memory buffer is maintained.
func NewWorker(db *sql.DB, in <-chan runtime.Output, recent *RecentBuffer, log zerolog.Logger) *Worker {
	return &Worker{
		db:     db,
		in:     in,
		recent: recent,
		log:    log,
	}
}

// Run consumes outputs until ctx is cancelled or the channel closes.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.in:
			if !ok {
				return nil
			}

			pw.recent.Add(NewTxSummary(out))

			if pw.db != nil {
				if err := pw.project(ctx, out); err != nil {
					pw.log.Warn().Err(err).
						Int64("sequence", out.Envelope.Sequence).
						Msg("projection update failed")
				}
			}
			pw.lastSeq = out.Envelope.Sequence
		}
	}
}

func (pw *Worker) project(ctx context.Context, out runtime.Output) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env, fee := out.Envelope, out.Fee
	var dispatchError *string
	if env.DispatchError != "" {
		dispatchError = &env.DispatchError
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.fee_history
			(sequence, tx_id, payer, call_type, actual_fee, tip, dispatch_error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, env.TxID, fee.Payer, env.CallType,
		int64(fee.ActualFee), int64(fee.Tip), dispatchError, env.Timestamp,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return err
	}

	return tx.Commit()
}

// Rebuild repopulates the fee history projection from the transaction log.
func Rebuild(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `TRUNCATE projections.fee_history`); err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.fee_history
			(sequence, tx_id, payer, call_type, actual_fee, tip, dispatch_error, timestamp)
		SELECT t.sequence, t.tx_id, f.payer, t.call_type, f.actual_fee, f.tip,
		       t.dispatch_error, t.timestamp
		FROM tx_log.transactions t
		JOIN tx_log.fee_charges f ON f.sequence = t.sequence
		ON CONFLICT (sequence) DO NOTHING
	`); err != nil {
		return err
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM tx_log.transactions
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`)
	return err
}
