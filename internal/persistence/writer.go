package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TxLogWriter writes processed transactions and their fee charges to Postgres
// using multi-row INSERTs. Both tables key on the executive sequence, so
// replayed writes after a crash are no-ops.
type TxLogWriter struct {
	db *sql.DB
}

// TxRow is one row in tx_log.transactions.
type TxRow struct {
	Sequence        int64
	TxID            string
	Signer          string
	CallType        string
	AccountSequence int64
	Tip             int64
	Length          int32
	Payload         []byte // JSON-encoded call arguments
	DispatchError   *string
	StateHash       []byte
	PrevHash        []byte
	Timestamp       time.Time
}

// FeeRow is one row in tx_log.fee_charges.
type FeeRow struct {
	Sequence  int64
	TxID      string
	Payer     string
	EstFee    int64
	ActualFee int64
	Tip       int64
}

// Record pairs a transaction with its settled fee. This is what the
// persistence worker consumes.
type Record struct {
	Tx  TxRow
	Fee FeeRow
}

func NewTxLogWriter(db *sql.DB) *TxLogWriter {
	return &TxLogWriter{db: db}
}

// WriteBatch persists a batch of records in one database transaction, so a
// fee charge is never visible without its transaction row.
func (w *TxLogWriter) WriteBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}

	if err := w.insertTransactions(ctx, tx, recs); err != nil {
		tx.Rollback()
		return fmt.Errorf("write transactions: %w", err)
	}
	if err := w.insertFees(ctx, tx, recs); err != nil {
		tx.Rollback()
		return fmt.Errorf("write fee charges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (w *TxLogWriter) insertTransactions(ctx context.Context, tx *sql.Tx, recs []Record) error {
	query := `INSERT INTO tx_log.transactions
		(sequence, tx_id, signer, call_type, account_sequence, tip, length, payload, dispatch_error, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(recs))
	args := make([]interface{}, 0, len(recs)*12)

	for i, r := range recs {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12,
		))
		t := r.Tx
		args = append(args,
			t.Sequence, t.TxID, t.Signer, t.CallType, t.AccountSequence, t.Tip,
			t.Length, t.Payload, t.DispatchError, t.StateHash, t.PrevHash, t.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *TxLogWriter) insertFees(ctx context.Context, tx *sql.Tx, recs []Record) error {
	query := `INSERT INTO tx_log.fee_charges
		(sequence, tx_id, payer, est_fee, actual_fee, tip)
		VALUES `

	values := make([]string, 0, len(recs))
	args := make([]interface{}, 0, len(recs)*6)

	for i, r := range recs {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		f := r.Fee
		args = append(args, f.Sequence, f.TxID, f.Payer, f.EstFee, f.ActualFee, f.Tip)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
