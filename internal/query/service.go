package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Service provides read-only access to the transaction log and its
// projections. Responses carry as_of_sequence so callers can reason about
// freshness against the executive's live sequence.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// FeeHistory returns settled charges for one payer, newest first, with
// cursor-based pagination on sequence.
func (s *Service) FeeHistory(
	ctx context.Context,
	payer uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]FeeHistoryEntry, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, tx_id, call_type, actual_fee, tip,
		       COALESCE(dispatch_error, ''), timestamp
		FROM projections.fee_history
		WHERE payer = $1
	`
	args := []interface{}{payer}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []FeeHistoryEntry
	for rows.Next() {
		e := FeeHistoryEntry{Payer: payer, AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&e.Sequence, &e.TxID, &e.CallType, &e.ActualFee, &e.Tip,
			&e.DispatchError, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, e)
	}

	return history, rows.Err()
}

// Transaction looks up one logged transaction by ID. Returns nil when the
// transaction is not in the log.
func (s *Service) Transaction(ctx context.Context, txID uuid.UUID) (*TransactionDetail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.sequence, t.tx_id, t.signer, t.call_type, t.account_sequence,
		       COALESCE(t.dispatch_error, ''), f.est_fee, f.actual_fee, f.tip,
		       t.state_hash, t.prev_hash, t.timestamp
		FROM tx_log.transactions t
		JOIN tx_log.fee_charges f ON f.sequence = t.sequence
		WHERE t.tx_id = $1
		ORDER BY t.sequence DESC
		LIMIT 1
	`, txID)

	var d TransactionDetail
	err := row.Scan(
		&d.Sequence, &d.TxID, &d.Signer, &d.CallType, &d.AccountSequence,
		&d.DispatchError, &d.EstFee, &d.ActualFee, &d.Tip,
		&d.StateHash, &d.PrevHash, &d.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// VerifyIntegrity checks hash chain continuity across the transaction log:
// every row's prev_hash must equal the previous row's state_hash.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t1.sequence
		FROM tx_log.transactions t1
		LEFT JOIN tx_log.transactions t2 ON t2.sequence = t1.sequence - 1
		WHERE t1.sequence > 0 AND t1.prev_hash != COALESCE(t2.state_hash, t1.prev_hash)
		ORDER BY t1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM tx_log.transactions`,
	).Scan(&latest); err != nil {
		return nil, err
	}
	if latest.Valid {
		report.LatestSequence = latest.Int64
	} else {
		report.LatestSequence = -1
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
