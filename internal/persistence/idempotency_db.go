package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresDedupChecker is the cold tier of transaction deduplication: it
// answers "was this transaction ever logged" straight from tx_log.
type PostgresDedupChecker struct {
	db *sql.DB
}

func NewPostgresDedupChecker(db *sql.DB) *PostgresDedupChecker {
	return &PostgresDedupChecker{db: db}
}

// IsDuplicate reports whether a transaction with this call type and ID is
// already in the log. The query is bounded so a slow database degrades to
// LRU-only dedup rather than stalling intake.
func (c *PostgresDedupChecker) IsDuplicate(callType, txID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var one int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1 FROM tx_log.transactions
		WHERE call_type = $1 AND tx_id = $2
		LIMIT 1
	`, callType, txID).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
