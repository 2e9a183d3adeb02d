package ledger

import (
	"OmniLedger/internal/accounts"
	"OmniLedger/internal/currency"
)

type snapshot struct {
	balances map[balanceKey]balance
	locks    map[balanceKey][]Lock
	records  map[currency.AccountID]accounts.Record
}

func (l *Ledger) takeSnapshot() snapshot {
	balances := make(map[balanceKey]balance, len(l.balances))
	for k, v := range l.balances {
		balances[k] = v
	}
	locks := make(map[balanceKey][]Lock, len(l.locks))
	for k, v := range l.locks {
		locks[k] = append([]Lock(nil), v...)
	}
	return snapshot{
		balances: balances,
		locks:    locks,
		records:  l.store.Snapshot(),
	}
}

func (l *Ledger) restoreSnapshot(snap snapshot) {
	l.balances = snap.balances
	l.locks = snap.locks
	l.store.Restore(snap.records)
}

// WithTransaction runs fn atomically over balances, locks and account records:
// if fn returns an error, every write since entry is rolled back and the error
// is returned. Scopes nest; an inner rollback leaves outer writes intact.
//
// Lifecycle notifications and the receive hook are not rolled back. They are
// best-effort observations, and downstream consumers tolerate a created event
// for an account a later rollback removed.
func (l *Ledger) WithTransaction(fn func() error) error {
	snap := l.takeSnapshot()
	l.txDepth++
	err := fn()
	l.txDepth--
	if err != nil {
		l.restoreSnapshot(snap)
		l.log.Debug().Int("depth", l.txDepth).Err(err).Msg("atomic scope rolled back")
		return err
	}
	return nil
}

// InTransaction reports whether an atomic scope is currently open.
func (l *Ledger) InTransaction() bool {
	return l.txDepth > 0
}

// Balances returns a copy of all non-fee-currency balances, for snapshots.
func (l *Ledger) Balances() map[currency.AccountID]map[currency.ID]BalanceSnapshot {
	out := make(map[currency.AccountID]map[currency.ID]BalanceSnapshot)
	for k, v := range l.balances {
		if v == (balance{}) {
			continue
		}
		m := out[k.id]
		if m == nil {
			m = make(map[currency.ID]BalanceSnapshot)
			out[k.id] = m
		}
		m[k.cur] = BalanceSnapshot{Free: v.free, Reserved: v.reserved}
	}
	return out
}

// RestoreBalances replaces all non-fee-currency balances, for snapshot
// recovery. No hooks fire.
func (l *Ledger) RestoreBalances(snap map[currency.AccountID]map[currency.ID]BalanceSnapshot) {
	l.balances = make(map[balanceKey]balance)
	for id, m := range snap {
		for cur, b := range m {
			l.balances[balanceKey{id, cur}] = balance{free: b.Free, reserved: b.Reserved}
		}
	}
}

// BalanceSnapshot is the exported form of a single currency position.
type BalanceSnapshot struct {
	Free     uint64 `json:"free"`
	Reserved uint64 `json:"reserved"`
}
