package accounts

import (
	"github.com/rs/zerolog"

	"OmniLedger/internal/currency"
)

// Hook is a lifecycle notification callback, invoked synchronously and at most
// once per transition before the triggering call returns.
type Hook func(id currency.AccountID)

// NativeBackend is the slice of the fee-currency ledger the tracker needs to
// open accounts. The ledger implements it; the tracker is bound after both are
// constructed because their balance data lives in each other.
type NativeBackend interface {
	// ReserveDeposit moves the amount from free to reserved fee-currency
	// balance, failing on insufficient free balance.
	ReserveDeposit(id currency.AccountID, amount uint64) error

	// SweepFree transfers the account's entire free fee-currency balance
	// to another account.
	SweepFree(from, to currency.AccountID) error
}

// Store tracks account existence. It owns the identity -> Record mapping and
// detects transitions between "not present" and "present": an account exists
// iff its record is explicit and the ledger-owned data is non-empty, and the
// only way data becomes non-empty is a write through this store.
//
// Not thread-safe — only accessed from the single-threaded executive.
type Store struct {
	records map[currency.AccountID]Record

	deposit  uint64
	treasury currency.AccountID

	native    NativeBackend
	onCreated Hook
	onKilled  Hook

	log zerolog.Logger
}

// NewStore creates a tracker with the configured new-account deposit and
// treasury identity. Hooks may be nil.
func NewStore(deposit uint64, treasury currency.AccountID, onCreated, onKilled Hook, log zerolog.Logger) *Store {
	return &Store{
		records:   make(map[currency.AccountID]Record),
		deposit:   deposit,
		treasury:  treasury,
		onCreated: onCreated,
		onKilled:  onKilled,
		log:       log,
	}
}

// BindNative wires the fee-currency ledger backend. Must be called before any
// mutation that can open an account.
func (s *Store) BindNative(native NativeBackend) {
	s.native = native
}

// Treasury returns the treasury account identity.
func (s *Store) Treasury() currency.AccountID {
	return s.treasury
}

// Deposit returns the configured new-account deposit.
func (s *Store) Deposit() uint64 {
	return s.deposit
}

// Get returns the account's data, default when no record exists.
func (s *Store) Get(id currency.AccountID) Data {
	return s.records[id].Data
}

// IsExplicit reports whether an explicit record exists for the identity.
func (s *Store) IsExplicit(id currency.AccountID) bool {
	_, ok := s.records[id]
	return ok
}

// Insert writes data unconditionally. If the identity had no explicit record
// before the write, the full open-account flow runs after it.
func (s *Store) Insert(id currency.AccountID, data Data) {
	_, existed := s.records[id]
	rec := s.records[id]
	rec.Data = data
	s.records[id] = rec
	if !existed {
		s.openAccount(id)
	}
}

// Remove notifies downstream that the account was killed. The record itself is
// retained: Sequence and RefCount must survive for replay safety.
func (s *Store) Remove(id currency.AccountID) {
	if s.onKilled != nil {
		s.onKilled(id)
	}
}

// Mutate applies f to the current (possibly default) data in place. A brand-new
// record fires only the "created" notification, not the deposit logic.
func (s *Store) Mutate(id currency.AccountID, f func(*Data)) {
	_, existed := s.records[id]
	rec := s.records[id]
	f(&rec.Data)
	s.records[id] = rec
	if !existed && s.onCreated != nil {
		s.onCreated(id)
	}
}

// MutateExists is TryMutateExists specialized to an infallible mutation.
func (s *Store) MutateExists(id currency.AccountID, f func(data *Data) *Data) {
	_ = s.TryMutateExists(id, func(data *Data) (*Data, error) {
		return f(data), nil
	})
}

// TryMutateExists applies f to an optional view of the account's data: f
// receives nil when no record exists and may return nil to request logical
// deletion. Whatever f returns, the record is re-written with its original
// Sequence and RefCount — the prefix is never discarded even when the data
// goes empty. If f fails, nothing is written and no notification fires. An
// explicitness transition (absent -> present) runs the open-account flow after
// the write.
func (s *Store) TryMutateExists(id currency.AccountID, f func(data *Data) (*Data, error)) error {
	rec, existed := s.records[id]

	var view *Data
	if existed {
		d := rec.Data
		view = &d
	}

	out, err := f(view)
	if err != nil {
		return err
	}

	var data Data
	if out != nil {
		data = *out
	}
	s.records[id] = Record{Sequence: rec.Sequence, RefCount: rec.RefCount, Data: data}

	if !existed {
		s.openAccount(id)
	}
	return nil
}

// openAccount reserves the new-account deposit from a freshly written record.
//
// On reservation failure the account's entire free fee-currency balance is
// recycled to the treasury and the record is erased, pretending the account
// was never opened — leaving a billable but deposit-less account around is
// worse than a retry on the next receive. The treasury itself is never reaped,
// and a failed recycle transfer just leaves a dust account open without a
// reservation; neither case is fatal.
func (s *Store) openAccount(id currency.AccountID) {
	if err := s.native.ReserveDeposit(id, s.deposit); err == nil {
		if s.onCreated != nil {
			s.onCreated(id)
		}
		return
	}

	if id == s.treasury {
		s.log.Debug().Stringer("account", id).Msg("treasury opened without deposit reservation")
		return
	}

	if err := s.native.SweepFree(id, s.treasury); err == nil {
		delete(s.records, id)
		return
	}

	s.log.Debug().Stringer("account", id).Msg("account opened without deposit reservation")
}

// --- lifecycle metadata ---

// SequenceOf returns the account's anti-replay sequence number.
func (s *Store) SequenceOf(id currency.AccountID) uint64 {
	return s.records[id].Sequence
}

// IncrementSequence bumps the anti-replay counter. Prefix-only write: no
// existence notification fires.
func (s *Store) IncrementSequence(id currency.AccountID) {
	rec := s.records[id]
	rec.Sequence++
	s.records[id] = rec
}

// IncRef registers an external hold (e.g. an active lock) on the account.
func (s *Store) IncRef(id currency.AccountID) {
	rec := s.records[id]
	rec.RefCount++
	s.records[id] = rec
}

// DecRef releases an external hold.
func (s *Store) DecRef(id currency.AccountID) {
	rec, ok := s.records[id]
	if !ok || rec.RefCount == 0 {
		s.log.Warn().Stringer("account", id).Msg("ref count underflow ignored")
		return
	}
	rec.RefCount--
	s.records[id] = rec
}

// RefCountOf returns the current number of external holds.
func (s *Store) RefCountOf(id currency.AccountID) uint32 {
	return s.records[id].RefCount
}

// CanClose reports whether the account has no outstanding holds.
func (s *Store) CanClose(id currency.AccountID) bool {
	return s.records[id].RefCount == 0
}

// --- snapshot / restore ---

// Snapshot returns a copy of all records.
func (s *Store) Snapshot() map[currency.AccountID]Record {
	out := make(map[currency.AccountID]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Restore replaces all records with the given set. No notifications fire.
func (s *Store) Restore(records map[currency.AccountID]Record) {
	s.records = make(map[currency.AccountID]Record, len(records))
	for k, v := range records {
		s.records[k] = v
	}
}
