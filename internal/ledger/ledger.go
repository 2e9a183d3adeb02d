package ledger

import (
	"errors"

	"github.com/rs/zerolog"

	"OmniLedger/internal/accounts"
	"OmniLedger/internal/currency"
)

var (
	// ErrInsufficientFunds means the free balance cannot cover the operation.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrKeepAlive means a withdrawal would kill an account that must stay alive.
	ErrKeepAlive = errors.New("withdrawal would kill account")

	// ErrLiquidityRestrictions means active locks forbid the withdrawal.
	ErrLiquidityRestrictions = errors.New("account liquidity restrictions prevent withdrawal")

	// ErrDeadAccount means a deposit targeted an account with no explicit record.
	ErrDeadAccount = errors.New("account not found")
)

// WithdrawReasons is a bitset describing why funds leave an account; locks
// only restrict withdrawals whose reasons intersect theirs.
type WithdrawReasons uint8

const (
	ReasonTransfer WithdrawReasons = 1 << iota
	ReasonTransactionPayment
	ReasonTip
	ReasonFee
)

// Imbalance represents fee-currency value withdrawn from circulation and not
// yet redistributed. It exists between fee withdrawal and fee distribution.
type Imbalance struct {
	amount uint64
}

// Amount returns the withdrawn value.
func (i *Imbalance) Amount() uint64 {
	if i == nil {
		return 0
	}
	return i.amount
}

// ReceiveHook observes deposits of non-fee currencies into accounts that have
// no explicit record yet.
type ReceiveHook interface {
	OnReceived(id currency.AccountID, cur currency.ID, amount uint64)
}

// LockID names a lock; each subsystem uses a fixed 8-byte ASCII tag.
type LockID [8]byte

// Lock restricts withdrawals below Amount for intersecting reasons.
type Lock struct {
	ID      LockID
	Amount  uint64
	Reasons WithdrawReasons
}

type balanceKey struct {
	id  currency.AccountID
	cur currency.ID
}

type balance struct {
	free     uint64
	reserved uint64
}

// Ledger holds per-account, per-currency free and reserved balances.
//
// Fee-currency balances live inside the account tracker's records so that
// every mutation routes through its existence machinery; all other currencies
// live in the ledger's own map and fire the receive hook when a deposit lands
// on an account with no explicit record.
//
// Not thread-safe — only accessed from the single-threaded executive.
type Ledger struct {
	store      *accounts.Store
	native     currency.ID
	minBalance uint64

	balances map[balanceKey]balance
	locks    map[balanceKey][]Lock

	hook ReceiveHook
	log  zerolog.Logger

	txDepth int
}

// New creates a ledger bound to the account tracker. The tracker's native
// backend is bound here; the receive hook is attached separately once the
// exchange exists.
func New(store *accounts.Store, native currency.ID, minBalance uint64, log zerolog.Logger) *Ledger {
	l := &Ledger{
		store:      store,
		native:     native,
		minBalance: minBalance,
		balances:   make(map[balanceKey]balance),
		locks:      make(map[balanceKey][]Lock),
		log:        log,
	}
	store.BindNative(l)
	return l
}

// SetReceiveHook attaches the auto-open-on-receive hook.
func (l *Ledger) SetReceiveHook(hook ReceiveHook) {
	l.hook = hook
}

// NativeCurrency returns the fee currency identity.
func (l *Ledger) NativeCurrency() currency.ID {
	return l.native
}

// FreeBalance returns the free balance of an account in a currency.
func (l *Ledger) FreeBalance(cur currency.ID, id currency.AccountID) uint64 {
	if cur == l.native {
		return l.store.Get(id).Free
	}
	return l.balances[balanceKey{id, cur}].free
}

// ReservedBalance returns the reserved balance of an account in a currency.
func (l *Ledger) ReservedBalance(cur currency.ID, id currency.AccountID) uint64 {
	if cur == l.native {
		return l.store.Get(id).Reserved
	}
	return l.balances[balanceKey{id, cur}].reserved
}

// Deposit credits free balance. A fee-currency deposit onto a fresh identity
// runs the tracker's open-account flow; a non-fee deposit onto a fresh
// identity fires the receive hook after the credit lands.
func (l *Ledger) Deposit(cur currency.ID, to currency.AccountID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if cur == l.native {
		return l.store.TryMutateExists(to, func(data *accounts.Data) (*accounts.Data, error) {
			d := accounts.Data{}
			if data != nil {
				d = *data
			}
			d.Free = currency.SatAdd(d.Free, amount)
			return &d, nil
		})
	}

	wasExplicit := l.store.IsExplicit(to)
	key := balanceKey{to, cur}
	b := l.balances[key]
	b.free = currency.SatAdd(b.free, amount)
	l.balances[key] = b

	if !wasExplicit && l.hook != nil {
		l.hook.OnReceived(to, cur, amount)
	}
	return nil
}

// DepositIntoExisting credits free balance only if the account already has an
// explicit record. Used by fee refunds: a vanished payer forfeits the refund.
func (l *Ledger) DepositIntoExisting(cur currency.ID, to currency.AccountID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if !l.store.IsExplicit(to) {
		return ErrDeadAccount
	}
	if cur == l.native {
		return l.store.TryMutateExists(to, func(data *accounts.Data) (*accounts.Data, error) {
			d := *data
			d.Free = currency.SatAdd(d.Free, amount)
			return &d, nil
		})
	}
	key := balanceKey{to, cur}
	b := l.balances[key]
	b.free = currency.SatAdd(b.free, amount)
	l.balances[key] = b
	return nil
}

// Withdraw debits free balance. With keepAlive, a fee-currency withdrawal may
// not take the account below the minimum balance nor empty it entirely.
func (l *Ledger) Withdraw(cur currency.ID, from currency.AccountID, amount uint64, reasons WithdrawReasons, keepAlive bool) (*Imbalance, error) {
	if amount == 0 {
		return &Imbalance{}, nil
	}

	free := l.FreeBalance(cur, from)
	if free < amount {
		return nil, ErrInsufficientFunds
	}
	newFree := free - amount

	if err := l.EnsureCanWithdraw(cur, from, amount, reasons, newFree); err != nil {
		return nil, err
	}

	if keepAlive && cur == l.native {
		if newFree < l.minBalance {
			return nil, ErrKeepAlive
		}
		if newFree == 0 && l.ReservedBalance(cur, from) == 0 {
			return nil, ErrKeepAlive
		}
	}

	if err := l.setFree(cur, from, newFree); err != nil {
		return nil, err
	}
	return &Imbalance{amount: amount}, nil
}

// Transfer moves free balance between accounts. Transfers of zero, or to self,
// are no-ops.
func (l *Ledger) Transfer(cur currency.ID, from, to currency.AccountID, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}

	free := l.FreeBalance(cur, from)
	if free < amount {
		return ErrInsufficientFunds
	}
	if err := l.EnsureCanWithdraw(cur, from, amount, ReasonTransfer, free-amount); err != nil {
		return err
	}
	if err := l.setFree(cur, from, free-amount); err != nil {
		return err
	}
	return l.Deposit(cur, to, amount)
}

// Reserve moves free balance into the reserved pot.
func (l *Ledger) Reserve(cur currency.ID, id currency.AccountID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if l.FreeBalance(cur, id) < amount {
		return ErrInsufficientFunds
	}
	return l.mutateBalance(cur, id, func(free, reserved uint64) (uint64, uint64) {
		return free - amount, currency.SatAdd(reserved, amount)
	})
}

// Unreserve moves up to amount back from reserved to free and returns how much
// was actually unreserved.
func (l *Ledger) Unreserve(cur currency.ID, id currency.AccountID, amount uint64) uint64 {
	reserved := l.ReservedBalance(cur, id)
	if amount > reserved {
		amount = reserved
	}
	if amount == 0 {
		return 0
	}
	_ = l.mutateBalance(cur, id, func(free, res uint64) (uint64, uint64) {
		return currency.SatAdd(free, amount), res - amount
	})
	return amount
}

// EnsureCanWithdraw is the dry-run withdrawal check: it verifies that locks
// whose reasons intersect the withdrawal's allow the resulting free balance.
func (l *Ledger) EnsureCanWithdraw(cur currency.ID, id currency.AccountID, amount uint64, reasons WithdrawReasons, newFree uint64) error {
	if amount == 0 {
		return nil
	}
	if l.FreeBalance(cur, id) < amount {
		return ErrInsufficientFunds
	}
	for _, lock := range l.locks[balanceKey{id, cur}] {
		if lock.Reasons&reasons != 0 && newFree < lock.Amount {
			return ErrLiquidityRestrictions
		}
	}
	return nil
}

// SetLock creates or updates a lock. A new lock registers a hold on the
// account record, preventing closure until it is removed.
func (l *Ledger) SetLock(lockID LockID, cur currency.ID, id currency.AccountID, amount uint64, reasons WithdrawReasons) {
	key := balanceKey{id, cur}
	for i, lock := range l.locks[key] {
		if lock.ID == lockID {
			l.locks[key][i] = Lock{ID: lockID, Amount: amount, Reasons: reasons}
			return
		}
	}
	l.locks[key] = append(l.locks[key], Lock{ID: lockID, Amount: amount, Reasons: reasons})
	l.store.IncRef(id)
}

// RemoveLock removes a lock and releases its hold.
func (l *Ledger) RemoveLock(lockID LockID, cur currency.ID, id currency.AccountID) {
	key := balanceKey{id, cur}
	lcks := l.locks[key]
	for i, lock := range lcks {
		if lock.ID == lockID {
			l.locks[key] = append(lcks[:i], lcks[i+1:]...)
			if len(l.locks[key]) == 0 {
				delete(l.locks, key)
			}
			l.store.DecRef(id)
			return
		}
	}
}

// --- accounts.NativeBackend ---

// ReserveDeposit implements the tracker's open-account reservation.
func (l *Ledger) ReserveDeposit(id currency.AccountID, amount uint64) error {
	return l.Reserve(l.native, id, amount)
}

// SweepFree transfers an account's entire free fee-currency balance.
func (l *Ledger) SweepFree(from, to currency.AccountID) error {
	return l.Transfer(l.native, from, to, l.FreeBalance(l.native, from))
}

// --- internals ---

func (l *Ledger) setFree(cur currency.ID, id currency.AccountID, free uint64) error {
	return l.mutateBalance(cur, id, func(_, reserved uint64) (uint64, uint64) {
		return free, reserved
	})
}

func (l *Ledger) mutateBalance(cur currency.ID, id currency.AccountID, f func(free, reserved uint64) (uint64, uint64)) error {
	if cur == l.native {
		return l.store.TryMutateExists(id, func(data *accounts.Data) (*accounts.Data, error) {
			d := accounts.Data{}
			if data != nil {
				d = *data
			}
			d.Free, d.Reserved = f(d.Free, d.Reserved)
			return &d, nil
		})
	}
	key := balanceKey{id, cur}
	b := l.balances[key]
	b.free, b.reserved = f(b.free, b.reserved)
	l.balances[key] = b
	return nil
}
