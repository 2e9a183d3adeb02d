package accounts

import (
	"fmt"

	"github.com/rs/zerolog"

	"OmniLedger/internal/currency"
)

// Balances is the slice of the currency ledger the closer works through. The
// ledger implements it; the indirection exists because the ledger already
// depends on this package.
type Balances interface {
	FreeBalance(cur currency.ID, id currency.AccountID) uint64
	ReservedBalance(cur currency.ID, id currency.AccountID) uint64
	Unreserve(cur currency.ID, id currency.AccountID, amount uint64) uint64
	Transfer(cur currency.ID, from, to currency.AccountID, amount uint64) error
	WithTransaction(fn func() error) error
}

// Closer performs voluntary account closure: it drains every balance the
// account holds to a recipient and retires the record.
type Closer struct {
	store  *Store
	bal    Balances
	native currency.ID
	nonFee []currency.ID
	log    zerolog.Logger
}

// NewCloser creates a closer. nonFee is the configured list of non-fee
// currencies the runtime tracks; only those are drained on close.
func NewCloser(store *Store, bal Balances, native currency.ID, nonFee []currency.ID, log zerolog.Logger) *Closer {
	return &Closer{store: store, bal: bal, native: native, nonFee: nonFee, log: log}
}

// CloseAccount drains who's balances to recipient (the treasury when nil) and
// retires the account. It refuses when external holds are outstanding, when
// fee-currency reserves exceed the refundable new-account deposit, or when any
// non-fee currency still has reserved balance. All-or-nothing: a refusal
// leaves every balance untouched.
func (c *Closer) CloseAccount(who currency.AccountID, recipient *currency.AccountID) error {
	to := c.store.Treasury()
	if recipient != nil {
		to = *recipient
	}

	err := c.bal.WithTransaction(func() error {
		if !c.store.CanClose(who) {
			return ErrNonZeroRefCount
		}

		reserved := c.bal.ReservedBalance(c.native, who)
		if reserved > c.store.Deposit() {
			return ErrStillHasActiveReserved
		}
		c.bal.Unreserve(c.native, who, reserved)

		if err := c.bal.Transfer(c.native, who, to, c.bal.FreeBalance(c.native, who)); err != nil {
			return fmt.Errorf("recycle fee currency: %w", err)
		}

		for _, cur := range c.nonFee {
			if c.bal.ReservedBalance(cur, who) != 0 {
				return ErrStillHasActiveReserved
			}
			if err := c.bal.Transfer(cur, who, to, c.bal.FreeBalance(cur, who)); err != nil {
				return fmt.Errorf("recycle %s: %w", cur, err)
			}
		}

		c.store.Remove(who)
		return nil
	})
	if err != nil {
		return err
	}

	c.log.Info().Stringer("account", who).Stringer("recipient", to).Msg("account closed")
	return nil
}
