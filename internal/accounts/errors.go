package accounts

import "errors"

var (
	// ErrNotEnoughBalance signals balance insufficiency at the dispatch layer.
	ErrNotEnoughBalance = errors.New("not enough balance")

	// ErrNonZeroRefCount means the account still has lock-derived holds and
	// cannot be closed.
	ErrNonZeroRefCount = errors.New("account ref count is not zero")

	// ErrStillHasActiveReserved means the account has reserved balance beyond
	// what closing is willing to discard (non-fee reserves, or fee-currency
	// reserves above the new-account deposit).
	ErrStillHasActiveReserved = errors.New("account still has active reserved balance")
)
