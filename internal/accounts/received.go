package accounts

import (
	"github.com/rs/zerolog"

	"OmniLedger/internal/currency"
)

// Swapper is the slice of the exchange the receive hook uses: buy an exact
// amount of the target currency, spending at most maxSupply along the path.
type Swapper interface {
	SwapWithExactTarget(who currency.AccountID, path []currency.ID, target, maxSupply uint64, maxSlippage *currency.Ratio) error
}

// FreeReader reads free balances; implemented by the ledger.
type FreeReader interface {
	FreeBalance(cur currency.ID, id currency.AccountID) uint64
}

// ReceiveHook opens accounts on incoming funds. When an account with no
// explicit record receives a non-fee currency, it tries to swap part of the
// received funds into exactly the new-account deposit of fee currency; the
// resulting fee-currency credit runs the normal open-account flow.
//
// Failure is swallowed: the account simply stays implicit and the next
// receive retries.
type ReceiveHook struct {
	store        *Store
	bal          FreeReader
	dex          Swapper
	native       currency.ID
	intermediate currency.ID
	maxSlippage  currency.Ratio

	busy bool

	log zerolog.Logger
}

// NewReceiveHook creates the hook. intermediate is the routing currency for
// swap paths that cannot reach the fee currency directly.
func NewReceiveHook(store *Store, bal FreeReader, dex Swapper, native, intermediate currency.ID, maxSlippage currency.Ratio, log zerolog.Logger) *ReceiveHook {
	return &ReceiveHook{
		store:        store,
		bal:          bal,
		dex:          dex,
		native:       native,
		intermediate: intermediate,
		maxSlippage:  maxSlippage,
		log:          log,
	}
}

// OnReceived implements the ledger's receive hook. The busy guard stops the
// swap's own internal deposits from re-entering the hook.
func (h *ReceiveHook) OnReceived(who currency.AccountID, cur currency.ID, amount uint64) {
	if h.busy || cur == h.native || h.store.IsExplicit(who) {
		return
	}
	h.busy = true
	defer func() { h.busy = false }()

	path := []currency.ID{cur, h.intermediate, h.native}
	if cur == h.intermediate {
		path = []currency.ID{h.intermediate, h.native}
	}

	maxSupply := h.bal.FreeBalance(cur, who)
	slippage := h.maxSlippage
	if err := h.dex.SwapWithExactTarget(who, path, h.store.Deposit(), maxSupply, &slippage); err != nil {
		h.log.Debug().
			Stringer("account", who).
			Str("currency", string(cur)).
			Err(err).
			Msg("auto-open swap failed, account stays implicit")
	}
}
