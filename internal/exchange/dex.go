package exchange

import (
	"errors"
	"math"

	"github.com/rs/zerolog"

	"OmniLedger/internal/currency"
	"OmniLedger/internal/ledger"
)

var (
	// ErrInvalidPath means the swap path is too short or repeats a currency.
	ErrInvalidPath = errors.New("invalid swap path")

	// ErrInsufficientLiquidity means a pool cannot supply the requested output.
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")

	// ErrExceedsSupply means the required input exceeds the caller's limit.
	ErrExceedsSupply = errors.New("swap exceeds maximum supply")

	// ErrExceedsSlippage means the execution price moved too far off spot.
	ErrExceedsSlippage = errors.New("swap exceeds maximum slippage")
)

// Dex is a constant-product exchange. Pool reserves are ordinary ledger
// balances held by derived per-pair pool accounts, so swaps roll back with the
// surrounding atomic scope like any other transfer.
type Dex struct {
	l   *ledger.Ledger
	log zerolog.Logger
}

// NewDex creates an exchange over the ledger.
func NewDex(l *ledger.Ledger, log zerolog.Logger) *Dex {
	return &Dex{l: l, log: log}
}

// PoolAccount derives the account holding a pair's reserves. The pair is
// ordered canonically so both directions address the same pool.
func PoolAccount(a, b currency.ID) currency.AccountID {
	if b < a {
		a, b = b, a
	}
	return currency.ModuleAccountID("pool:" + string(a) + ":" + string(b))
}

// AddLiquidity moves both legs from the provider into the pair's pool.
// Proportionality is the provider's problem; this exchange tracks no LP
// shares.
func (d *Dex) AddLiquidity(provider currency.AccountID, curA, curB currency.ID, amountA, amountB uint64) error {
	if curA == curB {
		return ErrInvalidPath
	}
	pool := PoolAccount(curA, curB)
	return d.l.WithTransaction(func() error {
		if err := d.l.Transfer(curA, provider, pool, amountA); err != nil {
			return err
		}
		return d.l.Transfer(curB, provider, pool, amountB)
	})
}

// Reserves returns a pool's current holdings of both currencies.
func (d *Dex) Reserves(curA, curB currency.ID) (uint64, uint64) {
	pool := PoolAccount(curA, curB)
	return d.l.FreeBalance(curA, pool), d.l.FreeBalance(curB, pool)
}

// SwapWithExactTarget buys exactly target units of the path's final currency
// for who, spending at most maxSupply units of the first. Every hop's
// execution price must stay within maxSlippage of its spot price when a limit
// is given. The whole route settles atomically.
func (d *Dex) SwapWithExactTarget(who currency.AccountID, path []currency.ID, target, maxSupply uint64, maxSlippage *currency.Ratio) error {
	if len(path) < 2 {
		return ErrInvalidPath
	}
	for i := 1; i < len(path); i++ {
		if path[i] == path[i-1] {
			return ErrInvalidPath
		}
	}
	if target == 0 {
		return nil
	}

	// Work the route backwards: the target fixes the last hop's output, each
	// hop's input is the previous hop's output.
	amounts := make([]uint64, len(path))
	amounts[len(path)-1] = target
	for i := len(path) - 2; i >= 0; i-- {
		in, err := d.amountIn(path[i], path[i+1], amounts[i+1], maxSlippage)
		if err != nil {
			return err
		}
		amounts[i] = in
	}
	if amounts[0] > maxSupply {
		return ErrExceedsSupply
	}

	return d.l.WithTransaction(func() error {
		for i := 0; i < len(path)-1; i++ {
			pool := PoolAccount(path[i], path[i+1])
			if err := d.l.Transfer(path[i], who, pool, amounts[i]); err != nil {
				return err
			}
			if err := d.l.Transfer(path[i+1], pool, who, amounts[i+1]); err != nil {
				return err
			}
		}
		return nil
	})
}

// amountIn prices one hop: the constant-product input needed to take
// amountOut from the pool, rounded up.
func (d *Dex) amountIn(curIn, curOut currency.ID, amountOut uint64, maxSlippage *currency.Ratio) (uint64, error) {
	pool := PoolAccount(curIn, curOut)
	reserveIn := d.l.FreeBalance(curIn, pool)
	reserveOut := d.l.FreeBalance(curOut, pool)
	if reserveIn == 0 || reserveOut <= amountOut {
		return 0, ErrInsufficientLiquidity
	}

	in := currency.MulDiv(reserveIn, amountOut, reserveOut-amountOut)
	if in == math.MaxUint64 {
		return 0, ErrInsufficientLiquidity
	}
	in = currency.SatAdd(in, 1)

	if maxSlippage != nil {
		execPpm := currency.MulDiv(in, currency.RatioScale, amountOut)
		spotPpm := currency.MulDiv(reserveIn, currency.RatioScale, reserveOut)
		allowed := currency.SatAdd(spotPpm, maxSlippage.Apply(spotPpm))
		if execPpm > allowed {
			return 0, ErrExceedsSlippage
		}
	}
	return in, nil
}
