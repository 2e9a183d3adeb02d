package payment

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"OmniLedger/internal/currency"
	"OmniLedger/internal/ledger"
)

// Identifier is the wire tag of this signed extension.
const Identifier = "ChargeTransactionPayment"

// ErrPayment means the payer could not cover the fee, even after trying to
// swap other currencies for it.
var ErrPayment = errors.New("inability to pay some fees")

// errDiscard unwinds the atomic scope Validate uses to dry-run the charge.
var errDiscard = errors.New("discard validation scope")

// Swapper buys an exact amount of the final path currency; implemented by the
// exchange.
type Swapper interface {
	SwapWithExactTarget(who currency.AccountID, path []currency.ID, target, maxSupply uint64, maxSlippage *currency.Ratio) error
}

// FeeSink receives the charged fee and tip once a transaction settles.
type FeeSink interface {
	OnTransactionFee(fee, tip uint64)
}

// Charge is the signed-extension payload a transaction carries: just the tip.
type Charge struct {
	Tip uint64
}

// Pre carries the pre-dispatch charge into post-dispatch settlement.
type Pre struct {
	Tip       uint64
	Payer     currency.AccountID
	Imbalance *ledger.Imbalance
	Fee       uint64
}

// ChargerConfig is the swap-fallback and priority configuration.
type ChargerConfig struct {
	// NonFeeCurrencies is tried in declared order when the payer lacks fee
	// currency.
	NonFeeCurrencies []currency.ID

	// Intermediate routes swap paths that cannot reach the fee currency
	// directly.
	Intermediate currency.ID

	// MaxSwapSlippage bounds the fee swap's execution price.
	MaxSwapSlippage currency.Ratio

	// MaxBlockWeight and MaxBlockLength scale fee into priority.
	MaxBlockWeight uint64
	MaxBlockLength uint64
}

// Charger implements transaction-fee charging: withdraw up front, refund the
// overestimate after dispatch, hand the rest to the fee sink.
type Charger struct {
	l    *ledger.Ledger
	dex  Swapper
	calc *FeeCalculator
	sink FeeSink
	cfg  ChargerConfig
	log  zerolog.Logger
}

// NewCharger creates a charger. sink may be nil.
func NewCharger(l *ledger.Ledger, dex Swapper, calc *FeeCalculator, sink FeeSink, cfg ChargerConfig, log zerolog.Logger) *Charger {
	return &Charger{l: l, dex: dex, calc: calc, sink: sink, cfg: cfg, log: log}
}

// Validate dry-runs the charge and prices the transaction for the pool. The
// withdrawal happens inside a discarded atomic scope; no balance moves.
func (c *Charger) Validate(who currency.AccountID, info DispatchInfo, length uint32, tip uint64) (ValidTransaction, error) {
	fee := c.calc.ComputeFee(length, info, tip)

	err := c.l.WithTransaction(func() error {
		if _, err := c.withdrawFee(who, tip, fee); err != nil {
			return err
		}
		return errDiscard
	})
	if err != nil && !errors.Is(err, errDiscard) {
		return ValidTransaction{}, err
	}

	return ValidTransaction{Priority: c.Priority(length, info, fee)}, nil
}

// PreDispatch charges the full estimated fee before the call runs.
func (c *Charger) PreDispatch(who currency.AccountID, info DispatchInfo, length uint32, tip uint64) (*Pre, error) {
	fee := c.calc.ComputeFee(length, info, tip)
	imb, err := c.withdrawFee(who, tip, fee)
	if err != nil {
		return nil, err
	}
	return &Pre{Tip: tip, Payer: who, Imbalance: imb, Fee: fee}, nil
}

// PostDispatch settles the charge: refund the gap between estimated and actual
// fee, then split what remains into fee and tip for the sink. A refund that
// cannot land (the payer closed mid-flight) is forfeited to the sink. Returns
// the settled split.
func (c *Charger) PostDispatch(pre *Pre, info DispatchInfo, post PostDispatchInfo, length uint32) (feePaid, tipPaid uint64) {
	if pre == nil {
		return 0, 0
	}

	actualFee := c.calc.ComputeActualFee(length, info, post, pre.Tip)
	refund := currency.SatSub(pre.Fee, actualFee)
	if refund > 0 {
		if err := c.l.DepositIntoExisting(c.l.NativeCurrency(), pre.Payer, refund); err != nil {
			c.log.Debug().Stringer("payer", pre.Payer).Uint64("refund", refund).Err(err).
				Msg("fee refund forfeited")
			refund = 0
		}
	}

	paid := currency.SatSub(pre.Imbalance.Amount(), refund)
	if paid == 0 {
		return 0, 0
	}
	tipPart := pre.Tip
	if tipPart > paid {
		tipPart = paid
	}
	if c.sink != nil {
		c.sink.OnTransactionFee(paid-tipPart, tipPart)
	}
	return paid - tipPart, tipPart
}

// Priority scales the fee by how little of the block the transaction takes:
// fee * min(maxWeight/weight, maxLength/length), saturating.
func (c *Charger) Priority(length uint32, info DispatchInfo, fee uint64) uint64 {
	weight := info.Weight
	if weight == 0 {
		weight = 1
	}
	l := uint64(length)
	if l == 0 {
		l = 1
	}
	bounded := c.cfg.MaxBlockWeight / weight
	if perLen := c.cfg.MaxBlockLength / l; perLen < bounded {
		bounded = perLen
	}
	return currency.SatMul(fee, bounded)
}

// withdrawFee takes the fee from the payer's free fee-currency balance. When
// that balance cannot cover it, each configured non-fee currency is tried in
// order as swap fuel to buy exactly the missing fee; the first workable swap
// wins. The withdrawal itself keeps the account alive.
func (c *Charger) withdrawFee(who currency.AccountID, tip, fee uint64) (*ledger.Imbalance, error) {
	if fee == 0 {
		return &ledger.Imbalance{}, nil
	}

	reasons := ledger.ReasonTransactionPayment
	if tip > 0 {
		reasons |= ledger.ReasonTip
	}

	native := c.l.NativeCurrency()
	free := c.l.FreeBalance(native, who)
	covered := free >= fee && c.l.EnsureCanWithdraw(native, who, fee, reasons, free-fee) == nil

	if !covered {
		for _, cur := range c.cfg.NonFeeCurrencies {
			path := []currency.ID{cur, c.cfg.Intermediate, native}
			if cur == c.cfg.Intermediate {
				path = []currency.ID{cur, native}
			}
			slip := c.cfg.MaxSwapSlippage
			supply := c.l.FreeBalance(cur, who)
			if err := c.dex.SwapWithExactTarget(who, path, fee, supply, &slip); err == nil {
				break
			}
		}
	}

	imb, err := c.l.Withdraw(native, who, fee, reasons, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayment, err)
	}
	return imb, nil
}
