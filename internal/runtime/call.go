package runtime

import (
	"errors"
	"fmt"

	"OmniLedger/internal/accounts"
	"OmniLedger/internal/currency"
	"OmniLedger/internal/exchange"
	"OmniLedger/internal/ledger"
	"OmniLedger/internal/payment"
)

// Env is the state a call dispatches against.
type Env struct {
	Ledger *ledger.Ledger
	Closer *accounts.Closer
	Dex    *exchange.Dex
}

// Call is a dispatchable operation carried by a signed transaction.
type Call interface {
	// CallType names the call on the wire and in the event log.
	CallType() string

	// DispatchInfo declares the call's cost before execution.
	DispatchInfo() payment.DispatchInfo

	// Dispatch executes the call for the signing origin.
	Dispatch(env *Env, origin currency.AccountID) (payment.PostDispatchInfo, error)
}

// Declared weights per call. Transfers that touch the open-account flow cost
// more than the plain ledger write.
const (
	weightTransfer     = 120_000
	weightCloseAccount = 250_000
	weightSwap         = 180_000
	weightAddLiquidity = 150_000
)

// TransferCall moves free balance from the signer to another account.
type TransferCall struct {
	Currency currency.ID        `json:"currency"`
	To       currency.AccountID `json:"to"`
	Amount   uint64             `json:"amount"`
}

func (c *TransferCall) CallType() string { return "transfer" }

func (c *TransferCall) DispatchInfo() payment.DispatchInfo {
	return payment.DispatchInfo{Weight: weightTransfer, Class: payment.ClassNormal, PaysFee: true}
}

func (c *TransferCall) Dispatch(env *Env, origin currency.AccountID) (payment.PostDispatchInfo, error) {
	if err := env.Ledger.Transfer(c.Currency, origin, c.To, c.Amount); err != nil {
		return payment.PostDispatchInfo{}, fmt.Errorf("transfer: %w", err)
	}
	return payment.PostDispatchInfo{}, nil
}

// CloseAccountCall retires the signer's account, recycling its balances to
// the recipient or, when absent, the treasury.
type CloseAccountCall struct {
	Recipient *currency.AccountID `json:"recipient,omitempty"`
}

func (c *CloseAccountCall) CallType() string { return "close_account" }

func (c *CloseAccountCall) DispatchInfo() payment.DispatchInfo {
	return payment.DispatchInfo{Weight: weightCloseAccount, Class: payment.ClassNormal, PaysFee: true}
}

func (c *CloseAccountCall) Dispatch(env *Env, origin currency.AccountID) (payment.PostDispatchInfo, error) {
	if err := env.Closer.CloseAccount(origin, c.Recipient); err != nil {
		return payment.PostDispatchInfo{}, fmt.Errorf("close account: %w", err)
	}
	return payment.PostDispatchInfo{}, nil
}

// SwapCall buys an exact target amount along a path, spending at most
// MaxSupply of the first currency.
type SwapCall struct {
	Path      []currency.ID `json:"path"`
	Target    uint64        `json:"target"`
	MaxSupply uint64        `json:"max_supply"`
}

func (c *SwapCall) CallType() string { return "swap" }

func (c *SwapCall) DispatchInfo() payment.DispatchInfo {
	return payment.DispatchInfo{Weight: weightSwap, Class: payment.ClassNormal, PaysFee: true}
}

func (c *SwapCall) Dispatch(env *Env, origin currency.AccountID) (payment.PostDispatchInfo, error) {
	if err := env.Dex.SwapWithExactTarget(origin, c.Path, c.Target, c.MaxSupply, nil); err != nil {
		return payment.PostDispatchInfo{}, fmt.Errorf("swap: %w", err)
	}
	return payment.PostDispatchInfo{}, nil
}

// AddLiquidityCall seeds or grows a pool from the signer's balances.
type AddLiquidityCall struct {
	CurrencyA currency.ID `json:"currency_a"`
	CurrencyB currency.ID `json:"currency_b"`
	AmountA   uint64      `json:"amount_a"`
	AmountB   uint64      `json:"amount_b"`
}

func (c *AddLiquidityCall) CallType() string { return "add_liquidity" }

func (c *AddLiquidityCall) DispatchInfo() payment.DispatchInfo {
	return payment.DispatchInfo{Weight: weightAddLiquidity, Class: payment.ClassNormal, PaysFee: true}
}

func (c *AddLiquidityCall) Dispatch(env *Env, origin currency.AccountID) (payment.PostDispatchInfo, error) {
	if err := env.Dex.AddLiquidity(origin, c.CurrencyA, c.CurrencyB, c.AmountA, c.AmountB); err != nil {
		return payment.PostDispatchInfo{}, fmt.Errorf("add liquidity: %w", err)
	}
	return payment.PostDispatchInfo{}, nil
}

// NewCall returns an empty call of the named type, for decoding.
func NewCall(callType string) (Call, error) {
	switch callType {
	case "transfer":
		return &TransferCall{}, nil
	case "close_account":
		return &CloseAccountCall{}, nil
	case "swap":
		return &SwapCall{}, nil
	case "add_liquidity":
		return &AddLiquidityCall{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCall, callType)
	}
}

// ErrUnknownCall means the transaction named a call type this runtime does
// not implement.
var ErrUnknownCall = errors.New("unknown call type")
