package exchange

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"OmniLedger/internal/accounts"
	"OmniLedger/internal/currency"
	"OmniLedger/internal/ledger"
)

const (
	natCur = currency.ID("OMN")
	stbCur = currency.ID("OUSD")
	btcCur = currency.ID("BTC")
)

var treasury = currency.ModuleAccountID("omni/trsy")

// newDexFixture funds a provider and seeds the stable/native pool with
// 10_000 stable against 10_000 native. Opening the pool account reserves the
// 100 deposit, leaving 9_900 native in reserve.
func newDexFixture(t *testing.T) (*Dex, *ledger.Ledger, currency.AccountID) {
	t.Helper()
	store := accounts.NewStore(100, treasury, nil, nil, zerolog.Nop())
	l := ledger.New(store, natCur, 0, zerolog.Nop())
	d := NewDex(l, zerolog.Nop())

	provider := uuid.New()
	if err := l.Deposit(natCur, provider, 20_000); err != nil {
		t.Fatalf("fund provider: %v", err)
	}
	if err := l.Deposit(stbCur, provider, 10_000); err != nil {
		t.Fatalf("fund provider stable: %v", err)
	}
	if err := d.AddLiquidity(provider, stbCur, natCur, 10_000, 10_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	return d, l, provider
}

func TestPoolAccount_OrderIndependent(t *testing.T) {
	if PoolAccount(stbCur, natCur) != PoolAccount(natCur, stbCur) {
		t.Error("pool derivation should not depend on pair order")
	}
	if PoolAccount(stbCur, natCur) == PoolAccount(btcCur, natCur) {
		t.Error("different pairs should derive different pools")
	}
}

func TestAddLiquidity_SeedsReserves(t *testing.T) {
	d, _, _ := newDexFixture(t)

	stable, native := d.Reserves(stbCur, natCur)
	if stable != 10_000 {
		t.Errorf("stable reserve: got %d, want 10000", stable)
	}
	if native != 9_900 {
		t.Errorf("native reserve: got %d, want 9900", native)
	}
}

func TestSwapWithExactTarget_ConstantProductPricing(t *testing.T) {
	d, l, _ := newDexFixture(t)
	trader := uuid.New()
	if err := l.Deposit(stbCur, trader, 500); err != nil {
		t.Fatalf("fund trader: %v", err)
	}

	slip := currency.Ratio(50_000) // 5%
	if err := d.SwapWithExactTarget(trader, []currency.ID{stbCur, natCur}, 100, 500, &slip); err != nil {
		t.Fatalf("swap: %v", err)
	}

	// in = 10000*100/(9900-100) + 1 = 103
	if got := l.FreeBalance(stbCur, trader); got != 397 {
		t.Errorf("trader stable: got %d, want 397", got)
	}
	// The bought native opened the trader's account: 100 went straight into
	// the deposit reservation.
	if got := l.ReservedBalance(natCur, trader); got != 100 {
		t.Errorf("trader native reserved: got %d, want 100", got)
	}
	stable, native := d.Reserves(stbCur, natCur)
	if stable != 10_103 {
		t.Errorf("stable reserve: got %d, want 10103", stable)
	}
	if native != 9_800 {
		t.Errorf("native reserve: got %d, want 9800", native)
	}
}

func TestSwapWithExactTarget_SlippageLimit(t *testing.T) {
	d, l, _ := newDexFixture(t)
	trader := uuid.New()
	if err := l.Deposit(stbCur, trader, 20_000); err != nil {
		t.Fatalf("fund trader: %v", err)
	}

	// Taking half the pool moves the price way past 5%.
	slip := currency.Ratio(50_000)
	err := d.SwapWithExactTarget(trader, []currency.ID{stbCur, natCur}, 5_000, 20_000, &slip)
	if !errors.Is(err, ErrExceedsSlippage) {
		t.Fatalf("got %v, want ErrExceedsSlippage", err)
	}

	// Without a limit the same trade clears.
	if err := d.SwapWithExactTarget(trader, []currency.ID{stbCur, natCur}, 5_000, 20_000, nil); err != nil {
		t.Fatalf("unlimited swap: %v", err)
	}
}

func TestSwapWithExactTarget_InsufficientLiquidity(t *testing.T) {
	d, l, _ := newDexFixture(t)
	trader := uuid.New()
	if err := l.Deposit(stbCur, trader, 1000); err != nil {
		t.Fatalf("fund trader: %v", err)
	}

	err := d.SwapWithExactTarget(trader, []currency.ID{stbCur, natCur}, 9_900, 1000, nil)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("draining the pool: got %v, want ErrInsufficientLiquidity", err)
	}

	err = d.SwapWithExactTarget(trader, []currency.ID{btcCur, natCur}, 10, 1000, nil)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("missing pool: got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestSwapWithExactTarget_SupplyLimit(t *testing.T) {
	d, l, _ := newDexFixture(t)
	trader := uuid.New()
	if err := l.Deposit(stbCur, trader, 500); err != nil {
		t.Fatalf("fund trader: %v", err)
	}

	err := d.SwapWithExactTarget(trader, []currency.ID{stbCur, natCur}, 100, 50, nil)
	if !errors.Is(err, ErrExceedsSupply) {
		t.Errorf("got %v, want ErrExceedsSupply", err)
	}
}

func TestSwapWithExactTarget_InvalidPath(t *testing.T) {
	d, _, _ := newDexFixture(t)
	trader := uuid.New()

	if err := d.SwapWithExactTarget(trader, []currency.ID{stbCur}, 100, 500, nil); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("short path: got %v, want ErrInvalidPath", err)
	}
	if err := d.SwapWithExactTarget(trader, []currency.ID{stbCur, stbCur}, 100, 500, nil); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("repeated hop: got %v, want ErrInvalidPath", err)
	}
}

func TestSwapWithExactTarget_MultiHop(t *testing.T) {
	d, l, provider := newDexFixture(t)
	if err := l.Deposit(btcCur, provider, 10_000); err != nil {
		t.Fatalf("fund provider btc: %v", err)
	}
	if err := l.Deposit(stbCur, provider, 10_000); err != nil {
		t.Fatalf("fund provider stable: %v", err)
	}
	if err := d.AddLiquidity(provider, btcCur, stbCur, 10_000, 10_000); err != nil {
		t.Fatalf("add btc liquidity: %v", err)
	}

	trader := uuid.New()
	if err := l.Deposit(btcCur, trader, 500); err != nil {
		t.Fatalf("fund trader: %v", err)
	}

	if err := d.SwapWithExactTarget(trader, []currency.ID{btcCur, stbCur, natCur}, 100, 500, nil); err != nil {
		t.Fatalf("swap: %v", err)
	}

	nativeTotal := l.FreeBalance(natCur, trader) + l.ReservedBalance(natCur, trader)
	if nativeTotal != 100 {
		t.Errorf("trader native total: got %d, want 100", nativeTotal)
	}
	if got := l.FreeBalance(btcCur, trader); got >= 500 {
		t.Errorf("trader btc should have been spent, got %d", got)
	}
}

func TestSwapWithExactTarget_RollsBackOnPartialFailure(t *testing.T) {
	d, l, _ := newDexFixture(t)
	trader := uuid.New()
	if err := l.Deposit(stbCur, trader, 50); err != nil {
		t.Fatalf("fund trader: %v", err)
	}

	// Claimed supply exceeds the trader's actual balance, so settlement fails
	// after pricing succeeded.
	err := d.SwapWithExactTarget(trader, []currency.ID{stbCur, natCur}, 100, 10_000, nil)
	if err == nil {
		t.Fatal("expected settlement failure")
	}

	if got := l.FreeBalance(stbCur, trader); got != 50 {
		t.Errorf("trader stable after rollback: got %d, want 50", got)
	}
	stable, native := d.Reserves(stbCur, natCur)
	if stable != 10_000 || native != 9_900 {
		t.Errorf("reserves after rollback: got %d/%d, want 10000/9900", stable, native)
	}
}
