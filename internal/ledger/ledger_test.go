package ledger

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"OmniLedger/internal/accounts"
	"OmniLedger/internal/currency"
)

const (
	testNative  = currency.ID("OMN")
	testStable  = currency.ID("OUSD")
	testDeposit = uint64(100)
)

var testTreasury = currency.ModuleAccountID("omni/trsy")

func newTestLedger(t *testing.T) (*Ledger, *accounts.Store) {
	t.Helper()
	store := accounts.NewStore(testDeposit, testTreasury, nil, nil, zerolog.Nop())
	l := New(store, testNative, 0, zerolog.Nop())
	return l, store
}

func TestDeposit_NativeOpensAccountWithReservedDeposit(t *testing.T) {
	l, store := newTestLedger(t)
	alice := uuid.New()

	if err := l.Deposit(testNative, alice, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if !store.IsExplicit(alice) {
		t.Fatal("account should be explicit after funded deposit")
	}
	if got := l.FreeBalance(testNative, alice); got != 900 {
		t.Errorf("free: got %d, want 900", got)
	}
	if got := l.ReservedBalance(testNative, alice); got != testDeposit {
		t.Errorf("reserved: got %d, want %d", got, testDeposit)
	}
}

func TestDeposit_DustRecycledToTreasury(t *testing.T) {
	l, store := newTestLedger(t)
	alice := uuid.New()

	if err := l.Deposit(testNative, alice, 50); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if store.IsExplicit(alice) {
		t.Error("dust account should have been erased")
	}
	if got := l.FreeBalance(testNative, alice); got != 0 {
		t.Errorf("dust account free: got %d, want 0", got)
	}
	if got := l.FreeBalance(testNative, testTreasury); got != 50 {
		t.Errorf("treasury free: got %d, want 50", got)
	}
}

func TestDeposit_ExactDepositLeavesZeroFree(t *testing.T) {
	l, store := newTestLedger(t)
	alice := uuid.New()

	if err := l.Deposit(testNative, alice, testDeposit); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !store.IsExplicit(alice) {
		t.Fatal("account should stay open with exactly the deposit")
	}
	if got := l.FreeBalance(testNative, alice); got != 0 {
		t.Errorf("free: got %d, want 0", got)
	}
	if got := l.ReservedBalance(testNative, alice); got != testDeposit {
		t.Errorf("reserved: got %d, want %d", got, testDeposit)
	}
}

type recordingHook struct {
	calls []struct {
		id     currency.AccountID
		cur    currency.ID
		amount uint64
	}
}

func (h *recordingHook) OnReceived(id currency.AccountID, cur currency.ID, amount uint64) {
	h.calls = append(h.calls, struct {
		id     currency.AccountID
		cur    currency.ID
		amount uint64
	}{id, cur, amount})
}

func TestDeposit_NonNativeFiresReceiveHookOnlyForImplicitAccounts(t *testing.T) {
	l, store := newTestLedger(t)
	hook := &recordingHook{}
	l.SetReceiveHook(hook)

	alice := uuid.New()
	if err := l.Deposit(testStable, alice, 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if len(hook.calls) != 1 {
		t.Fatalf("hook calls: got %d, want 1", len(hook.calls))
	}
	if hook.calls[0].cur != testStable || hook.calls[0].amount != 500 {
		t.Errorf("hook saw %v %d, want %v 500", hook.calls[0].cur, hook.calls[0].amount, testStable)
	}

	// Explicit accounts never trigger the hook.
	bob := uuid.New()
	if err := l.Deposit(testNative, bob, 1000); err != nil {
		t.Fatalf("fund bob: %v", err)
	}
	if !store.IsExplicit(bob) {
		t.Fatal("bob should be explicit")
	}
	if err := l.Deposit(testStable, bob, 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if len(hook.calls) != 1 {
		t.Errorf("hook should not fire for explicit accounts, got %d calls", len(hook.calls))
	}
}

func TestDepositIntoExisting_RejectsImplicitAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	alice := uuid.New()

	if err := l.DepositIntoExisting(testNative, alice, 10); !errors.Is(err, ErrDeadAccount) {
		t.Errorf("got %v, want ErrDeadAccount", err)
	}
}

func TestWithdraw_KeepAliveRejectsEmptying(t *testing.T) {
	l, _ := newTestLedger(t)
	alice := uuid.New()
	if err := l.Deposit(testStable, alice, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	// alice holds stable only, so a native withdrawal fails on funds before
	// keep-alive enters the picture.
	if _, err := l.Withdraw(testNative, alice, 1, ReasonFee, true); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}

	bob := uuid.New()
	if err := l.Deposit(testNative, bob, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	// The reserved deposit keeps bob alive even at zero free.
	imb, err := l.Withdraw(testNative, bob, 900, ReasonFee, true)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if imb.Amount() != 900 {
		t.Errorf("imbalance: got %d, want 900", imb.Amount())
	}
}

func TestWithdraw_LockBlocksIntersectingReasons(t *testing.T) {
	l, store := newTestLedger(t)
	alice := uuid.New()
	if err := l.Deposit(testNative, alice, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}

	var vesting LockID
	copy(vesting[:], "vesting ")
	l.SetLock(vesting, testNative, alice, 800, ReasonTransfer)

	if store.CanClose(alice) {
		t.Error("account with an active lock should not be closable")
	}

	if err := l.Transfer(testNative, alice, uuid.New(), 200); !errors.Is(err, ErrLiquidityRestrictions) {
		t.Errorf("locked transfer: got %v, want ErrLiquidityRestrictions", err)
	}
	// Fee withdrawals do not intersect the transfer-only lock.
	if _, err := l.Withdraw(testNative, alice, 200, ReasonTransactionPayment, false); err != nil {
		t.Errorf("fee withdrawal past transfer lock: %v", err)
	}

	l.RemoveLock(vesting, testNative, alice)
	if !store.CanClose(alice) {
		t.Error("account should be closable after lock removal")
	}
}

func TestUnreserve_CapsAtReserved(t *testing.T) {
	l, _ := newTestLedger(t)
	alice := uuid.New()
	if err := l.Deposit(testNative, alice, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if got := l.Unreserve(testNative, alice, 5000); got != testDeposit {
		t.Errorf("unreserved: got %d, want %d", got, testDeposit)
	}
	if got := l.FreeBalance(testNative, alice); got != 1000 {
		t.Errorf("free after unreserve: got %d, want 1000", got)
	}
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	l, store := newTestLedger(t)
	alice := uuid.New()
	if err := l.Deposit(testNative, alice, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}

	boom := errors.New("boom")
	err := l.WithTransaction(func() error {
		if _, err := l.Withdraw(testNative, alice, 500, ReasonFee, false); err != nil {
			return err
		}
		if err := l.Deposit(testStable, alice, 42); err != nil {
			return err
		}
		store.IncrementSequence(alice)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	if got := l.FreeBalance(testNative, alice); got != 900 {
		t.Errorf("native free after rollback: got %d, want 900", got)
	}
	if got := l.FreeBalance(testStable, alice); got != 0 {
		t.Errorf("stable free after rollback: got %d, want 0", got)
	}
	if got := store.SequenceOf(alice); got != 0 {
		t.Errorf("sequence after rollback: got %d, want 0", got)
	}
}

func TestWithTransaction_InnerRollbackKeepsOuterWrites(t *testing.T) {
	l, _ := newTestLedger(t)
	alice := uuid.New()
	if err := l.Deposit(testNative, alice, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}

	err := l.WithTransaction(func() error {
		if _, err := l.Withdraw(testNative, alice, 100, ReasonFee, false); err != nil {
			return err
		}
		inner := l.WithTransaction(func() error {
			if _, err := l.Withdraw(testNative, alice, 100, ReasonFee, false); err != nil {
				return err
			}
			return errors.New("inner failure")
		})
		if inner == nil {
			return errors.New("inner scope should have failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer scope: %v", err)
	}

	if got := l.FreeBalance(testNative, alice); got != 800 {
		t.Errorf("free: got %d, want 800 (outer withdrawal only)", got)
	}
}
