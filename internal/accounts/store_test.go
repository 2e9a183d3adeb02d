package accounts_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"OmniLedger/internal/accounts"
	"OmniLedger/internal/currency"
)

var treasury = currency.ModuleAccountID("omni/trsy")

type fakeNative struct {
	reserveErr error
	sweepErr   error
	reserves   int
	sweeps     int
}

func (f *fakeNative) ReserveDeposit(id currency.AccountID, amount uint64) error {
	f.reserves++
	return f.reserveErr
}

func (f *fakeNative) SweepFree(from, to currency.AccountID) error {
	f.sweeps++
	return f.sweepErr
}

type hookCounter struct {
	created int
	killed  int
}

func newStore(native *fakeNative, hooks *hookCounter) *accounts.Store {
	var onCreated, onKilled accounts.Hook
	if hooks != nil {
		onCreated = func(currency.AccountID) { hooks.created++ }
		onKilled = func(currency.AccountID) { hooks.killed++ }
	}
	s := accounts.NewStore(100, treasury, onCreated, onKilled, zerolog.Nop())
	s.BindNative(native)
	return s
}

func TestInsert_OpensAccountExactlyOnce(t *testing.T) {
	native := &fakeNative{}
	hooks := &hookCounter{}
	s := newStore(native, hooks)
	alice := uuid.New()

	s.Insert(alice, accounts.Data{Free: 500})
	s.Insert(alice, accounts.Data{Free: 600})

	if native.reserves != 1 {
		t.Errorf("deposit reservations: got %d, want 1", native.reserves)
	}
	if hooks.created != 1 {
		t.Errorf("created notifications: got %d, want 1", hooks.created)
	}
	if got := s.Get(alice).Free; got != 600 {
		t.Errorf("free: got %d, want 600", got)
	}
}

func TestTryMutateExists_ErrorWritesNothing(t *testing.T) {
	native := &fakeNative{}
	hooks := &hookCounter{}
	s := newStore(native, hooks)
	alice := uuid.New()

	boom := errors.New("boom")
	err := s.TryMutateExists(alice, func(data *accounts.Data) (*accounts.Data, error) {
		if data != nil {
			t.Error("fresh identity should present a nil view")
		}
		return &accounts.Data{Free: 500}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	if s.IsExplicit(alice) {
		t.Error("failed mutation should not create a record")
	}
	if native.reserves != 0 || hooks.created != 0 {
		t.Error("failed mutation should not run the open-account flow")
	}
}

func TestTryMutateExists_LogicalDeleteKeepsPrefix(t *testing.T) {
	s := newStore(&fakeNative{}, nil)
	alice := uuid.New()

	s.Insert(alice, accounts.Data{Free: 500})
	s.IncrementSequence(alice)
	s.IncrementSequence(alice)

	s.MutateExists(alice, func(data *accounts.Data) *accounts.Data {
		return nil
	})

	if !s.Get(alice).IsEmpty() {
		t.Error("data should be empty after logical delete")
	}
	if got := s.SequenceOf(alice); got != 2 {
		t.Errorf("sequence must survive logical delete: got %d, want 2", got)
	}
	if !s.IsExplicit(alice) {
		t.Error("record itself must survive logical delete")
	}
}

func TestOpenAccount_ReserveFailureSweepsAndErases(t *testing.T) {
	native := &fakeNative{reserveErr: errors.New("insufficient funds")}
	hooks := &hookCounter{}
	s := newStore(native, hooks)
	alice := uuid.New()

	s.Insert(alice, accounts.Data{Free: 50})

	if native.sweeps != 1 {
		t.Errorf("sweeps: got %d, want 1", native.sweeps)
	}
	if s.IsExplicit(alice) {
		t.Error("record should be erased when the deposit cannot be reserved")
	}
	if hooks.created != 0 {
		t.Errorf("created notifications: got %d, want 0", hooks.created)
	}
}

func TestOpenAccount_SweepFailureLeavesAccountOpen(t *testing.T) {
	native := &fakeNative{
		reserveErr: errors.New("insufficient funds"),
		sweepErr:   errors.New("locked"),
	}
	s := newStore(native, nil)
	alice := uuid.New()

	s.Insert(alice, accounts.Data{Free: 50})

	if !s.IsExplicit(alice) {
		t.Error("account should stay open when the dust sweep fails")
	}
}

func TestOpenAccount_TreasuryNeverRecycled(t *testing.T) {
	native := &fakeNative{reserveErr: errors.New("insufficient funds")}
	s := newStore(native, nil)

	s.Insert(treasury, accounts.Data{Free: 50})

	if native.sweeps != 0 {
		t.Errorf("treasury should never be swept, got %d sweeps", native.sweeps)
	}
	if !s.IsExplicit(treasury) {
		t.Error("treasury should stay open without a reservation")
	}
}

func TestMutate_NewRecordNotifiesWithoutDeposit(t *testing.T) {
	native := &fakeNative{}
	hooks := &hookCounter{}
	s := newStore(native, hooks)
	alice := uuid.New()

	s.Mutate(alice, func(d *accounts.Data) { d.Free = 10 })

	if hooks.created != 1 {
		t.Errorf("created notifications: got %d, want 1", hooks.created)
	}
	if native.reserves != 0 {
		t.Errorf("plain mutate must not reserve a deposit, got %d", native.reserves)
	}
}

func TestRefCount_UnderflowIgnored(t *testing.T) {
	s := newStore(&fakeNative{}, nil)
	alice := uuid.New()

	s.DecRef(alice)
	if got := s.RefCountOf(alice); got != 0 {
		t.Errorf("ref count: got %d, want 0", got)
	}

	s.IncRef(alice)
	s.IncRef(alice)
	s.DecRef(alice)
	if got := s.RefCountOf(alice); got != 1 {
		t.Errorf("ref count: got %d, want 1", got)
	}
	if s.CanClose(alice) {
		t.Error("account with holds should not be closable")
	}
}

func TestRemove_NotifiesKilled(t *testing.T) {
	hooks := &hookCounter{}
	s := newStore(&fakeNative{}, hooks)
	alice := uuid.New()

	s.Insert(alice, accounts.Data{Free: 500})
	s.Remove(alice)

	if hooks.killed != 1 {
		t.Errorf("killed notifications: got %d, want 1", hooks.killed)
	}
}
