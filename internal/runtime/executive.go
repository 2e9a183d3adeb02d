package runtime

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"OmniLedger/internal/accounts"
	"OmniLedger/internal/currency"
	"OmniLedger/internal/ledger"
	"OmniLedger/internal/observability"
	"OmniLedger/internal/payment"
)

// ErrBadSequence means the transaction's sequence does not match the signer's
// account sequence.
var ErrBadSequence = errors.New("transaction sequence mismatch")

// ErrDuplicate means the transaction was already processed. State is
// unchanged; callers can report the resubmission instead of a fresh apply.
var ErrDuplicate = errors.New("duplicate transaction")

const genesisHashSeed = "OmniLedger:genesis:v1"

// Executive is the single-threaded transaction processor. It charges fees,
// advances account sequences, dispatches calls, and emits a hash-chained
// output stream.
//
// Processing is serialized by a mutex because submissions arrive over HTTP
// and NATS concurrently; the lock makes the executive behave like the
// single-threaded loop it logically is.
type Executive struct {
	mu sync.Mutex

	sequence int64
	prevHash [32]byte

	store   *accounts.Store
	l       *ledger.Ledger
	charger *payment.Charger
	env     *Env
	dedup   *DedupChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output
}

// NewExecutive creates the processor. persistChan receives every output with
// backpressure; projectionChan is best-effort.
func NewExecutive(
	startSequence int64,
	store *accounts.Store,
	l *ledger.Ledger,
	charger *payment.Charger,
	env *Env,
	dedup *DedupChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
	persistChan, projectionChan chan<- Output,
) *Executive {
	return &Executive{
		sequence:       startSequence,
		prevHash:       sha256.Sum256([]byte(genesisHashSeed)),
		store:          store,
		l:              l,
		charger:        charger,
		env:            env,
		dedup:          dedup,
		metrics:        metrics,
		log:            log,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// ProcessTransaction runs one transaction through the pipeline: dedup,
// sequence check, fee charge, dispatch, settlement, emit.
//
// A payment failure rejects the whole transaction. A dispatch failure rolls
// back only the call: the fee stays charged and the sequence stays advanced,
// so a failing call still costs its sender.
func (e *Executive) ProcessTransaction(tx *SignedTransaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	callType := tx.Call.CallType()

	if e.dedup.IsDuplicate(callType, tx.ID.String()) {
		if e.metrics != nil {
			e.metrics.TxRejected.WithLabelValues(callType, "duplicate").Inc()
		}
		return ErrDuplicate
	}

	if got := e.store.SequenceOf(tx.Signer); tx.Sequence != got {
		if e.metrics != nil {
			e.metrics.TxRejected.WithLabelValues(callType, "bad_sequence").Inc()
		}
		return fmt.Errorf("%w: got %d, want %d", ErrBadSequence, tx.Sequence, got)
	}

	fee, dispatchErrStr, err := e.execute(tx)
	if err != nil {
		if e.metrics != nil {
			e.metrics.TxRejected.WithLabelValues(callType, "payment").Inc()
		}
		return fmt.Errorf("charge transaction payment: %w", err)
	}

	prev := e.prevHash
	hash := e.computeHash(e.stateDigest(tx, dispatchErrStr))

	envelope := &Envelope{
		Sequence:      e.sequence,
		TxID:          tx.ID,
		Signer:        tx.Signer,
		CallType:      callType,
		Timestamp:     tx.Timestamp,
		DispatchError: dispatchErrStr,
		StateHash:     hash,
		PrevHash:      prev,
	}
	output := Output{Envelope: envelope, Tx: tx, Fee: fee}

	// Persistence gets backpressure; projections may drop and rebuild from
	// the transaction log.
	e.persistChan <- output
	select {
	case e.projectionChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.ProjectionDrops.Inc()
		}
	}

	e.dedup.MarkProcessed(callType, tx.ID.String())
	e.sequence++

	if e.metrics != nil {
		e.metrics.TxApplied.WithLabelValues(callType).Inc()
		e.metrics.TxDuration.WithLabelValues(callType).Observe(time.Since(start).Seconds())
		e.metrics.ExecutiveSequence.Set(float64(e.sequence))
		e.metrics.FeesCharged.Add(float64(fee.ActualFee - fee.Tip))
		e.metrics.TipsCharged.Add(float64(fee.Tip))
	}

	if dispatchErrStr != "" {
		e.log.Debug().
			Stringer("tx", tx.ID).
			Str("call", callType).
			Str("dispatch_error", dispatchErrStr).
			Msg("call failed, fee charged")
	}
	return nil
}

// execute runs the charge-dispatch-settle block atomically. A payment failure
// reverts everything; a dispatch failure reverts only the call.
func (e *Executive) execute(tx *SignedTransaction) (*FeeRecord, string, error) {
	info := tx.Call.DispatchInfo()
	var fee *FeeRecord
	var dispatchErrStr string

	err := e.l.WithTransaction(func() error {
		pre, err := e.charger.PreDispatch(tx.Signer, info, tx.Length, tx.Tip)
		if err != nil {
			return err
		}
		e.store.IncrementSequence(tx.Signer)

		var post payment.PostDispatchInfo
		dispatchErr := e.l.WithTransaction(func() error {
			p, err := tx.Call.Dispatch(e.env, tx.Signer)
			post = p
			return err
		})
		if dispatchErr != nil {
			dispatchErrStr = dispatchErr.Error()
		}

		feePaid, tipPaid := e.charger.PostDispatch(pre, info, post, tx.Length)
		fee = &FeeRecord{
			TxID:      tx.ID,
			Payer:     tx.Signer,
			EstFee:    pre.Fee,
			ActualFee: feePaid + tipPaid,
			Tip:       tipPaid,
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return fee, dispatchErrStr, nil
}

// ReplayTransaction reapplies a logged transaction during recovery. Dedup
// checks and output emission are skipped; the log already holds the row.
// When expectHash is 32 bytes the recomputed state hash must match it, so
// replay doubles as an integrity check.
func (e *Executive) ReplayTransaction(tx *SignedTransaction, expectHash []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if got := e.store.SequenceOf(tx.Signer); tx.Sequence != got {
		return fmt.Errorf("replay %s: %w: got %d, want %d", tx.ID, ErrBadSequence, tx.Sequence, got)
	}

	_, dispatchErrStr, err := e.execute(tx)
	if err != nil {
		return fmt.Errorf("replay %s: %w", tx.ID, err)
	}

	hash := e.computeHash(e.stateDigest(tx, dispatchErrStr))
	if len(expectHash) == sha256.Size && !bytes.Equal(hash[:], expectHash) {
		return fmt.Errorf("replay %s: state hash mismatch at sequence %d", tx.ID, e.sequence)
	}

	e.dedup.MarkProcessed(tx.Call.CallType(), tx.ID.String())
	e.sequence++
	if e.metrics != nil {
		e.metrics.ReplayTxTotal.Inc()
	}
	return nil
}

// computeHash extends the chain: SHA-256(prev_hash || sequence || digest).
func (e *Executive) computeHash(digest []byte) [32]byte {
	h := sha256.New()
	h.Write(e.prevHash[:])
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], uint64(e.sequence))
	h.Write(seq[:])
	h.Write(digest)
	copy(e.prevHash[:], h.Sum(nil))
	return e.prevHash
}

// stateDigest summarizes the transaction's effect deterministically: identity,
// outcome, and the signer's resulting record.
func (e *Executive) stateDigest(tx *SignedTransaction, dispatchErr string) []byte {
	h := sha256.New()
	h.Write(tx.ID[:])
	h.Write(tx.Signer[:])
	io.WriteString(h, tx.Call.CallType())
	io.WriteString(h, dispatchErr)

	var buf [24]byte
	data := e.store.Get(tx.Signer)
	binary.LittleEndian.PutUint64(buf[0:8], data.Free)
	binary.LittleEndian.PutUint64(buf[8:16], data.Reserved)
	binary.LittleEndian.PutUint64(buf[16:24], e.store.SequenceOf(tx.Signer))
	h.Write(buf[:])
	return h.Sum(nil)
}

// AccountInfo is the query view of one account.
type AccountInfo struct {
	Explicit bool                                   `json:"explicit"`
	Sequence uint64                                 `json:"sequence"`
	RefCount uint32                                 `json:"ref_count"`
	Free     uint64                                 `json:"free"`
	Reserved uint64                                 `json:"reserved"`
	Others   map[currency.ID]ledger.BalanceSnapshot `json:"others,omitempty"`
}

// QueryAccount reads one account's full position under the processing lock.
func (e *Executive) QueryAccount(id currency.AccountID) AccountInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	data := e.store.Get(id)
	info := AccountInfo{
		Explicit: e.store.IsExplicit(id),
		Sequence: e.store.SequenceOf(id),
		RefCount: e.store.RefCountOf(id),
		Free:     data.Free,
		Reserved: data.Reserved,
	}
	if others, ok := e.l.Balances()[id]; ok {
		info.Others = others
	}
	return info
}

// Sequence returns the next output sequence number.
func (e *Executive) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// State is the executive's recoverable state.
type State struct {
	Sequence int64
	PrevHash [32]byte
	Records  map[currency.AccountID]accounts.Record
	Balances map[currency.AccountID]map[currency.ID]ledger.BalanceSnapshot
}

// Snapshot captures the full state for periodic persistence.
func (e *Executive) Snapshot() *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &State{
		Sequence: e.sequence,
		PrevHash: e.prevHash,
		Records:  e.store.Snapshot(),
		Balances: e.l.Balances(),
	}
}

// Restore loads a snapshot; the caller replays the transaction log from
// State.Sequence afterwards.
func (e *Executive) Restore(s *State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sequence = s.Sequence
	e.prevHash = s.PrevHash
	e.store.Restore(s.Records)
	e.l.RestoreBalances(s.Balances)
}

// TreasurySink routes settled fees and tips into the treasury account.
type TreasurySink struct {
	l        *ledger.Ledger
	treasury currency.AccountID
}

// NewTreasurySink creates the default fee destination.
func NewTreasurySink(l *ledger.Ledger, treasury currency.AccountID) *TreasurySink {
	return &TreasurySink{l: l, treasury: treasury}
}

// OnTransactionFee implements payment.FeeSink.
func (s *TreasurySink) OnTransactionFee(fee, tip uint64) {
	_ = s.l.Deposit(s.l.NativeCurrency(), s.treasury, fee+tip)
}
