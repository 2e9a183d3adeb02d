package accounts

// Data is the fee-currency balance payload stored per account. It is owned by
// the ledger; the tracker only observes whether it is empty when deciding
// account presence.
type Data struct {
	Free     uint64
	Reserved uint64
}

// IsEmpty reports whether the payload carries no balance at all.
func (d Data) IsEmpty() bool {
	return d == Data{}
}

// Total returns free + reserved.
func (d Data) Total() uint64 {
	return d.Free + d.Reserved
}

// Record is the per-account entry in the tracker. Sequence and RefCount are
// lifecycle metadata that must survive logical deletion of the balance data:
// a replayed transaction must still see the old sequence number even after
// the account was drained.
type Record struct {
	// Sequence is the anti-replay transaction counter.
	Sequence uint64

	// RefCount counts external holds (active currency locks) that forbid
	// closing the account while non-zero.
	RefCount uint32

	// Data is the ledger-owned balance payload.
	Data Data
}
