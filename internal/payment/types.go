package payment

// DispatchClass partitions calls by urgency; only Normal calls compete for
// priority on fees.
type DispatchClass int

const (
	ClassNormal DispatchClass = iota
	ClassOperational
	ClassMandatory
)

// DispatchInfo describes a call before execution.
type DispatchInfo struct {
	// Weight is the declared execution cost.
	Weight uint64

	Class DispatchClass

	// PaysFee is false for calls exempt from the inclusion fee; the tip is
	// still charged.
	PaysFee bool
}

// PostDispatchInfo describes a call after execution.
type PostDispatchInfo struct {
	// ActualWeight, when set, is the measured cost; it can only lower the
	// charge, never raise it.
	ActualWeight *uint64
}

// CalcActualWeight returns the weight to bill: the measured weight capped at
// the declared one.
func (p PostDispatchInfo) CalcActualWeight(info DispatchInfo) uint64 {
	if p.ActualWeight == nil || *p.ActualWeight > info.Weight {
		return info.Weight
	}
	return *p.ActualWeight
}

// ValidTransaction is the pool-facing verdict of transaction validation.
type ValidTransaction struct {
	// Priority orders ready transactions; higher goes first.
	Priority uint64
}
