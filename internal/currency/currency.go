package currency

import (
	"github.com/google/uuid"
)

// ID identifies a currency. The fee (native) currency and the set of other
// currencies the runtime knows about come from configuration; their declared
// order is load-bearing (fee fallback iterates it first-to-last).
type ID string

// AccountID identifies an account. Module-owned accounts (treasury, DEX pools)
// are derived deterministically from an ASCII tag so every node agrees on them.
type AccountID = uuid.UUID

// moduleAccountNamespace seeds derivation of module-owned account identities.
var moduleAccountNamespace = uuid.MustParse("6f6d6e69-4c65-4467-b072-000000000000")

// ModuleAccountID derives the account identity for a module tag, e.g. "omni/trsy".
func ModuleAccountID(tag string) AccountID {
	return uuid.NewSHA1(moduleAccountNamespace, []byte(tag))
}

// Ratio is a parts-per-million fixed-point fraction (1_000_000 = 100%).
type Ratio uint64

// RatioScale is the denominator of Ratio.
const RatioScale uint64 = 1_000_000

// Apply returns v * r / 1e6 with a 128-bit intermediate.
func (r Ratio) Apply(v uint64) uint64 {
	return MulDiv(v, uint64(r), RatioScale)
}
