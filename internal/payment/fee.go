package payment

import "OmniLedger/internal/currency"

// FeeConfig holds the linear fee schedule.
type FeeConfig struct {
	// BaseFee is charged once per transaction.
	BaseFee uint64

	// ByteFee is charged per encoded byte.
	ByteFee uint64

	// WeightFee is charged per unit of dispatch weight.
	WeightFee uint64
}

// FeeCalculator turns a transaction's shape into a fee. All arithmetic
// saturates.
type FeeCalculator struct {
	cfg FeeConfig
}

// NewFeeCalculator creates a calculator over the given schedule.
func NewFeeCalculator(cfg FeeConfig) *FeeCalculator {
	return &FeeCalculator{cfg: cfg}
}

// ComputeFee returns base + length*byteFee + weight*weightFee + tip, or just
// the tip for fee-exempt calls.
func (c *FeeCalculator) ComputeFee(length uint32, info DispatchInfo, tip uint64) uint64 {
	if !info.PaysFee {
		return tip
	}
	return c.feeForWeight(length, info.Weight, tip)
}

// ComputeActualFee is ComputeFee with the post-dispatch weight substituted.
func (c *FeeCalculator) ComputeActualFee(length uint32, info DispatchInfo, post PostDispatchInfo, tip uint64) uint64 {
	if !info.PaysFee {
		return tip
	}
	return c.feeForWeight(length, post.CalcActualWeight(info), tip)
}

func (c *FeeCalculator) feeForWeight(length uint32, weight, tip uint64) uint64 {
	fee := currency.SatAdd(c.cfg.BaseFee, currency.SatMul(uint64(length), c.cfg.ByteFee))
	fee = currency.SatAdd(fee, currency.SatMul(weight, c.cfg.WeightFee))
	return currency.SatAdd(fee, tip)
}
