package payment

import (
	"math"
	"testing"
)

func testCalc() *FeeCalculator {
	return NewFeeCalculator(FeeConfig{BaseFee: 10, ByteFee: 1, WeightFee: 2})
}

func TestComputeFee_Linear(t *testing.T) {
	c := testCalc()
	info := DispatchInfo{Weight: 100, Class: ClassNormal, PaysFee: true}

	// 10 + 20*1 + 100*2 + 5
	if got := c.ComputeFee(20, info, 5); got != 235 {
		t.Errorf("fee: got %d, want 235", got)
	}
}

func TestComputeFee_ExemptPaysOnlyTip(t *testing.T) {
	c := testCalc()
	info := DispatchInfo{Weight: 100, PaysFee: false}

	if got := c.ComputeFee(20, info, 5); got != 5 {
		t.Errorf("fee: got %d, want 5", got)
	}
	if got := c.ComputeFee(20, info, 0); got != 0 {
		t.Errorf("fee: got %d, want 0", got)
	}
}

func TestComputeActualFee_CapsAtDeclaredWeight(t *testing.T) {
	c := testCalc()
	info := DispatchInfo{Weight: 100, PaysFee: true}

	lower := uint64(40)
	post := PostDispatchInfo{ActualWeight: &lower}
	// 10 + 20 + 40*2
	if got := c.ComputeActualFee(20, info, post, 0); got != 110 {
		t.Errorf("actual fee: got %d, want 110", got)
	}

	higher := uint64(500)
	post = PostDispatchInfo{ActualWeight: &higher}
	if got := c.ComputeActualFee(20, info, post, 0); got != c.ComputeFee(20, info, 0) {
		t.Errorf("measured weight above declared must not raise the fee, got %d", got)
	}

	post = PostDispatchInfo{}
	if got := c.ComputeActualFee(20, info, post, 0); got != c.ComputeFee(20, info, 0) {
		t.Errorf("missing measurement should bill the declared weight, got %d", got)
	}
}

func TestComputeFee_Saturates(t *testing.T) {
	c := NewFeeCalculator(FeeConfig{BaseFee: math.MaxUint64, ByteFee: 1, WeightFee: 1})
	info := DispatchInfo{Weight: 100, PaysFee: true}
	if got := c.ComputeFee(20, info, 5); got != math.MaxUint64 {
		t.Errorf("fee should saturate, got %d", got)
	}
}
