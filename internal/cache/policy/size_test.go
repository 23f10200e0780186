package policy

import (
	"testing"
	"time"
)

func TestItemCountPolicyChargesOnePerEntry(t *testing.T) {
	p := ItemCountPolicy{MaxItems: 100}
	if p.Budget() != 100 {
		t.Errorf("expected budget 100, got %d", p.Budget())
	}
	if p.EstimateSize("anything", 9999) != 1 {
		t.Error("expected every entry to cost exactly 1 item")
	}
}

func TestMemoryBytesPolicyUsesSerializedLenWhenKnown(t *testing.T) {
	p := MemoryBytesPolicy{MaxBytes: 1024}
	if got := p.EstimateSize("ignored", 42); got != 42 {
		t.Errorf("expected the known serialized length 42, got %d", got)
	}
}

func TestMemoryBytesPolicyMarshalsWhenLenUnknown(t *testing.T) {
	p := MemoryBytesPolicy{MaxBytes: 1024}
	got := p.EstimateSize(map[string]string{"a": "b"}, 0)
	if got <= 0 {
		t.Errorf("expected a positive marshaled size, got %d", got)
	}
}

func TestMemoryBytesPolicyFallsBackForUnmarshalable(t *testing.T) {
	p := MemoryBytesPolicy{MaxBytes: 1024}
	unmarshalable := make(chan int)
	got := p.EstimateSize(unmarshalable, 0)
	if got != 256 {
		t.Errorf("expected the conservative fallback 256, got %d", got)
	}
}

func TestDynamicPolicyComputesPercentOfTotal(t *testing.T) {
	p := &DynamicPolicy{TargetPercent: 0.1, TotalMemoryBytes: 1_000_000, RecalcInterval: time.Hour}
	if got := p.Budget(); got != 100_000 {
		t.Errorf("expected 10%% of 1,000,000 = 100,000, got %d", got)
	}
}

func TestDynamicPolicyCachesUntilRecalcInterval(t *testing.T) {
	p := &DynamicPolicy{TargetPercent: 0.5, TotalMemoryBytes: 100, RecalcInterval: time.Hour}
	first := p.Budget()
	p.TotalMemoryBytes = 1000 // change underlying input without advancing time
	second := p.Budget()
	if first != second {
		t.Errorf("expected the cached budget to persist within RecalcInterval, got %d then %d", first, second)
	}
}

func TestTieredPolicyBudgetForPriorityLooksUpBand(t *testing.T) {
	p := TieredPolicy{Tiers: []SizeTier{
		{MinPriority: 0, MaxPriority: 4, MaxItems: 100},
		{MinPriority: 5, MaxPriority: 10, MaxItems: 500},
	}}

	if got := p.BudgetForPriority(2); got != 100 {
		t.Errorf("expected 100 for priority 2, got %d", got)
	}
	if got := p.BudgetForPriority(7); got != 500 {
		t.Errorf("expected 500 for priority 7, got %d", got)
	}
	if got := p.BudgetForPriority(99); got != 0 {
		t.Errorf("expected 0 for an uncovered priority, got %d", got)
	}
}

func TestTieredPolicyBudgetSumsAllTiers(t *testing.T) {
	p := TieredPolicy{Tiers: []SizeTier{{MaxItems: 100}, {MaxItems: 500}}}
	if got := p.Budget(); got != 600 {
		t.Errorf("expected 600, got %d", got)
	}
}
