package policy

import (
	"encoding/json"
	"time"
)

// SizePolicy decides how many bytes of budget the cache has, and how much
// space a given entry is considered to occupy.
type SizePolicy interface {
	// Budget returns the total space the cache may use right now.
	Budget() int64
	// EstimateSize returns the size an entry's value should be charged
	// against the budget, given its already-serialized byte length (0 if
	// unknown, in which case a primitive-size fallback applies).
	EstimateSize(value any, serializedLen int) int64
}

// ItemCountPolicy counts entries rather than bytes: Budget returns
// MaxItems and every entry is charged exactly 1.
type ItemCountPolicy struct {
	MaxItems int64
}

func (p ItemCountPolicy) Budget() int64 { return p.MaxItems }
func (ItemCountPolicy) EstimateSize(any, int) int64 { return 1 }

// MemoryBytesPolicy charges each entry its JSON-serialized length when
// known, falling back to a conservative primitive-size estimate otherwise.
type MemoryBytesPolicy struct {
	MaxBytes int64
}

func (p MemoryBytesPolicy) Budget() int64 { return p.MaxBytes }

func (MemoryBytesPolicy) EstimateSize(value any, serializedLen int) int64 {
	if serializedLen > 0 {
		return int64(serializedLen)
	}
	if b, err := json.Marshal(value); err == nil {
		return int64(len(b))
	}
	return primitiveSizeFallback(value)
}

func primitiveSizeFallback(value any) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	case nil:
		return 0
	default:
		return 256 // conservative default for an unmeasurable struct
	}
}

// DynamicPolicy recalculates its budget periodically against a target
// percentage of total process memory, the way an adaptive cache sizes
// itself to leave headroom for the rest of the process.
type DynamicPolicy struct {
	TargetPercent    float64 // e.g. 0.1 for 10% of TotalMemoryBytes
	TotalMemoryBytes int64
	RecalcInterval   time.Duration

	lastCalc  time.Time
	lastBytes int64
}

func (p *DynamicPolicy) Budget() int64 {
	if p.lastBytes > 0 && time.Since(p.lastCalc) < p.RecalcInterval {
		return p.lastBytes
	}
	p.lastBytes = int64(float64(p.TotalMemoryBytes) * p.TargetPercent)
	p.lastCalc = time.Now()
	return p.lastBytes
}

func (DynamicPolicy) EstimateSize(value any, serializedLen int) int64 {
	return MemoryBytesPolicy{}.EstimateSize(value, serializedLen)
}

// TieredPolicy caps max-items per priority band; tiers must not overlap
// (the constructor enforces ascending, non-overlapping priority ranges).
type TieredPolicy struct {
	Tiers []SizeTier
}

// SizeTier is one priority band's item-count cap.
type SizeTier struct {
	MinPriority int
	MaxPriority int
	MaxItems    int64
}

// BudgetForPriority returns the item-count cap for entries at the given
// priority, or 0 if no tier covers it.
func (p TieredPolicy) BudgetForPriority(priority int) int64 {
	for _, t := range p.Tiers {
		if priority >= t.MinPriority && priority <= t.MaxPriority {
			return t.MaxItems
		}
	}
	return 0
}

func (p TieredPolicy) Budget() int64 {
	var total int64
	for _, t := range p.Tiers {
		total += t.MaxItems
	}
	return total
}

func (TieredPolicy) EstimateSize(any, int) int64 { return 1 }

// ValidateTiers reports whether tiers are sorted ascending and
// non-overlapping, as spec §4.4 requires.
func ValidateTiers(tiers []SizeTier) bool {
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinPriority <= tiers[i-1].MaxPriority {
			return false
		}
	}
	return true
}
