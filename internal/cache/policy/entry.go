// Package policy implements the response cache's TTL, eviction, and size
// policies (spec §4.4), layered above modelgate's existing semantic cache
// repository. The repository stays the system of record for entry
// storage; this package only decides how long an entry lives and which
// entries an eviction pass should reclaim.
package policy

import "time"

// Entry is the metadata the policies reason about. It mirrors the stored
// row's bookkeeping columns without needing the response payload itself.
type Entry struct {
	Key          string
	CreatedAt    time.Time
	LastAccessAt time.Time
	AccessCount  int64
	SizeBytes    int64
	Priority     int // higher survives eviction longer
	ExpiresAt    *time.Time
}
