package redisx

import "time"

const (
	// Idempotency capture order: idem:order:capture:{cashier_id}:{key} -> order_id,
	// or pending:{token} while the capture runs
	KeyIdemOrderCapture = "idem:order:capture:%s:%s"

	// Cached order: order:{order_id} -> order JSON with items
	KeyOrder = "order:%s"

	// Bumped on every eviction; a read that started under an older version
	// must not repopulate order:{order_id}.
	KeyOrderVersion = "order:%s:version"

	// Cached report: summary:{generation}:{tz}:{start}:{end} -> report JSON
	KeySummary = "summary:%d:%s:%s:%s"

	// Bumped on every order change; older generations are never read again.
	KeySummaryGeneration = "summary:generation"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency        = 24 * time.Hour
	TTLIdempotencyPending = time.Minute
	TTLOrderCache         = 5 * time.Minute
	TTLOrderVersion       = time.Hour
	TTLSummary            = time.Minute
	TTLDedup              = 48 * time.Hour
)
