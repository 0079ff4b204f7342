// Package counters holds the process-wide operational counters,
// totalMessages and invalidMessages, shared by the ingest pipeline
// (which increments them) and the query surface (which reads them for
// /stats and the snapshot RPC). Atomic fields make a single shared
// instance safe under concurrent ingest and query traffic without a
// mutex.
package counters

import "sync/atomic"

// Operational is the shared counter pair. The zero value is ready to use.
type Operational struct {
	total   int64
	invalid int64
}

// IncTotal records one successfully validated message.
func (o *Operational) IncTotal() { atomic.AddInt64(&o.total, 1) }

// IncInvalid records one rejected message.
func (o *Operational) IncInvalid() { atomic.AddInt64(&o.invalid, 1) }

// Snapshot returns both counters' current values.
func (o *Operational) Snapshot() (total, invalid int64) {
	return atomic.LoadInt64(&o.total), atomic.LoadInt64(&o.invalid)
}
