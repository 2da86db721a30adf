// Package poller scans bus segments and turns raw channel reads into
// debounced state-change events.
//
// Each segment runs in its own goroutine on its own interval, so slow
// temperature probes do not hold up motion sensors:
//
//	segment "fast" (1s)  ──► Read ──► debouncer ──► StateChanged ──► eventbus
//	segment "slow" (300s) ─► Read ──► debouncer ──┘
//
// A value is accepted only after K identical consecutive reads. K comes
// from the channel's configuration, else its class default. Devices that
// are not Healthy are skipped and re-read on an exponential probe schedule
// until the driver reports a successful transaction.
package poller
