// Package eventbus distributes state-change, health, alarm and command
// events between wirehome components.
//
//	┌────────┐ ┌────────┐ ┌──────────┐ ┌──────────┐
//	│ Poller │ │ Driver │ │ Dispatch │ │ MQTT/API │   producers
//	└───┬────┘ └───┬────┘ └────┬─────┘ └────┬─────┘
//	    └──────────┴─────┬─────┴────────────┘
//	                     ▼  Publish (never blocks)
//	              ┌─────────────┐
//	              │     Bus     │
//	              └──────┬──────┘
//	      ┌──────────────┼──────────────┐
//	      ▼              ▼              ▼
//	 [bounded q]    [bounded q]    [bounded q]    one per subscriber,
//	   engine         bridge          audit       drop-oldest on overflow
//
// Event is the stable external schema {channel_role, timestamp, payload};
// payload types for every kind live in event.go.
//
// A full subscriber queue never stalls the producer. The oldest unread
// event is discarded and a KindOverflow diagnostic is delivered to the
// other subscribers.
package eventbus
