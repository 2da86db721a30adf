// Package audit keeps a durable journal of security-relevant core events.
//
// The Journal subscribes to the event bus and writes alarm transitions,
// device health changes, failed actuations and day/night changes to the
// event_journal table. The HTTP API lists recent entries for diagnosis.
//
// Journal writes are best effort: a database error is logged and the event
// is skipped, so a full disk never stalls the automation path.
package audit
