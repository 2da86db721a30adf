// Package automation is the rule engine of wirehome.
//
// A single goroutine consumes the engine's event subscription in delivery
// order and owns the automation State: day/night mode, the alarm state
// machine, light holds, fan states and overrides. Decisions are sent to the
// dispatcher as commands; nothing else reads or writes the state.
//
//	eventbus ──► Engine.Handle ──┬── alarm table ──────► siren commands
//	                             ├── lighting rules ───► light commands
//	                             └── climate rules ────► fan commands
//	timers ───► Engine.Tick (holds, gate strike, deferred toggles)
//	solar ────► Engine.UpdateMode (day/night)
//
// # Alarm
//
//	Disarmed ──arm──► Armed(entry delay) ──motion after delay──► Triggered
//	    ▲                  │                                        │
//	    └───── disarm ─────┴─────────────── disarm ─────────────────┘
//
// Motion on a protected role during the entry delay is ignored. Every
// (state, input) pair has exactly one transition; undefined inputs leave
// the state unchanged.
//
// An event naming a role unknown to the registry stops the engine with
// ErrUnknownChannel. Roles removed by a device reload are dropped instead.
package automation
