// Package remote validates inbound control requests and injects them onto
// the event bus.
//
// Both the MQTT bridge and the HTTP API accept arm, disarm, manual
// override and tag scan requests from outside the process. The automation
// engine treats an event for an unknown channel role as fatal, so every
// request is checked against the device registry here before it reaches
// the bus:
//
//	MQTT / HTTP ──► Injector ──validate──► eventbus.Bus ──► automation.Engine
//	                    │
//	                    └── device registry (role exists, is an output)
package remote
