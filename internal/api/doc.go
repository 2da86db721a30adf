// Package api provides the HTTP control surface and live event stream for
// wirehome.
//
// Routes:
//
//	GET  /healthz                  liveness, no auth
//	GET  /metrics                  Prometheus exposition, no auth
//	GET  /api/v1/devices           registry view with health
//	GET  /api/v1/devices/{id}
//	GET  /api/v1/alarm             alarm state, mode and active overrides
//	GET  /api/v1/journal           recent journalled events (when a database is configured)
//	GET  /api/v1/events/ws         WebSocket stream of core events
//	POST /api/v1/alarm/arm         bearer token required when api.jwt_secret is set
//	POST /api/v1/alarm/disarm      bearer token required
//	POST /api/v1/override          bearer token required
//
// Commands are validated and injected onto the event bus; the automation
// engine applies them in order with sensor events. A 202 response means
// the command was queued, not that the alarm changed state.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
