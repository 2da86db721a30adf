// Package bridge connects the core event bus to an MQTT broker.
//
// Outbound, every core event is published as JSON to
// {prefix}/event/{kind}/{channel_role}. The latest channel value, alarm
// state, lighting mode and per-device health are also kept on retained
// topics so a dashboard that connects late sees current state.
//
// Inbound, remote-control commands and RFID reader scans are decoded,
// validated and injected back onto the bus:
//
//	{prefix}/command/arm                {"source": "..."}           (payload optional)
//	{prefix}/command/disarm             {"credential": "1234"}
//	{prefix}/command/override/{role}    {"value": 1} or "on"/"off"/"1"/"0"
//	{prefix}/rfid/{reader}              {"tag_id": "04a2b3c4"}
//
// Inbound event kinds are never published back out, so credentials do
// not leave the process.
package bridge
