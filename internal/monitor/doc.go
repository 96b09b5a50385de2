// Package monitor implements the monitor server: the telemetry sink agents
// stream to.
//
// # Components
//
//   - Server: HTTP surface. Terminates /ws telemetry channels and serves
//     the query API under /api.
//   - Manager: connection manager. Owns the live session set and keeps the
//     store's online flags in lockstep with it.
//   - Session: one live agent channel; created on a valid CLIENT_ONLINE,
//     destroyed on disconnect, never persisted.
//   - Announce: the one-shot SERVER_ONLINE handshake with the register
//     service, retried in the background on startup.
//
// # Channel lifecycle
//
// The first frame on /ws must be CLIENT_ONLINE; anything else closes the
// channel with a policy violation. After that the agent streams
// CLIENT_REPORT frames with no acknowledgements. There is no heartbeat
// timeout: transport closure, from either side and for any reason, is the
// sole offline signal, and it flips the agent offline exactly once even
// when the close is observed twice.
//
// A second connection for the same agent name supersedes the first.
//
// # Query API
//
//   - GET /api/agents - every known agent with online flag
//   - GET /api/agents/online - live agents only
//   - GET /api/agents/offline - known-but-offline agents
//   - GET /api/agents/{name}/reports?start=&end= - samples in a window
//     (epoch milliseconds, inclusive)
//   - GET /api/reports/latest - most recent sample per agent
//   - DELETE /api/agents/{name} - remove an agent and its samples
//   - GET /health - liveness check
package monitor
