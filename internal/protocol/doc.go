// Package protocol defines the wire format shared by all overwatch binaries.
//
// # Envelope
//
// Every message on a websocket channel is one JSON text frame holding a
// tagged envelope:
//
//	{"type": "CLIENT_REPORT", "contents": {"report": {...}}}
//
// The four tags are:
//
//   - CLIENT_REGIST: agent → register, carries the agent identity, expects
//     a monitor address back
//   - CLIENT_ONLINE: agent → monitor (or register), announces presence,
//     no reply
//   - CLIENT_REPORT: agent → monitor, carries one telemetry sample
//   - SERVER_ONLINE: monitor → register, advertises the monitor's address
//
// Contents payloads are decoded lazily via the typed accessors (Client,
// Report, MonitorAddress), so an unknown tag or a malformed payload is
// detected without failing the whole envelope.
//
// # Replies
//
// The discovery reply is a bare MonitorNode, not an envelope:
//
//	{"address": "10.0.0.5:10641"}
//
// Protocol-level failures are reported as {"error": "..."} without closing
// the channel; only transport failures end a session.
//
// # Timestamps
//
// Timestamp accepts both epoch milliseconds and RFC 3339 strings on input.
// Full reports emit RFC 3339 UTC; the quick system report emits the integer
// epoch-ms form, so readers must handle both. See the Timestamp type.
package protocol
