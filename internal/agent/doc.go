// Package agent implements the reporting client.
//
// The agent runs a three-state loop: idle, discovering, streaming. Discovery
// asks the register service for a monitor address with CLIENT_REGIST;
// streaming opens a channel to that monitor, announces CLIENT_ONLINE, and
// sends one CLIENT_REPORT per tick until the channel closes. Any failure in
// any state falls back to idle and retries discovery after a fixed delay.
//
// The report loop runs in a child scope of the streaming session: when the
// channel closes, the loop is cancelled and awaited before the agent leaves
// the streaming state, so a dead session can never emit a sample.
//
// Identity (a random 8-character name plus the host address) is generated
// once per process and reused across reconnects.
package agent
