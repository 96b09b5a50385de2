// Package register implements the discovery service that pairs agents with
// monitor servers.
//
// Monitors announce themselves with SERVER_ONLINE; agents ask for a monitor
// with CLIENT_REGIST and get a bare {"address": ...} reply. When no monitor
// is known the registration is still recorded and no reply is sent, leaving
// the agent to time out and retry. The directory is in-memory only; a
// restart forgets everything and peers re-announce.
//
// A small read-only HTTP surface (/clients, /servers, /client/{name})
// exposes the directory for inspection.
package register
