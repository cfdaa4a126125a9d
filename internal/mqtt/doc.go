// Package mqtt announces the agent on an MQTT broker. It keeps a
// retained availability topic (with a will message so the broker marks
// the agent offline on an unexpected disconnect), refreshes a retained
// status document, and publishes one event per completed turn.
//
// With commands enabled it also subscribes to <prefix>/ask and runs
// each message as a user turn, replying on <prefix>/reply.
//
// Connection management is Eclipse Paho v2's [autopaho], which
// reconnects in the background and re-announces on every connect.
package mqtt
