// Package server implements the linkchat broadcast hub.
//
// The implementation is organized into specialized files: the Registry of live
// connections, the Hub that broadcasts and tracks sessions, the per-connection
// Session state machine, the TCP listener loop and the optional HTTP admin
// surface (health, stats, session table and a WebSocket gateway onto the same
// hub).
package server
