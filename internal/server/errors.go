package server

import "errors"

var (
	// ErrCapacityExceeded is returned when the registry has no free slot.
	ErrCapacityExceeded = errors.New("chatroom at capacity")
	// ErrInvalidName is returned when a handshake frame does not carry a valid display name.
	ErrInvalidName = errors.New("invalid display name")
	// ErrReservationSettled is returned when a reservation is committed after it was already used or released.
	ErrReservationSettled = errors.New("reservation already settled")
	// ErrConnectionClosed is returned when sending to a connection that has shut down.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when a peer's outbound queue cannot take another frame.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrHubClosed is returned when a connection is admitted after shutdown started.
	ErrHubClosed = errors.New("hub is shutting down")
	// ErrUsage is returned when the process arguments do not name a valid port.
	ErrUsage = errors.New("expected a single port argument")
)
