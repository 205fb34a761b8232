package ble

import "errors"

// Link failure classes. Use errors.Is to distinguish them; every error
// returned by Link wraps one of these.
var (
	// ErrConnectFailure covers both an unresolvable device and a
	// transport-level connect error.
	ErrConnectFailure = errors.New("ble: connect failed")

	// ErrNotifySubscribe means the connection came up but status
	// notifications could not be enabled. A link without status
	// visibility is not useful, so this rolls back to Disconnected.
	ErrNotifySubscribe = errors.New("ble: notification subscribe failed")

	// ErrWriteFailure means a confirmed write did not complete. The link
	// treats it as a peripheral-initiated disconnect.
	ErrWriteFailure = errors.New("ble: write failed")

	// ErrShuttingDown is returned for operations issued after Shutdown.
	ErrShuttingDown = errors.New("ble: link shutting down")
)
