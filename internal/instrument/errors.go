package instrument

import "errors"

// Domain errors for the instrument package.
var (
	// ErrSourceUnavailable is returned when a source cannot be opened or its
	// connection fails mid-poll. All of that source's channels are lost for the cycle.
	ErrSourceUnavailable = errors.New("instrument: source unavailable")

	// ErrUnknownSource is returned when polling a source that was never attached.
	ErrUnknownSource = errors.New("instrument: unknown source")

	// ErrTransportClosed is returned when querying a transport that is not open.
	ErrTransportClosed = errors.New("instrument: transport closed")

	// ErrGatewayClosed is returned when polling after Close.
	ErrGatewayClosed = errors.New("instrument: gateway closed")
)
