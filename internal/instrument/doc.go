// Package instrument talks to the Lake Shore temperature controllers.
//
// A Gateway holds one Transport per source and answers Poll(source, channels)
// with one Reading per channel. Failures come in two sizes:
//
//   - Channel level: the instrument answered, but not with a number
//     ("OL", "T.OVER", an empty line). The Reading is null with a warning.
//   - Source level: the instrument could not be opened or the connection
//     failed mid-poll. Poll returns ErrSourceUnavailable and no readings.
//
// Transports:
//
//   - TCPTransport: Lake Shore 336 Ethernet port, or a Prologix-style
//     GPIB-Ethernet bridge in front of the 330s.
//   - SimTransport: deterministic replies from Profiles, used by --simulate
//     and by tests.
package instrument
