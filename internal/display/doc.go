// Package display renders poll cycles for an operator.
//
// Console prints one block per cycle, suitable for a headless logger whose
// output is captured by journald or a file. Dashboard redraws a table of the
// latest value and trend per channel, suitable for an interactive terminal.
// Both implement scheduler.Sink.
package display
