// Package transport provides the non-blocking serial byte stream used by the
// multimeter engine.
//
// A Transport exposes a bounded readiness wait plus non-blocking Read and
// Write calls. Two backends exist:
//
//   - poll: Linux only. The tty is opened with O_NONBLOCK, put into raw 8N1
//     mode with termios and multiplexed with poll(2).
//   - portable: any platform supported by go.bug.st/serial. Readability is
//     detected by a short timed read whose bytes are buffered until Read.
//
// Open selects the poll backend on Linux and the portable backend elsewhere
// unless SerialConfig.Backend says otherwise.
package transport
