// Package dmm implements the serial command/response engine for SCPI bench
// multimeters such as the OWON XDM1041.
//
// # Session lifecycle
//
// A Connection moves through Disconnected, Connecting, Connected and
// Disconnecting. Open queues the connect handshake:
//
//	*IDN?  RATE <x>  SYST:BEEP:STATe <ON|OFF>  CONT:THREshold <n>  DIOD:THREshold <n>
//
// Once *IDN? has been written SYST:REM (when remote locking is enabled) and
// the first MEAS? follow. From then on the engine keeps exactly one query
// outstanding, replacing every tenth MEAS? with FUNC? to track the function
// selected on the front panel.
//
// Close (or RequestShutdown) queues SYST:LOC and *RST behind any pending
// commands. The transport is released as soon as that *RST has been written,
// or when the close timeout expires.
//
// # Outputs
//
// Measurements and mode changes are delivered on bounded channels. A full
// channel drops the value; the engine never blocks on a slow consumer.
// Identity returns the *IDN? reply of the running session.
//
// # Firmware quirk
//
// OWON XDM1041 and XDM1241 meters running firmware older than 4.3.0 report
// DIOD and CONT reversed in FUNC? replies. The engine detects this from the
// identity string and corrects the reported mode.
package dmm
