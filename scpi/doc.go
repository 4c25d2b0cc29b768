// Package scpi holds the SCPI vocabulary spoken by OWON XDM series bench
// multimeters over their serial port.
//
// Commands are plain ASCII lines terminated by a line feed. A command whose
// text ends in '?' is a query and the instrument answers it with exactly one
// line terminated by CR LF. Every other command is answered with nothing.
//
// The package provides:
//
//   - [Command] with the fixed commands of the protocol ([Identify],
//     [Measure], [Function], [Remote], [Local], [Reset]) and builders for the
//     parameterized ones ([Beeper], [ContinuityThreshold], [DiodeThreshold],
//     [Configure]).
//   - [OptionTable], ordered label to wire-value tables for the sampling rate
//     and the per-function measurement ranges.
//   - [MeterMode] and [ParseFunction], which map FUNC? replies to a mode and
//     apply the DIOD/CONT relabeling of early firmware.
//   - [ParseIdentity] for *IDN? replies and [ParseMeasurement] for MEAS?
//     replies, including the [Overload] sentinel.
package scpi
