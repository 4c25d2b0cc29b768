package scpi

import (
	"strconv"
	"strings"
)

const (
	// Terminator ends every outbound command.
	Terminator = "\n"
	// ReplyTerminator ends every reply line sent by the instrument.
	ReplyTerminator = "\r\n"
)

// Command is an outbound command line, including its terminator.
//
// Its identity is its text; there is no correlation id on the wire.
type Command string

// Fixed protocol commands.
const (
	Identify Command = "*IDN?\n"
	Remote   Command = "SYST:REM\n"
	Local    Command = "SYST:LOC\n"
	Reset    Command = "*RST\n"
	Measure  Command = "MEAS?\n"
	Function Command = "FUNC?\n"
)

// NewCommand builds a Command from text, appending the terminator when it is
// missing. Surrounding whitespace is removed.
func NewCommand(text string) Command {
	text = strings.TrimSpace(text)

	return Command(text + Terminator)
}

// Text returns the command without its terminator.
func (c Command) Text() string {
	return strings.TrimRight(string(c), "\r\n")
}

// String implements fmt.Stringer.
func (c Command) String() string {
	return string(c)
}

// Bytes returns the wire representation of the command.
func (c Command) Bytes() []byte {
	return []byte(c)
}

// IsQuery reports whether the command expects a reply line, which is the
// case exactly when its text ends in '?'.
func (c Command) IsQuery() bool {
	return strings.HasSuffix(c.Text(), "?")
}

// Beeper switches the instrument beeper on or off.
func Beeper(on bool) Command {
	if on {
		return "SYST:BEEP:STATe ON\n"
	}

	return "SYST:BEEP:STATe OFF\n"
}

// ContinuityThreshold sets the continuity threshold in ohms.
func ContinuityThreshold(ohms uint32) Command {
	return Command("CONT:THREshold " + strconv.FormatUint(uint64(ohms), 10) + Terminator)
}

// DiodeThreshold sets the diode threshold in volts. The value is written in
// its shortest exact form, e.g. 2 or 1.5.
func DiodeThreshold(volts float32) Command {
	return Command("DIOD:THREshold " + strconv.FormatFloat(float64(volts), 'f', -1, 32) + Terminator)
}

// Configure returns the CONF command that switches the instrument to mode
// with automatic ranging where the function supports it.
func Configure(mode MeterMode) (Command, bool) {
	switch mode {
	case Vdc:
		return "CONF:VOLT:DC AUTO\n", true
	case Vac:
		return "CONF:VOLT:AC AUTO\n", true
	case Adc:
		return "CONF:CURR:DC AUTO\n", true
	case Aac:
		return "CONF:CURR:AC AUTO\n", true
	case Res:
		return "CONF:RES AUTO\n", true
	case Cap:
		return "CONF:CAP AUTO\n", true
	case Freq:
		return "CONF:FREQ\n", true
	case Per:
		return "CONF:PER\n", true
	case Diod:
		return "CONF:DIOD\n", true
	case Cont:
		return "CONF:CONT\n", true
	case Temp:
		return "CONF:TEMP:RTD PT100\n", true
	default:
		return "", false
	}
}
