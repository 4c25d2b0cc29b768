package scpi

import (
	"fmt"
	"strings"
)

// Option is one selectable value of a parameterized command.
type Option struct {
	// Label is the human facing name, e.g. "Fast" or "500mV".
	Label string
	// Value is the wire representation, e.g. "F" or "500E-3".
	Value string
}

// OptionTable is an ordered list of options sharing a command prefix.
//
// Order matters: callers present options by index and the first entry is the
// default selection.
type OptionTable struct {
	prefix  string
	options []Option
}

// NewOptionTable creates a table; prefix must include the separator that
// precedes the value, e.g. "RATE ".
func NewOptionTable(prefix string, options ...Option) OptionTable {
	return OptionTable{prefix: prefix, options: options}
}

// Len returns the number of options.
func (t OptionTable) Len() int { return len(t.options) }

// Prefix returns the command prefix.
func (t OptionTable) Prefix() string { return t.prefix }

// At returns the option at index i. ok is false when i is out of range.
func (t OptionTable) At(i int) (Option, bool) {
	if i < 0 || i >= len(t.options) {
		return Option{}, false
	}

	return t.options[i], true
}

// Index returns the position of label, or -1.
func (t OptionTable) Index(label string) int {
	for i, opt := range t.options {
		if opt.Label == label {
			return i
		}
	}

	return -1
}

// Options returns a copy of all options in order.
func (t OptionTable) Options() []Option {
	out := make([]Option, len(t.options))
	copy(out, t.options)

	return out
}

// Command builds the command selecting label.
func (t OptionTable) Command(label string) (Command, error) {
	i := t.Index(label)
	if i < 0 {
		return "", fmt.Errorf("scpi: unknown option %q for %q", label, t.prefix)
	}

	return t.CommandAt(i)
}

// CommandAt builds the command selecting the option at index i.
func (t OptionTable) CommandAt(i int) (Command, error) {
	opt, ok := t.At(i)
	if !ok {
		return "", fmt.Errorf("scpi: option index %d out of range [0, %d)", i, len(t.options))
	}

	return Command(t.prefix + opt.Value + Terminator), nil
}

// Rate identifies a sampling rate option by index into RateTable.
type Rate int

const (
	RateSlow Rate = iota
	RateMedium
	RateFast
)

// String returns the label of the rate.
func (r Rate) String() string {
	if opt, ok := RateTable.At(int(r)); ok {
		return opt.Label
	}

	return fmt.Sprintf("Rate(%d)", int(r))
}

// Command returns the RATE command for r.
func (r Rate) Command() (Command, error) {
	return RateTable.CommandAt(int(r))
}

// ParseRate maps a label ("Slow", "Medium", "Fast", case-insensitive) or a
// wire value ("S", "M", "F") to a Rate.
func ParseRate(s string) (Rate, error) {
	for i, opt := range RateTable.options {
		if strings.EqualFold(s, opt.Label) || strings.EqualFold(s, opt.Value) {
			return Rate(i), nil
		}
	}

	return 0, fmt.Errorf("scpi: unknown rate %q", s)
}

// RateTable lists the sampling rates of the XDM1041.
var RateTable = NewOptionTable("RATE ",
	Option{"Slow", "S"},
	Option{"Medium", "M"},
	Option{"Fast", "F"},
)

// ModelXDM1041 is the model name used to look up range tables.
const ModelXDM1041 = "OWON XDM1041"

var xdm1041Ranges = map[MeterMode]OptionTable{
	Vdc: NewOptionTable("CONF:VOLT:DC ",
		Option{"auto", "AUTO"},
		Option{"50mV", "50E-3"},
		Option{"500mV", "500E-3"},
		Option{"5V", "5"},
		Option{"50V", "50"},
		Option{"500V", "500"},
		Option{"1000V", "1000"},
	),
	Vac: NewOptionTable("CONF:VOLT:AC ",
		Option{"auto", "AUTO"},
		Option{"500mV", "500E-3"},
		Option{"5V", "5"},
		Option{"50V", "50"},
		Option{"500V", "500"},
		Option{"750V", "750"},
	),
	Adc: NewOptionTable("CONF:CURR:DC ",
		Option{"auto", "AUTO"},
		Option{"500uA", "500E-6"},
		Option{"5mA", "5E-3"},
		Option{"50mA", "50E-3"},
		Option{"500mA", "500E-3"},
		Option{"5A", "5"},
		Option{"10A", "10"},
	),
	Aac: NewOptionTable("CONF:CURR:AC ",
		Option{"auto", "AUTO"},
		Option{"500uA", "500E-6"},
		Option{"5mA", "5E-3"},
		Option{"50mA", "50E-3"},
		Option{"500mA", "500E-3"},
		Option{"5A", "5"},
		Option{"10A", "10"},
	),
	Res: NewOptionTable("CONF:RES ",
		Option{"auto", "AUTO"},
		Option{"500Ohm", "500"},
		Option{"5kOhm", "5E3"},
		Option{"50kOhm", "50E3"},
		Option{"500kOhm", "500E3"},
		Option{"5MOhm", "5E6"},
		Option{"50MOhm", "50E6"},
	),
	Cap: NewOptionTable("CONF:CAP ",
		Option{"auto", "AUTO"},
		Option{"50nF", "50E-9"},
		Option{"500nF", "500E-9"},
		Option{"5uF", "5E-6"},
		Option{"50uF", "50E-6"},
		Option{"500uF", "500E-6"},
		Option{"5mF", "5E-3"},
		Option{"50mF", "50E-3"},
	),
	Temp: NewOptionTable("CONF:TEMP:RTD ",
		Option{"PT100", "PT100"},
		Option{"K-type (KITS90)", "KITS90"},
	),
}

// RangeTable returns the range options of mode on model. Functions without
// selectable ranges (FREQ, PER, DIOD, CONT) and unknown models report false.
func RangeTable(model string, mode MeterMode) (OptionTable, bool) {
	if model != ModelXDM1041 {
		return OptionTable{}, false
	}
	t, ok := xdm1041Ranges[mode]

	return t, ok
}

// ModeCommand returns the CONF command selecting mode on model. An empty
// rangeLabel selects automatic ranging; otherwise the label must name an
// entry of the range table of mode.
func ModeCommand(model string, mode MeterMode, rangeLabel string) (Command, error) {
	if rangeLabel == "" {
		cmd, ok := Configure(mode)
		if !ok {
			return "", fmt.Errorf("scpi: unknown meter mode %d", uint8(mode))
		}

		return cmd, nil
	}

	table, ok := RangeTable(model, mode)
	if !ok {
		return "", fmt.Errorf("scpi: %s has no selectable ranges on %q", mode, model)
	}

	return table.Command(rangeLabel)
}
