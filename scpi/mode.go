package scpi

import (
	"fmt"
	"strings"
)

// MeterMode is the measurement function the instrument is configured for.
type MeterMode uint8

const (
	Vdc MeterMode = iota
	Vac
	Adc
	Aac
	Res
	Cap
	Freq
	Per
	Diod
	Cont
	Temp
)

var modeNames = [...]string{
	Vdc:  "VDC",
	Vac:  "VAC",
	Adc:  "ADC",
	Aac:  "AAC",
	Res:  "RES",
	Cap:  "CAP",
	Freq: "FREQ",
	Per:  "PER",
	Diod: "DIOD",
	Cont: "CONT",
	Temp: "TEMP",
}

// Modes lists every MeterMode in declaration order.
func Modes() []MeterMode {
	return []MeterMode{Vdc, Vac, Adc, Aac, Res, Cap, Freq, Per, Diod, Cont, Temp}
}

// String returns the short upper-case name of the mode, e.g. "VDC".
func (m MeterMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}

	return fmt.Sprintf("MeterMode(%d)", uint8(m))
}

// ParseMeterMode parses the short name returned by String, ignoring case.
func ParseMeterMode(s string) (MeterMode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return MeterMode(i), nil
		}
	}

	return 0, fmt.Errorf("scpi: unknown meter mode %q", s)
}

// function tokens as reported by FUNC?, canonical mapping
var functionTokens = map[string]MeterMode{
	"VOLT":    Vdc,
	"VOLT AC": Vac,
	"CURR":    Adc,
	"CURR AC": Aac,
	"RES":     Res,
	"CAP":     Cap,
	"FREQ":    Freq,
	"PER":     Per,
	"TEMP":    Temp,
	"DIOD":    Diod,
	"CONT":    Cont,
}

// FunctionToken returns the FUNC? reply token of mode under the canonical
// mapping.
func FunctionToken(mode MeterMode) string {
	for token, m := range functionTokens {
		if m == mode {
			return token
		}
	}

	return ""
}

// ParseFunction maps an unquoted FUNC? reply token to a MeterMode.
//
// When swapDiodCont is set the DIOD and CONT tokens resolve to each other's
// mode, compensating for firmware that reports them reversed.
func ParseFunction(token string, swapDiodCont bool) (MeterMode, bool) {
	mode, ok := functionTokens[token]
	if !ok {
		return 0, false
	}

	if swapDiodCont {
		switch mode {
		case Diod:
			return Cont, true
		case Cont:
			return Diod, true
		}
	}

	return mode, true
}
