package scpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFunction_Canonical(t *testing.T) {
	cases := map[string]MeterMode{
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
	for token, want := range cases {
		got, ok := ParseFunction(token, false)
		require.True(t, ok, token)
		assert.Equal(t, want, got, token)
	}
}

func TestParseFunction_SwapDiodCont(t *testing.T) {
	mode, ok := ParseFunction("CONT", true)
	require.True(t, ok)
	assert.Equal(t, Diod, mode)

	mode, ok = ParseFunction("DIOD", true)
	require.True(t, ok)
	assert.Equal(t, Cont, mode)

	// other functions are not affected by the quirk
	mode, ok = ParseFunction("RES", true)
	require.True(t, ok)
	assert.Equal(t, Res, mode)
}

func TestParseFunction_Unknown(t *testing.T) {
	for _, token := range []string{"", "VOLT DC", "volt", "\"VOLT\"", "+1.0E+00"} {
		_, ok := ParseFunction(token, false)
		assert.False(t, ok, token)
	}
}

func TestMeterMode_StringRoundTrip(t *testing.T) {
	for _, mode := range Modes() {
		parsed, err := ParseMeterMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)

		got, ok := ParseFunction(FunctionToken(mode), false)
		require.True(t, ok)
		assert.Equal(t, mode, got)
	}

	m, err := ParseMeterMode("vac")
	require.NoError(t, err)
	assert.Equal(t, Vac, m)

	_, err = ParseMeterMode("ohms")
	require.Error(t, err)
	assert.Equal(t, "MeterMode(99)", MeterMode(99).String())
}
