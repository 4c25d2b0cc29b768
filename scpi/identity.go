package scpi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidIdentity is returned when an *IDN? reply does not have the
// manufacturer,model,serial,firmware layout.
var ErrInvalidIdentity = errors.New("scpi: invalid identity string")

// Identity is a parsed *IDN? reply.
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	// Firmware is the raw version field, usually with a leading 'V'.
	Firmware string
	// Raw is the complete reply line without terminator.
	Raw string
}

// ParseIdentity splits a *IDN? reply of the form
// "OWON,XDM1041,SN123,V4.2.9". Extra trailing fields are ignored.
func ParseIdentity(line string) (Identity, error) {
	line = strings.TrimSpace(line)

	parts := strings.Split(line, ",")
	if len(parts) < 4 {
		return Identity{Raw: line}, fmt.Errorf("%w: %q", ErrInvalidIdentity, line)
	}

	return Identity{
		Manufacturer: strings.TrimSpace(parts[0]),
		Model:        strings.TrimSpace(parts[1]),
		Serial:       strings.TrimSpace(parts[2]),
		Firmware:     strings.TrimSpace(parts[3]),
		Raw:          line,
	}, nil
}

// Product returns manufacturer and model joined by a space, the key used by
// RangeTable, e.g. "OWON XDM1041".
func (id Identity) Product() string {
	return id.Manufacturer + " " + id.Model
}

// FirmwareVersion returns the numeric major, minor and patch components of
// the firmware field. The version must have at least three dot separated
// components; the patch component may carry a non-numeric suffix.
func (id Identity) FirmwareVersion() (major, minor int, patch string, err error) {
	parts := strings.Split(strings.TrimPrefix(id.Firmware, "V"), ".")
	if len(parts) < 3 {
		return 0, 0, "", fmt.Errorf("scpi: firmware version %q has fewer than 3 components", id.Firmware)
	}

	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, "", fmt.Errorf("scpi: firmware major version: %w", err)
	}
	if minor, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, "", fmt.Errorf("scpi: firmware minor version: %w", err)
	}

	return major, minor, parts[2], nil
}

// SwapsDiodCont reports whether this instrument reports the DIOD and CONT
// functions reversed. Affected are OWON XDM1041 and XDM1241 meters running
// firmware older than 4.3.0.
func (id Identity) SwapsDiodCont() bool {
	if id.Manufacturer != "OWON" {
		return false
	}
	if id.Model != "XDM1041" && id.Model != "XDM1241" {
		return false
	}

	major, minor, _, err := id.FirmwareVersion()
	if err != nil {
		return false
	}

	return major < 4 || (major == 4 && minor < 3)
}

// SwapsDiodCont parses line and applies Identity.SwapsDiodCont. Unparseable
// identity strings never swap.
func SwapsDiodCont(line string) bool {
	id, err := ParseIdentity(line)
	if err != nil {
		return false
	}

	return id.SwapsDiodCont()
}
