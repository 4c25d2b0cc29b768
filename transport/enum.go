package transport

import (
	"fmt"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial device present on the system.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// String formats the port for listings, e.g. "/dev/ttyUSB0 [1a86:7523 USB Serial]".
func (pi PortInfo) String() string {
	if !pi.IsUSB {
		return pi.Name
	}
	if pi.Product == "" {
		return fmt.Sprintf("%s [%s:%s]", pi.Name, pi.VID, pi.PID)
	}

	return fmt.Sprintf("%s [%s:%s %s]", pi.Name, pi.VID, pi.PID, pi.Product)
}

// ListPorts returns the serial devices present on the system. USB details are
// included where the platform enumerator provides them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}

		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, PortInfo{Name: name})
	}

	return ports, nil
}
