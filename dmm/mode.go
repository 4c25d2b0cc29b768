package dmm

import (
	"fmt"

	"github.com/arloliu/go-dmm/scpi"
)

// SetMode switches the meter to mode. An empty rangeLabel selects automatic
// ranging, otherwise the label is looked up in the range table of the
// identified meter model. For CONT and DIOD the configured beeper state and
// threshold are sent right after the CONF command.
//
// The commands are queued together or not at all.
func (c *Connection) SetMode(mode scpi.MeterMode, rangeLabel string) error {
	var model string
	if id, err := scpi.ParseIdentity(c.Identity()); err == nil {
		model = id.Product()
	}

	conf, err := scpi.ModeCommand(model, mode, rangeLabel)
	if err != nil {
		return fmt.Errorf("dmm: set mode %s: %w", mode, err)
	}

	cmds := append([]scpi.Command{conf}, modeFollowUps(c.cfg, mode)...)

	if c.opState.Get() == Disconnected {
		return ErrConnClosed
	}
	if cap(c.cmdChan)-len(c.cmdChan) < len(cmds) {
		return ErrCommandQueueFull
	}

	for _, cmd := range cmds {
		if err := c.Send(cmd); err != nil {
			return err
		}
	}

	return nil
}
