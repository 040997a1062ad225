package mcu

import (
	"time"

	"github.com/jt05610/sampler/motor"
)

// Firmware motor numbering, fixed by the harness wiring.
var motorIDs = map[motor.AxisID]int{
	motor.AxisX:       1,
	motor.AxisY:       2,
	motor.AxisZ:       3,
	motor.AxisPipette: 4,
}

// AxisDriver adapts the client to the per-axis pulse primitive.
type AxisDriver struct {
	c       *Client
	motorID int
}

var _ motor.Driver = (*AxisDriver)(nil)

// Driver returns the pulse driver for one axis.
func (c *Client) Driver(id motor.AxisID) *AxisDriver {
	return &AxisDriver{c: c, motorID: motorIDs[id]}
}

func (d *AxisDriver) Step(dir motor.Direction, delay time.Duration) error {
	executed, err := d.c.Move(d.motorID, 1, dir, delay.Microseconds())
	if err != nil {
		return err
	}
	if executed < 1 {
		return ErrLimitBlocked
	}
	return nil
}

func (d *AxisDriver) Triggered(l motor.Limit) (bool, error) {
	return d.c.Limit(d.motorID, l)
}

func (d *AxisDriver) Release() error {
	return d.c.Release(d.motorID)
}
