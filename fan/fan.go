// Package fan exposes a ventilation unit's power, rotation direction and
// speed on top of an rs485 register client, translating between the device's
// native codes and consumer facing values.
package fan

import (
	"context"

	"github.com/fanbridge/rs485/logger"
)

// RegisterClient reads and writes single device registers.
// *rs485.Connector implements it.
type RegisterClient interface {
	ReadRegister(ctx context.Context, position byte) (byte, error)
	WriteRegister(ctx context.Context, position, value byte) error
}

// Info describes the accessory.
type Info struct {
	Name         string
	Manufacturer string
	Model        string
}

// Fan is a ventilation unit behind a register client.
type Fan struct {
	client RegisterClient
	logger logger.Logger
	info   Info
}

// New creates a Fan named name.
func New(name string, client RegisterClient, l logger.Logger) *Fan {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Fan{
		client: client,
		logger: l.With("accessory", name),
		info: Info{
			Name:         name,
			Manufacturer: "Panasonic",
			Model:        "FY-RS15ZDP2C",
		},
	}
}

// Info returns the accessory information.
func (f *Fan) Info() Info { return f.info }

// On reports whether the fan is powered.
func (f *Fan) On(ctx context.Context) (bool, error) {
	f.logger.Debug("requesting power state")
	v, err := f.client.ReadRegister(ctx, RegisterPower)
	if err != nil {
		return false, err
	}
	f.logger.Info("power state returned", "on", v != 0)
	return v != 0, nil
}

// SetOn powers the fan on or off.
func (f *Fan) SetOn(ctx context.Context, on bool) error {
	var v byte
	if on {
		v = 0x01
	}
	if err := f.client.WriteRegister(ctx, RegisterPower, v); err != nil {
		return err
	}
	f.logger.Info("power state set", "on", on)
	return nil
}

// Direction returns the rotation direction.
func (f *Fan) Direction(ctx context.Context) (Direction, error) {
	v, err := f.client.ReadRegister(ctx, RegisterDirection)
	if err != nil {
		return Clockwise, err
	}
	d := DirectionFromNative(v)
	f.logger.Info("direction returned", "direction", d, "native", v)
	return d, nil
}

// SetDirection sets the rotation direction.
func (f *Fan) SetDirection(ctx context.Context, d Direction) error {
	if err := f.client.WriteRegister(ctx, RegisterDirection, d.Native()); err != nil {
		return err
	}
	f.logger.Info("direction set", "direction", d)
	return nil
}

// Speed returns the rotation speed in percent.
func (f *Fan) Speed(ctx context.Context) (int, error) {
	v, err := f.client.ReadRegister(ctx, RegisterSpeed)
	if err != nil {
		return 0, err
	}
	speed := TierToSpeed(v)
	f.logger.Info("speed returned", "speed", speed, "tier", v)
	return speed, nil
}

// SetSpeed sets the rotation speed in percent. The device only knows three
// tiers, so reading back returns the tier's nominal percentage.
func (f *Fan) SetSpeed(ctx context.Context, percent int) error {
	tier := SpeedToTier(percent)
	if err := f.client.WriteRegister(ctx, RegisterSpeed, tier); err != nil {
		return err
	}
	f.logger.Info("speed set", "speed", percent, "tier", tier)
	return nil
}
