// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rs485

import "context"

// Request:
//
//	Address               : 1 byte
//	Command               : 1 byte (0x03)
//	Register              : 2 bytes (0x00, position)
//	Quantity of registers : 2 bytes (0x00, 0x01)
//	CRC                   : 2 bytes
func readPayload(position byte) []byte {
	return []byte{0x00, position, 0x00, 0x01}
}

// Request:
//
//	Address               : 1 byte
//	Command               : 1 byte (0x10)
//	Register              : 2 bytes (0x00, position)
//	Quantity of registers : 2 bytes (0x00, 0x01)
//	Byte count            : 1 byte (0x02)
//	Value                 : 2 bytes (0x00, value)
//	CRC                   : 2 bytes
func writePayload(position, value byte) []byte {
	return []byte{0x00, position, 0x00, 0x01, 0x02, 0x00, value}
}

// ReadPos reads the register at position and passes its value to callback.
// callback fires at most once; see SendRaw for when it does not fire.
func (c *Connector) ReadPos(position byte, callback func(value byte)) {
	c.SendRaw(c.address, CommandReadRegister, readPayload(position), func(frame []byte) {
		if len(frame) <= readValueOffset {
			c.logger.Warn("read response too short", "register", position, "length", len(frame))
			return
		}
		if callback != nil {
			callback(frame[readValueOffset])
		}
	})
}

// WritePos writes value to the register at position. callback fires when
// the device acknowledges; the reply content is not inspected.
func (c *Connector) WritePos(position, value byte, callback func()) {
	c.SendRaw(c.address, CommandWriteRegister, writePayload(position, value), func([]byte) {
		if callback != nil {
			callback()
		}
	})
}

// ReadRegister reads the register at position and waits for its value.
func (c *Connector) ReadRegister(ctx context.Context, position byte) (byte, error) {
	frame, err := c.Request(ctx, CommandReadRegister, readPayload(position))
	if err != nil {
		return 0, err
	}
	if len(frame) <= readValueOffset {
		return 0, &ShortResponseError{Length: len(frame), Want: readValueOffset + 1}
	}
	return frame[readValueOffset], nil
}

// WriteRegister writes value to the register at position and waits for the
// acknowledgement.
func (c *Connector) WriteRegister(ctx context.Context, position, value byte) error {
	_, err := c.Request(ctx, CommandWriteRegister, writePayload(position, value))
	return err
}
