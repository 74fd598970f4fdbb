// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rs485

const crcPolynomial = 0xA001

// crcTable holds the per-byte remainders of the reflected Modbus polynomial.
var crcTable = func() (t [256]uint16) {
	for i := range t {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return
}()

// crc is a running CRC16/Modbus register.
type crc struct {
	value uint16
}

func (c *crc) reset() *crc {
	c.value = 0xFFFF
	return c
}

func (c *crc) pushBytes(bs []byte) *crc {
	for _, b := range bs {
		c.value = c.value>>8 ^ crcTable[byte(c.value)^b]
	}
	return c
}

// Checksum computes the CRC16/Modbus checksum (polynomial 0xA001, initial
// value 0xFFFF, least significant bit first) of data.
func Checksum(data []byte) uint16 {
	var c crc
	return c.reset().pushBytes(data).value
}
