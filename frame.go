// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rs485

const frameOverhead = 4

// BuildFrame encodes a request frame:
//
//	Address   : 1 byte
//	Command   : 1 byte
//	Payload   : n bytes
//	CRC       : 2 bytes (high, low)
func BuildFrame(address, command byte, payload []byte) []byte {
	length := len(payload) + frameOverhead
	frame := make([]byte, length)
	frame[0] = address
	frame[1] = command
	copy(frame[2:], payload)

	checksum := Checksum(frame[:length-2])
	frame[length-2] = byte(checksum >> 8)
	frame[length-1] = byte(checksum)
	return frame
}

// StripNoise drops the leading bytes of buf whose value is at most 0x0F and
// returns the remainder. The result shares buf's backing array. Checksum and
// length are not validated.
func StripNoise(buf []byte) []byte {
	for i, b := range buf {
		if b > noiseThreshold {
			return buf[i:]
		}
	}
	return buf[len(buf):]
}

// VerifyFrame reports whether frame carries a valid CRC trailer.
func VerifyFrame(frame []byte) bool {
	length := len(frame)
	if length < frameOverhead {
		return false
	}
	checksum := uint16(frame[length-2])<<8 | uint16(frame[length-1])
	return checksum == Checksum(frame[:length-2])
}
