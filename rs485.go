// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

/*
Package rs485 provides a client for an RTU style register protocol carried
over a raw TCP socket (or a local serial port) to a single RS485 device.

Frames have no delimiters on the wire:

	Address   : 1 byte
	Command   : 1 byte
	Payload   : n bytes
	CRC       : 2 bytes, high byte first

Responses are correlated with requests by address and command only, so the
connector keeps at most one request in flight per address.
*/
package rs485

import "time"

const (
	// CommandReadRegister reads one holding register.
	CommandReadRegister = 0x03
	// CommandWriteRegister writes one register.
	CommandWriteRegister = 0x10
)

const (
	// noiseThreshold is the highest byte value treated as line noise when
	// it precedes a response.
	noiseThreshold = 0x0F

	// heartbeatRegister is read periodically to keep the link exercised.
	heartbeatRegister = 0x01

	// readValueOffset is the index of the register value in a read reply.
	readValueOffset = 4

	maxChunkSize = 256
)

const (
	// staleAfter is the age after which an unanswered request may be evicted.
	staleAfter = 3000 * time.Millisecond
	// graceDelay is how long a matched request keeps its slot.
	graceDelay = 200 * time.Millisecond
	// busyRetryDelay is the resubmission delay for a busy address.
	busyRetryDelay = 500 * time.Millisecond
	// reconnectDelay is the fixed backoff between connection attempts.
	reconnectDelay = 3000 * time.Millisecond
	// heartbeatInterval is the period of the liveness read.
	heartbeatInterval = 60 * time.Second
)
