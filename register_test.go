// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rs485

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPayloads(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		expected []byte
	}{
		{"read", readPayload(0x02), []byte{0x00, 0x02, 0x00, 0x01}},
		{"write", writePayload(0x03, 0x02), []byte{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x02}},
	}
	for _, test := range tests {
		if diff := cmp.Diff(test.expected, test.payload); diff != "" {
			t.Errorf("%s payload mismatch (-want +got):\n%s", test.name, diff)
		}
	}
}

func TestReadPos(t *testing.T) {
	tc := newTestConnector(t)

	values := make(chan byte, 1)
	tc.ReadPos(0x02, func(value byte) { values <- value })
	expectFrame(t, tc.link, BuildFrame(testAddress, CommandReadRegister, []byte{0x00, 0x02, 0x00, 0x01}))

	tc.link.feed(BuildFrame(testAddress, CommandReadRegister, []byte{0x02, 0x00, 0x01}))

	select {
	case v := <-values:
		assert.Equal(t, byte(0x01), v)
	case <-time.After(waitFor):
		t.Fatal("callback was not invoked")
	}
}

func TestReadPosShortResponse(t *testing.T) {
	tc := newTestConnector(t)

	values := make(chan byte, 1)
	tc.ReadPos(0x01, func(value byte) { values <- value })
	expectFrame(t, tc.link, BuildFrame(testAddress, CommandReadRegister, readPayload(0x01)))

	tc.link.feed([]byte{testAddress, CommandReadRegister, 0x02})
	waitCounter(t, tc.Metrics().ResponsesMatched, 1)

	assert.Never(t, func() bool { return len(values) > 0 }, 50*time.Millisecond, tick)
}

func TestWritePos(t *testing.T) {
	tc := newTestConnector(t)

	acked := make(chan struct{}, 1)
	tc.WritePos(0x03, 0x02, func() { acked <- struct{}{} })
	expectFrame(t, tc.link, BuildFrame(testAddress, CommandWriteRegister, []byte{0x00, 0x03, 0x00, 0x01, 0x02, 0x00, 0x02}))

	// the reply content is not inspected
	tc.link.feed([]byte{testAddress, CommandWriteRegister})

	select {
	case <-acked:
	case <-time.After(waitFor):
		t.Fatal("callback was not invoked")
	}
}

func TestReadRegister(t *testing.T) {
	tc := newTestConnector(t)

	type result struct {
		value byte
		err   error
	}
	results := make(chan result, 1)
	go func() {
		v, err := tc.ReadRegister(context.Background(), 0x03)
		results <- result{v, err}
	}()
	expectFrame(t, tc.link, BuildFrame(testAddress, CommandReadRegister, readPayload(0x03)))

	tc.link.feed(BuildFrame(testAddress, CommandReadRegister, []byte{0x02, 0x00, 0x03}))

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, byte(0x03), r.value)
	case <-time.After(waitFor):
		t.Fatal("read did not complete")
	}
}

func TestReadRegisterShortResponse(t *testing.T) {
	tc := newTestConnector(t)

	errs := make(chan error, 1)
	go func() {
		_, err := tc.ReadRegister(context.Background(), 0x01)
		errs <- err
	}()
	expectFrame(t, tc.link, BuildFrame(testAddress, CommandReadRegister, readPayload(0x01)))

	tc.link.feed([]byte{testAddress, CommandReadRegister, 0x02, 0x00})

	select {
	case err := <-errs:
		var short *ShortResponseError
		require.ErrorAs(t, err, &short)
		assert.Equal(t, 4, short.Length)
		assert.Equal(t, 5, short.Want)
	case <-time.After(waitFor):
		t.Fatal("read did not complete")
	}
}

func TestWriteRegister(t *testing.T) {
	tc := newTestConnector(t)

	errs := make(chan error, 1)
	go func() { errs <- tc.WriteRegister(context.Background(), 0x01, 0x00) }()
	expectFrame(t, tc.link, BuildFrame(testAddress, CommandWriteRegister, writePayload(0x01, 0x00)))

	tc.link.feed(BuildFrame(testAddress, CommandWriteRegister, []byte{0x00, 0x01, 0x00, 0x01}))

	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("write did not complete")
	}
}
