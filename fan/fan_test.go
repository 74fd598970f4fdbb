package fan

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fanbridge/rs485/logger"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) ReadRegister(ctx context.Context, position byte) (byte, error) {
	args := m.Called(ctx, position)
	return args.Get(0).(byte), args.Error(1)
}

func (m *mockClient) WriteRegister(ctx context.Context, position, value byte) error {
	return m.Called(ctx, position, value).Error(0)
}

func newTestFan(client RegisterClient) *Fan {
	return New("DOAS", client, logger.NewSlog(io.Discard, logger.DebugLevel, false))
}

func TestDirectionMapping(t *testing.T) {
	tests := []struct {
		native byte
		want   Direction
	}{
		{0, Clockwise},
		{2, CounterClockwise},
		{5, Clockwise},
		{7, Clockwise},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DirectionFromNative(tt.native), "native %d", tt.native)
	}

	assert.Equal(t, byte(0), Clockwise.Native())
	assert.Equal(t, byte(2), CounterClockwise.Native())
	assert.Equal(t, byte(0), Direction(9).Native())
}

func TestSpeedMapping(t *testing.T) {
	tiers := map[int]byte{0: 1, 30: 1, 31: 2, 69: 2, 70: 3, 100: 3}
	for percent, tier := range tiers {
		assert.Equal(t, tier, SpeedToTier(percent), "percent %d", percent)
	}

	speeds := map[byte]int{0: 0, 1: 5, 2: 50, 3: 100, 4: 0}
	for tier, percent := range speeds {
		assert.Equal(t, percent, TierToSpeed(tier), "tier %d", tier)
	}
}

func TestFanReads(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	client.On("ReadRegister", ctx, byte(RegisterPower)).Return(byte(1), nil)
	client.On("ReadRegister", ctx, byte(RegisterDirection)).Return(byte(2), nil)
	client.On("ReadRegister", ctx, byte(RegisterSpeed)).Return(byte(2), nil)

	f := newTestFan(client)

	on, err := f.On(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	d, err := f.Direction(ctx)
	require.NoError(t, err)
	assert.Equal(t, CounterClockwise, d)

	speed, err := f.Speed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, speed)

	client.AssertExpectations(t)
}

func TestFanWrites(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	client.On("WriteRegister", ctx, byte(RegisterPower), byte(0)).Return(nil)
	client.On("WriteRegister", ctx, byte(RegisterDirection), byte(2)).Return(nil)
	client.On("WriteRegister", ctx, byte(RegisterSpeed), byte(3)).Return(nil)

	f := newTestFan(client)

	require.NoError(t, f.SetOn(ctx, false))
	require.NoError(t, f.SetDirection(ctx, CounterClockwise))
	require.NoError(t, f.SetSpeed(ctx, 85))

	client.AssertExpectations(t)
}

func TestFanPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	errLink := errors.New("link down")
	client := &mockClient{}
	client.On("ReadRegister", ctx, byte(RegisterSpeed)).Return(byte(0), errLink)
	client.On("WriteRegister", ctx, byte(RegisterPower), byte(1)).Return(errLink)

	f := newTestFan(client)

	_, err := f.Speed(ctx)
	assert.ErrorIs(t, err, errLink)
	assert.ErrorIs(t, f.SetOn(ctx, true), errLink)
}

func TestInfo(t *testing.T) {
	info := newTestFan(&mockClient{}).Info()
	assert.Equal(t, "DOAS", info.Name)
	assert.Equal(t, "Panasonic", info.Manufacturer)
	assert.Equal(t, "FY-RS15ZDP2C", info.Model)
}

func TestSetOnLogs(t *testing.T) {
	l := logger.NewMockLogger()
	l.On("With", []any{"accessory", "DOAS"}).Return(l).Once()
	l.On("Info", "power state set", []any{"on", true}).Once()

	client := &mockClient{}
	client.On("WriteRegister", mock.Anything, byte(RegisterPower), byte(0x01)).Return(nil)

	f := New("DOAS", client, l)
	require.NoError(t, f.SetOn(context.Background(), true))

	l.AssertExpectations(t)
	client.AssertExpectations(t)
}
