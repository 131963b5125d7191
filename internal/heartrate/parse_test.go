package heartrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeasurement_8Bit(t *testing.T) {
	for v := 1; v < 256; v++ {
		bpm, err := ParseMeasurement([]byte{0x00, byte(v)})
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, bpm)
	}

	_, err := ParseMeasurement([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseMeasurement_16Bit(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr error
	}{
		{name: "little-endian value", data: []byte{0x01, 0x48, 0x00}, want: 72},
		{name: "uses high byte", data: []byte{0x01, 0x2B, 0x01}, want: 299},
		{name: "exactly 300 rejected", data: []byte{0x01, 0x2C, 0x01}, wantErr: ErrOutOfRange},
		{name: "large value rejected", data: []byte{0x01, 0xFF, 0xFF}, wantErr: ErrOutOfRange},
		{name: "zero rejected", data: []byte{0x01, 0x00, 0x00}, wantErr: ErrOutOfRange},
		{name: "truncated to two bytes", data: []byte{0x01, 0x48}, wantErr: ErrMalformed},
		{name: "flags only", data: []byte{0x01}, wantErr: ErrMalformed},
		{name: "extra trailing bytes ignored", data: []byte{0x11, 0x50, 0x00, 0xAA, 0xBB}, want: 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpm, err := ParseMeasurement(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, bpm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, bpm)
		})
	}
}

func TestParseMeasurement_Empty(t *testing.T) {
	_, err := ParseMeasurement(nil)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseMeasurement([]byte{0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseManufacturerData(t *testing.T) {
	t.Run("reads byte 3", func(t *testing.T) {
		bpm, err := ParseManufacturerData(map[uint16][]byte{0x1234: {0, 0, 0, 72}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 72, bpm)
	})

	t.Run("skips short entries and reports them", func(t *testing.T) {
		var skipped []uint16
		bpm, err := ParseManufacturerData(map[uint16][]byte{
			0x0001: {1, 2},
			0x0002: {0, 0, 0, 95, 1},
		}, func(id uint16, _ []byte, reason error) {
			skipped = append(skipped, id)
			assert.ErrorIs(t, reason, ErrMalformed)
		})
		require.NoError(t, err)
		assert.Equal(t, 95, bpm)
		assert.Equal(t, []uint16{0x0001}, skipped)
	})

	t.Run("skips out of range entries", func(t *testing.T) {
		bpm, err := ParseManufacturerData(map[uint16][]byte{
			0x0001: {0, 0, 0, 0},
			0x0002: {0, 0, 0, 61},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 61, bpm)
	})

	t.Run("first qualifying entry wins", func(t *testing.T) {
		bpm, err := ParseManufacturerData(map[uint16][]byte{
			0x0009: {0, 0, 0, 120},
			0x0003: {0, 0, 0, 80},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 80, bpm)
	})

	t.Run("nothing qualifies", func(t *testing.T) {
		_, err := ParseManufacturerData(map[uint16][]byte{0x0001: {1, 2, 3}}, nil)
		assert.ErrorIs(t, err, ErrParse)

		_, err = ParseManufacturerData(nil, nil)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestNewSample(t *testing.T) {
	s, err := NewSample(72, testTime)
	require.NoError(t, err)
	assert.Equal(t, 72, s.BPM)
	assert.Equal(t, testTime, s.ObservedAt)

	for _, bad := range []int{0, -1, 300, 1000} {
		_, err := NewSample(bad, testTime)
		assert.ErrorIs(t, err, ErrOutOfRange, "bpm %d", bad)
	}
}
