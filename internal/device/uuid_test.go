package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortID(t *testing.T) {
	tests := []struct {
		uuid   string
		want   uint16
		wantOK bool
	}{
		{uuid: "180d", want: 0x180D, wantOK: true},
		{uuid: "0x180D", want: 0x180D, wantOK: true},
		{uuid: "0000180d", want: 0x180D, wantOK: true},
		{uuid: "0000180d-0000-1000-8000-00805f9b34fb", want: 0x180D, wantOK: true},
		{uuid: "00002A37-0000-1000-8000-00805F9B34FB", want: 0x2A37, wantOK: true},
		{uuid: "12342a37-aaaa-bbbb-cccc-ddddeeeeffff", want: 0x2A37, wantOK: true},
		{uuid: "", wantOK: false},
		{uuid: "18", wantOK: false},
		{uuid: "zz0d", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.uuid, func(t *testing.T) {
			got, ok := ShortID(tt.uuid)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestHeartRateMatchers(t *testing.T) {
	assert.True(t, IsHeartRateService("0000180d-0000-1000-8000-00805f9b34fb"))
	assert.False(t, IsHeartRateService("2a37"))
	assert.True(t, IsHeartRateMeasurement("2a37"))
	assert.False(t, IsHeartRateMeasurement("invalid"))
}

func TestSplitManufacturerData(t *testing.T) {
	id, payload, ok := SplitManufacturerData([]byte{0x34, 0x12, 0, 0, 0, 72})
	assert.True(t, ok)
	assert.Equal(t, uint16(0x1234), id)
	assert.Equal(t, []byte{0, 0, 0, 72}, payload)

	_, _, ok = SplitManufacturerData([]byte{0x34})
	assert.False(t, ok)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "powered off", err: errors.New("central manager has invalid state: 4"), want: ErrAdapterUnavailable},
		{name: "hci", err: errors.New("can't init hci: no devices available"), want: ErrAdapterUnavailable},
		{name: "not connected", err: errors.New("device not connected"), want: ErrNotConnected},
		{name: "already connected", err: errors.New("device already connected"), want: ErrAlreadyConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, NormalizeError(tt.err), tt.want)
		})
	}

	assert.Nil(t, NormalizeError(nil))
	plain := errors.New("something else")
	assert.Equal(t, plain, NormalizeError(plain))
}

func TestCompanyName(t *testing.T) {
	name, ok := CompanyName(0x038F)
	assert.True(t, ok)
	assert.Equal(t, "Xiaomi", name)

	_, ok = CompanyName(0xFFFE)
	assert.False(t, ok)

	assert.Equal(t, "Apple (0x004C)", DescribeCompany(0x004C))
	assert.Equal(t, "0x1234", DescribeCompany(0x1234))
}
