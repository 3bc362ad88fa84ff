package frame

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	tt := []struct {
		addr     Address
		data     uint32
		expected []byte
	}{
		{AddrStart, 0, []byte{0x55, 0xA5, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0}},
		{AddrChannel, 0x03, []byte{0x55, 0xA5, 0x01, 0x00, 0x00, 0x00, 0x03, 0xF0}},
		{AddrPointCount, 4096, []byte{0x55, 0xA5, 0x02, 0x00, 0x00, 0x10, 0x00, 0xF0}},
		{AddrDivider, 0x12345678, []byte{0x55, 0xA5, 0x03, 0x12, 0x34, 0x56, 0x78, 0xF0}},
		{0xFF, math.MaxUint32, []byte{0x55, 0xA5, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xF0}},
	}
	for _, tc := range tt {
		t.Run(fmt.Sprintf("%02x_%x", byte(tc.addr), tc.data), func(t *testing.T) {
			actual := EncodeCommand(tc.addr, tc.data)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestEncodeCommandFraming(t *testing.T) {
	for addr := 0; addr < 256; addr += 17 {
		for _, data := range []uint32{0, 1, 0xA5A5A5A5, 0xDEADBEEF} {
			actual := EncodeCommand(Address(addr), data)
			require.Len(t, actual, CommandSize)
			assert.Equal(t, byte(0x55), actual[0])
			assert.Equal(t, byte(0xA5), actual[1])
			assert.Equal(t, byte(addr), actual[2])
			assert.Equal(t, byte(data>>24), actual[3])
			assert.Equal(t, byte(data>>16), actual[4])
			assert.Equal(t, byte(data>>8), actual[5])
			assert.Equal(t, byte(data), actual[6])
			assert.Equal(t, byte(0xF0), actual[7])
		}
	}
}

func TestBuildConfigAndStart(t *testing.T) {
	actual := BuildConfigAndStart(DualChannel, 4096, 24)

	require.Len(t, actual, 4*CommandSize)
	assert.Equal(t, EncodeCommand(AddrChannel, 3), actual[0:8])
	assert.Equal(t, EncodeCommand(AddrPointCount, 4096), actual[8:16])
	assert.Equal(t, EncodeCommand(AddrDivider, 24), actual[16:24])
	assert.Equal(t, EncodeCommand(AddrStart, 0), actual[24:32])
	assert.Equal(t, EncodeCommand(AddrStart, 0), BuildStartOnly())
}

func TestDividerFor(t *testing.T) {
	tt := []struct {
		desc     string
		clock    float64
		rate     float64
		expected uint32
	}{
		{"full rate", 25e6, 25e6, 0},
		{"above clock", 25e6, 50e6, 0},
		{"half rate", 25e6, 12.5e6, 1},
		{"one MS/s", 25e6, 1e6, 24},
		{"rounding", 25e6, 3e6, 7},
		{"below one", 100, 0, 99},
		{"no clock", 0, 1e6, 0},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, DividerFor(tc.clock, tc.rate))
		})
	}
	assert.Equal(t, 1e6, SampleRate(25e6, 24))
}

func TestParseChannelCode(t *testing.T) {
	for _, s := range []string{"dual", "3", "0x03", " DUAL "} {
		code, err := ParseChannelCode(s)
		require.NoError(t, err)
		assert.Equal(t, DualChannel, code)
		assert.True(t, code.Dual())
	}
	code, err := ParseChannelCode("ch2")
	require.NoError(t, err)
	assert.Equal(t, Channel2, code)
	assert.False(t, code.Dual())

	_, err = ParseChannelCode("4")
	assert.Error(t, err)
}
