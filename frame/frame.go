// Package frame implements the datagram framing of the acquisition device: the 8 byte control
// commands that are sent to the device and the sample encoding of the received payloads.
package frame

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// CommandSize is the size of one encoded control command in bytes.
const CommandSize = 8

const (
	headerByte0 = 0x55
	headerByte1 = 0xA5
	trailerByte = 0xF0
)

// Address selects the device register that is written by a command.
type Address byte

const (
	AddrStart      Address = 0x00
	AddrChannel    Address = 0x01
	AddrPointCount Address = 0x02
	AddrDivider    Address = 0x03
)

// ChannelCode selects the acquired channels on the device.
type ChannelCode byte

const (
	Channel1    ChannelCode = 0x01
	Channel2    ChannelCode = 0x02
	DualChannel ChannelCode = 0x03
)

func (c ChannelCode) String() string {
	switch c {
	case Channel1:
		return "ch1"
	case Channel2:
		return "ch2"
	case DualChannel:
		return "dual"
	default:
		return fmt.Sprintf("0x%02X", byte(c))
	}
}

// Dual indicates if the payloads contain interleaved samples of two channels.
func (c ChannelCode) Dual() bool {
	return c == DualChannel
}

// ParseChannelCode parses the textual representation of a channel code.
func ParseChannelCode(s string) (ChannelCode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "ch1", "0x01":
		return Channel1, nil
	case "2", "ch2", "0x02":
		return Channel2, nil
	case "3", "dual", "0x03":
		return DualChannel, nil
	default:
		return 0, fmt.Errorf("invalid channel %q, use ch1, ch2 or dual", s)
	}
}

// EncodeCommand encodes one control command: 55 A5 <addr> <d3> <d2> <d1> <d0> F0, data in big endian order.
func EncodeCommand(addr Address, data uint32) []byte {
	result := make([]byte, CommandSize)
	result[0] = headerByte0
	result[1] = headerByte1
	result[2] = byte(addr)
	binary.BigEndian.PutUint32(result[3:7], data)
	result[7] = trailerByte
	return result
}

// BuildConfigAndStart returns the channel, point count, divider and start commands in one buffer.
// The buffer must be sent as one datagram, so the device applies all settings before it arms.
func BuildConfigAndStart(channel ChannelCode, pointCount uint32, divider uint32) []byte {
	result := make([]byte, 0, 4*CommandSize)
	result = append(result, EncodeCommand(AddrChannel, uint32(channel))...)
	result = append(result, EncodeCommand(AddrPointCount, pointCount)...)
	result = append(result, EncodeCommand(AddrDivider, divider)...)
	result = append(result, EncodeCommand(AddrStart, 0)...)
	return result
}

// BuildStartOnly returns the start command that re-arms the device for the next round.
func BuildStartOnly() []byte {
	return EncodeCommand(AddrStart, 0)
}

// DividerFor calculates the divider register value for the requested sample rate:
// round(clock / clamp(rate, 1, clock)) - 1, but at least 0.
func DividerFor(clockHz float64, rate float64) uint32 {
	if clockHz < 1 {
		return 0
	}
	rate = max(1, min(rate, clockHz))
	divider := math.Round(clockHz/rate) - 1
	if divider < 0 {
		return 0
	}
	if divider > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(divider)
}

// SampleRate returns the effective sample rate for the given clock and divider.
func SampleRate(clockHz float64, divider uint32) float64 {
	return clockHz / (float64(divider) + 1)
}
