package frame

// Decode decodes a received payload into zero-centered code values.
//
// Only the even number of leading bytes is used. In single channel mode, every byte pair is a
// 16 bit little endian value of which only the low byte carries the sample. In dual channel mode,
// even bytes belong to CH1 and odd bytes to CH0. The second result is only set in dual channel mode
// if wantDual is true.
func Decode(payload []byte, channel ChannelCode, wantDual bool) ([]int16, []int16) {
	n := len(payload) / 2
	if n == 0 {
		return []int16{}, nil
	}
	payload = payload[:2*n]

	if !channel.Dual() {
		low := make([]byte, n)
		for i := range low {
			low[i] = payload[2*i]
		}
		return Invert(Unwrap(low)), nil
	}

	ch1 := make([]byte, n)
	ch0 := make([]byte, n)
	for i := 0; i < n; i++ {
		ch1[i] = payload[2*i]
		ch0[i] = payload[2*i+1]
	}

	// unwrap before the polarity is inverted, the wrap detection relies on the raw byte domain
	result0 := Invert(Unwrap(ch0))
	if !wantDual {
		return result0, nil
	}
	return result0, Invert(Unwrap(ch1))
}

// Unwrap removes the visual discontinuities of a byte sequence that wrapped through the 0/255 boundary.
// A step of more than +128 subtracts 256 from all following values, a step below -128 adds 256.
// The corrections accumulate, the result is clipped to 0..255.
func Unwrap(raw []byte) []byte {
	result := make([]byte, len(raw))
	if len(raw) == 0 {
		return result
	}

	correction := 0
	result[0] = raw[0]
	for i := 1; i < len(raw); i++ {
		step := int(raw[i]) - int(raw[i-1])
		switch {
		case step > 128:
			correction -= 256
		case step < -128:
			correction += 256
		}
		value := int(raw[i]) + correction
		result[i] = byte(max(0, min(value, 255)))
	}
	return result
}

// Invert converts raw bytes into zero-centered code values. The front end reports low voltages
// as 0xFF and high voltages as 0x00, so s = 128 - byte, which gives a range of [-127, 128].
func Invert(raw []byte) []int16 {
	result := make([]int16, len(raw))
	for i, b := range raw {
		result[i] = 128 - int16(b)
	}
	return result
}
