package codec

import "github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/errorsx"

// G.711 mu-law codec for the 8kHz mono telephony leg. Decode goes through a
// 256-entry table built once at init; encode runs the segment search per
// sample. Both directions are stateless and safe for concurrent use.

const muLawBias = 0x84

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// ExpandULaw converts mu-law bytes to 16-bit little-endian linear PCM.
// Every byte value is a valid mu-law code, so expansion cannot fail; the
// output is always exactly twice the input length.
func ExpandULaw(companded []byte) []byte {
	if len(companded) == 0 {
		return nil
	}
	out := make([]byte, len(companded)*2)
	for i, b := range companded {
		sample := muLawDecodeTable[b]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

// CompressULaw converts 16-bit little-endian linear PCM to mu-law bytes.
// The input must hold a whole number of samples.
func CompressULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errorsx.Wrap(errorsx.ErrInvalidLength, errorsx.ReasonCodecLength)
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = encodeMuLawSample(sample)
	}
	return out, nil
}

func decodeMuLawSample(uval byte) int16 {
	uval = ^uval
	sign := int16(uval & 0x80)
	exponent := (uval >> 4) & 0x07
	mantissa := uval & 0x0F
	magnitude := ((int16(mantissa) << 3) + muLawBias) << exponent
	magnitude -= muLawBias
	if sign != 0 {
		return -magnitude
	}
	return magnitude
}

func encodeMuLawSample(sample int16) byte {
	var sign byte
	value := int32(sample)
	if value < 0 {
		value = -value
		sign = 0x80
	}
	if value > 0x7F7B {
		value = 0x7F7B
	}
	value += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && value&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(value>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}
