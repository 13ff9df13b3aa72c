package audio

// G.711 mu-law expansion for Twilio media-stream payloads (8kHz mono).

const mulawBias = 0x84

// DecodeMulaw expands mu-law bytes to 16-bit PCM samples.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		b = ^b
		sign := b & 0x80
		exponent := (b >> 4) & 0x07
		mantissa := b & 0x0F
		sample := (int16(mantissa)<<3 + mulawBias) << exponent
		sample -= mulawBias
		if sign != 0 {
			sample = -sample
		}
		out[i] = sample
	}
	return out
}

// Upsample8kTo16k doubles the sample rate by linear interpolation. Telephony
// audio arrives at 8kHz; the provider expects 16kHz.
func Upsample8kTo16k(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, len(in)*2)
	for i, v := range in {
		out[i*2] = v
		if i+1 < len(in) {
			out[i*2+1] = int16((int32(v) + int32(in[i+1])) / 2)
		} else {
			out[i*2+1] = v
		}
	}
	return out
}
