package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// BlockSamples is the fixed frame size sent upstream: 2048 samples, about
// 128ms of mono audio at 16kHz.
const BlockSamples = 2048

// Frame is one encoded audio block ready to be appended upstream.
type Frame struct {
	Seq   uint64
	Audio string // base64 PCM16 little-endian
}

// QuantizeSample clamps a float sample to [-1,1] and quantizes it to signed
// 16-bit PCM.
func QuantizeSample(s float32) int16 {
	if s < -1 {
		s = -1
	} else if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// Framer batches float samples into fixed-size base64 PCM16 blocks with a
// strictly increasing sequence number. It is not safe for concurrent use;
// each transport adapter owns exactly one framer.
type Framer struct {
	buf     []int16
	seq     uint64
	stopped bool
}

func NewFramer() *Framer {
	return &Framer{buf: make([]int16, 0, BlockSamples)}
}

// Push quantizes samples and returns any complete frames produced. Samples
// arriving after Stop are rejected.
func (f *Framer) Push(samples []float32) ([]Frame, error) {
	if f.stopped {
		return nil, fmt.Errorf("audio: framer stopped, frame rejected")
	}
	for _, s := range samples {
		f.buf = append(f.buf, QuantizeSample(s))
	}
	var frames []Frame
	for len(f.buf) >= BlockSamples {
		frames = append(frames, f.emit(f.buf[:BlockSamples]))
		copy(f.buf, f.buf[BlockSamples:])
		f.buf = f.buf[:len(f.buf)-BlockSamples]
	}
	return frames, nil
}

// PushPCM16 accepts already-quantized samples, used by the telephony adapter
// after mu-law expansion.
func (f *Framer) PushPCM16(samples []int16) ([]Frame, error) {
	if f.stopped {
		return nil, fmt.Errorf("audio: framer stopped, frame rejected")
	}
	f.buf = append(f.buf, samples...)
	var frames []Frame
	for len(f.buf) >= BlockSamples {
		frames = append(frames, f.emit(f.buf[:BlockSamples]))
		copy(f.buf, f.buf[BlockSamples:])
		f.buf = f.buf[:len(f.buf)-BlockSamples]
	}
	return frames, nil
}

// Stop flushes the partial block, if any, and rejects all further input.
// No frames may be produced after Stop returns.
func (f *Framer) Stop() []Frame {
	if f.stopped {
		return nil
	}
	f.stopped = true
	if len(f.buf) == 0 {
		return nil
	}
	frame := f.emit(f.buf)
	f.buf = f.buf[:0]
	return []Frame{frame}
}

// Seq reports the number of frames emitted so far.
func (f *Framer) Seq() uint64 { return f.seq }

func (f *Framer) emit(samples []int16) Frame {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	f.seq++
	return Frame{Seq: f.seq, Audio: base64.StdEncoding.EncodeToString(out)}
}

// DecodePCM16 converts little-endian PCM16 bytes back to float samples in
// [-1,1]. Used by round-trip tests and browser playback paths.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : (i+1)*2]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out
}
