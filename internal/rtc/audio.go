package rtc

import (
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// sampleWriter is the slice of the track API the writer needs; tests use a
// fake.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// PacedOpusWriter encodes 48kHz PCM16 mono to 20ms Opus frames and writes
// them to a WebRTC track at realtime pace, so confirmation audio plays at
// normal speed instead of arriving in a burst.
type PacedOpusWriter struct {
	enc          *opus.Encoder
	track        sampleWriter
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}

	mu      sync.Mutex
	pcmBuf  []int16
	stopped bool
}

func NewPacedOpusWriter(track *webrtc.TrackLocalStaticSample) (*PacedOpusWriter, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &PacedOpusWriter{
		enc:          enc,
		track:        track,
		frameSamples: 960, // 20ms at 48kHz
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

// WritePCM buffers little-endian PCM16 bytes and emits encoded frames.
func (w *PacedOpusWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i+1 < len(pcmBytes); i += 2 {
		w.pcmBuf = append(w.pcmBuf, int16(uint16(pcmBytes[i])|uint16(pcmBytes[i+1])<<8))
	}
	opusBuf := make([]byte, 4000)
	for len(w.pcmBuf) >= w.frameSamples {
		n, _ := w.enc.Encode(w.pcmBuf[:w.frameSamples], opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			w.pushFrame(pkt)
		}
		copy(w.pcmBuf, w.pcmBuf[w.frameSamples:])
		w.pcmBuf = w.pcmBuf[:len(w.pcmBuf)-w.frameSamples]
	}
}

// FlushTail pads the remaining PCM to a full frame and appends a short
// silence tail so the last syllable isn't clipped.
func (w *PacedOpusWriter) FlushTail() {
	opusBuf := make([]byte, 4000)
	w.mu.Lock()
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, w.frameSamples)
		copy(pad, w.pcmBuf)
		if n, _ := w.enc.Encode(pad, opusBuf); n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			w.pushFrame(pkt)
		}
		w.pcmBuf = w.pcmBuf[:0]
	}
	w.mu.Unlock()
	silence := make([]int16, w.frameSamples)
	for i := 0; i < 10; i++ {
		if n, _ := w.enc.Encode(silence, opusBuf); n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			w.pushFrame(pkt)
		}
	}
}

// Reset drops the queued frames and buffered PCM.
func (w *PacedOpusWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			w.pcmBuf = w.pcmBuf[:0]
			return
		}
	}
}

// Close stops the pacer. Idempotent.
func (w *PacedOpusWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
}

func (w *PacedOpusWriter) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond})
			default:
			}
		}
	}
}

func (w *PacedOpusWriter) pushFrame(pkt []byte) {
	select {
	case <-w.stopCh:
	case w.frames <- pkt:
	}
}
