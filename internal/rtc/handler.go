package rtc

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/aininja-pro/cora-voice/internal/audio"
	"github.com/aininja-pro/cora-voice/internal/command"
	"github.com/aininja-pro/cora-voice/internal/realtime"
	"github.com/aininja-pro/cora-voice/internal/session"
	"github.com/aininja-pro/cora-voice/internal/speech"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Handler accepts WebRTC offers from the browser and bridges the mic track
// into a voice session. Spoken confirmations, when a synthesizer is
// configured, are played back on the return track.
type Handler struct {
	manager *session.Manager
	synth   speech.Synthesizer
}

func NewHandler(m *session.Manager) *Handler { return &Handler{manager: m} }

func (h *Handler) WithSynthesizer(s speech.Synthesizer) *Handler {
	h.synth = s
	return h
}

// HandleOffer accepts an SDP offer, opens a session, and returns the answer.
// A peer that never adds a mic track (permission denied client-side) leaves
// the session connected and silent until it disconnects.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	// Build the webrtc API before creating a session so an engine setup
	// failure cannot leave a session behind in the manager.
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	sess := h.manager.Create(session.TransportBrowserMic)
	if err := sess.Connect(ctx); err != nil {
		h.manager.Remove(sess.ID)
		return SessionDescription{}, err
	}

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		h.manager.Remove(sess.ID)
		return SessionDescription{}, err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"confirmation-audio", "cora")
	if err != nil {
		_ = peerConnection.Close()
		h.manager.Remove(sess.ID)
		return SessionDescription{}, err
	}
	if _, err := peerConnection.AddTrack(outTrack); err != nil {
		_ = peerConnection.Close()
		h.manager.Remove(sess.ID)
		return SessionDescription{}, err
	}

	paced, err := NewPacedOpusWriter(outTrack)
	if err != nil {
		_ = peerConnection.Close()
		h.manager.Remove(sess.ID)
		return SessionDescription{}, err
	}

	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] peer connection state: %s", sess.ID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			paced.Close()
			h.manager.Remove(sess.ID)
			_ = peerConnection.Close()
		}
	})

	peerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		log.Printf("[%s] control channel opened", sess.ID)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			switch strings.TrimSpace(strings.ToLower(string(msg.Data))) {
			case "stop":
				sess.Stop()
			case "permission-denied":
				sess.Fail(session.KindPermissionDenied, errors.New("microphone permission denied by client"))
			}
		})
	})

	peerConnection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", sess.ID, state.String())
	})

	if h.synth != nil {
		go h.confirmationLoop(sess, paced)
	}

	peerConnection.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] remote audio track: codec=%s", sess.ID, remote.Codec().MimeType)
		dec, derr := opus.NewDecoder(16000, 1)
		if derr != nil {
			log.Printf("[%s] opus decoder error: %v", sess.ID, derr)
			return
		}
		go h.micReader(sess, remote, dec)
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := peerConnection.SetRemoteDescription(remoteOffer); err != nil {
		_ = peerConnection.Close()
		h.manager.Remove(sess.ID)
		return SessionDescription{}, err
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		_ = peerConnection.Close()
		h.manager.Remove(sess.ID)
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		_ = peerConnection.Close()
		h.manager.Remove(sess.ID)
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := peerConnection.LocalDescription()
	if local == nil {
		_ = peerConnection.Close()
		h.manager.Remove(sess.ID)
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// micReader decodes the remote Opus track at 16kHz mono and relays framed
// audio upstream until the track or session ends.
func (h *Handler) micReader(sess *session.Session, remote *webrtc.TrackRemote, dec *opus.Decoder) {
	framer := audio.NewFramer()
	pcm := make([]int16, 1920)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			log.Printf("[%s] RTP read ended: %v", sess.ID, readErr)
			for _, frame := range framer.Stop() {
				_ = sess.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: frame.Audio})
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, pcm)
		if decErr != nil {
			log.Printf("[%s] opus decode error: %v", sess.ID, decErr)
			continue
		}
		frames, err := framer.PushPCM16(pcm[:n])
		if err != nil {
			return
		}
		for _, frame := range frames {
			if err := sess.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: frame.Audio}); err != nil {
				return
			}
		}
	}
}

// confirmationLoop watches the session's downstream events and speaks a short
// confirmation for every admitted function call.
func (h *Handler) confirmationLoop(sess *session.Session, paced *PacedOpusWriter) {
	for evt := range sess.Out() {
		if evt.Type != realtime.TypeFunctionCallDone {
			continue
		}
		fc := &command.FunctionCall{Name: evt.Name, Arguments: evt.Arguments}
		text := speech.ConfirmationText(command.Classify(fc, evt.Transcript))
		ctx, cancel := context.WithCancel(context.Background())
		pcmCh, errCh := h.synth.Stream(ctx, text)
		for chunk := range pcmCh {
			paced.WritePCM(chunk)
		}
		if err := <-errCh; err != nil {
			log.Printf("[%s] confirmation synthesis failed: %v", sess.ID, err)
		}
		paced.FlushTail()
		cancel()
	}
}
