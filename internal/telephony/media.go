package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/aininja-pro/cora-voice/internal/audio"
	"github.com/aininja-pro/cora-voice/internal/realtime"
	"github.com/aininja-pro/cora-voice/internal/session"
)

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// mediaMessage is the Twilio media-stream frame shape.
type mediaMessage struct {
	Event string `json:"event"`
	Start *struct {
		StreamSid string `json:"streamSid"`
		CallSid   string `json:"callSid"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

// handleMedia runs one Twilio media stream: start opens a session, media
// frames are mu-law 8kHz which we expand and upsample before framing, stop
// flushes and closes.
func (s *Service) handleMedia(c echo.Context) error {
	conn, err := mediaUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var (
		sess   *session.Session
		framer *audio.Framer
	)
	defer func() {
		if sess != nil {
			sess.Stop()
			s.manager.Remove(sess.ID)
		}
	}()

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return nil
		}
		var msg mediaMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}

		switch msg.Event {
		case "connected":
			// handshake frame, nothing to do

		case "start":
			sess = s.manager.Create(session.TransportTelephony)
			framer = audio.NewFramer()
			if msg.Start != nil {
				log.Printf("[%s] media stream started: CallSid=%s", sess.ID, msg.Start.CallSid)
			}
			if err := sess.Connect(context.Background()); err != nil {
				log.Printf("[%s] provider connect failed: %v", sess.ID, err)
				return nil
			}

		case "media":
			if sess == nil || msg.Media == nil {
				continue
			}
			if err := s.relayMedia(sess, framer, msg.Media.Payload); err != nil {
				log.Printf("[%s] media relay: %v", sess.ID, err)
			}

		case "stop":
			if sess != nil {
				for _, frame := range framer.Stop() {
					_ = sess.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: frame.Audio})
				}
				sess.Stop()
				s.manager.Remove(sess.ID)
				sess = nil
			}
			return nil
		}
	}
}

// relayMedia expands one base64 mu-law payload to PCM16, upsamples 8k to
// 16k, and relays complete frames upstream.
func (s *Service) relayMedia(sess *session.Session, framer *audio.Framer, payload string) error {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	pcm8k := audio.DecodeMulaw(raw)
	pcm16k := audio.Upsample8kTo16k(pcm8k)
	frames, err := framer.PushPCM16(pcm16k)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := sess.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: frame.Audio}); err != nil {
			return err
		}
	}
	return nil
}
