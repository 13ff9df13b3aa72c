package httpserver

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/aininja-pro/cora-voice/internal/realtime"
	"github.com/aininja-pro/cora-voice/internal/session"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientMessage is the browser-side wire shape: connect plus the three
// provider message types forwarded verbatim.
type clientMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

type streamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleVoiceStream runs the JSON websocket transport: the browser sends
// connect/append/commit/response.create, and every provider event comes back
// unmodified.
func (s *Server) handleVoiceStream(c echo.Context) error {
	if !authOK(c.Request(), s.deps.AuthPassword) {
		return c.String(http.StatusUnauthorized, "unauthorized")
	}
	conn, err := streamUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var sess *session.Session
	defer func() {
		if sess != nil {
			sess.Close()
			s.deps.Manager.Remove(sess.ID)
		}
	}()

	writeCh := make(chan []byte, 64)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			select {
			case data := <-writeCh:
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			case <-quit:
				return
			}
		}
	}()

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return nil
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "connect":
			if sess != nil {
				continue
			}
			sess = s.deps.Manager.Create(session.TransportBrowserMic)
			if err := sess.Connect(c.Request().Context()); err != nil {
				writeJSON(writeCh, streamError{Type: "error", Error: err.Error()})
				return nil
			}
			go func(sess *session.Session) {
				for evt := range sess.Out() {
					raw := evt.Raw
					if raw == nil {
						raw, _ = json.Marshal(evt)
					}
					select {
					case writeCh <- raw:
					case <-quit:
						return
					}
				}
			}(sess)

		case realtime.TypeAudioAppend, realtime.TypeAudioCommit, realtime.TypeResponseCreate:
			if sess == nil {
				writeJSON(writeCh, streamError{Type: "error", Error: "not connected"})
				continue
			}
			if err := sess.RelayUp(realtime.ClientEvent{Type: msg.Type, Audio: msg.Audio}); err != nil {
				log.Printf("[%s] relay rejected: %v", sess.ID, err)
			}

		case "stop":
			if sess != nil {
				sess.Stop()
			}

		default:
			log.Printf("voice stream: unknown message type %q", msg.Type)
		}
	}
}

func writeJSON(ch chan<- []byte, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case ch <- data:
	default:
	}
}
