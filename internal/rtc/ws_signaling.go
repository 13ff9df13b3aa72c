package rtc

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// signalMessage is the signaling frame format. Types: "auth", "offer",
// "answer", "bye", "error".
type signalMessage struct {
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
	SDP      string `json:"sdp,omitempty"`
	Error    string `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin; tighten before exposing publicly.
		return true
	},
}

// ServeWebSocket upgrades to a websocket and performs offer/answer signaling.
// Candidates are bundled in the SDP (non-trickle), so the exchange is just
// auth -> offer -> answer -> bye.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request, authPassword string) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("rtc: ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	if authPassword != "" && !authFromRequest(r, authPassword) {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil || strings.ToLower(m.Type) != "auth" || m.Password != authPassword {
			_ = conn.WriteJSON(signalMessage{Type: "error", Error: "unauthorized"})
			return
		}
	}

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			answer, err := h.HandleOffer(context.Background(), SessionDescription{Type: "offer", SDP: m.SDP})
			if err != nil {
				_ = conn.WriteJSON(signalMessage{Type: "error", Error: err.Error()})
				return
			}
			_ = conn.WriteJSON(signalMessage{Type: "answer", SDP: answer.SDP})
		case "bye":
			return
		}
	}
}

// authFromRequest checks Authorization: Bearer <pwd> or ?password=.
func authFromRequest(r *http.Request, want string) bool {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == want
	}
	return r.URL.Query().Get("password") == want
}
