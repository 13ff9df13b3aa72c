package rtc

import (
	"context"
	"testing"

	"github.com/aininja-pro/cora-voice/internal/realtime"
	"github.com/aininja-pro/cora-voice/internal/session"
)

type fakeConn struct {
	events chan realtime.ServerEvent
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan realtime.ServerEvent, 4)}
}

func (f *fakeConn) AppendAudio(string) error            { return nil }
func (f *fakeConn) Commit() error                       { return nil }
func (f *fakeConn) CreateResponse() error               { return nil }
func (f *fakeConn) Events() <-chan realtime.ServerEvent { return f.events }
func (f *fakeConn) Close() error                        { close(f.events); return nil }

func newTestHandler() (*Handler, *session.Manager) {
	m := session.NewManager(func(context.Context) (realtime.Conn, error) {
		return newFakeConn(), nil
	}, nil)
	return NewHandler(m), m
}

func TestHandleOffer_RejectsMalformedOffer(t *testing.T) {
	h, m := newTestHandler()

	if _, err := h.HandleOffer(context.Background(), SessionDescription{Type: "answer", SDP: "v=0"}); err == nil {
		t.Fatal("expected error for a non-offer description")
	}
	if _, err := h.HandleOffer(context.Background(), SessionDescription{Type: "offer", SDP: ""}); err == nil {
		t.Fatal("expected error for an empty SDP")
	}
	if got := m.Len(); got != 0 {
		t.Fatalf("live sessions = %d, want 0 after rejected offers", got)
	}
}

func TestHandleOffer_BadSDP_LeavesNoSession(t *testing.T) {
	h, m := newTestHandler()

	_, err := h.HandleOffer(context.Background(), SessionDescription{Type: "offer", SDP: "not an sdp"})
	if err == nil {
		t.Fatal("expected error for an unparseable SDP")
	}
	if got := m.Len(); got != 0 {
		t.Fatalf("live sessions = %d, want 0 after a failed negotiation", got)
	}
}
