package speech

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aininja-pro/cora-voice/internal/command"
)

func TestConfirmationText(t *testing.T) {
	cases := []struct {
		name string
		cmd  command.Command
		want string
	}{
		{
			name: "contact with role",
			cmd:  command.Command{Kind: command.KindContact, Contact: "John Smith", ContactType: "buyer"},
			want: "Added John Smith as a buyer.",
		},
		{
			name: "contact without role",
			cmd:  command.Command{Kind: command.KindContact, Contact: "Jane Doe", ContactType: "other"},
			want: "Added Jane Doe to your contacts.",
		},
		{
			name: "showing with location",
			cmd:  command.Command{Kind: command.KindTask, TaskType: "showing", Location: "123 Main Street", Time: "2pm"},
			want: "Showing scheduled at 123 Main Street for 2pm.",
		},
		{
			name: "generic task",
			cmd:  command.Command{Kind: command.KindTask, TaskType: "call", Title: "Call the lender"},
			want: "Task created: Call the lender.",
		},
		{
			name: "urgent",
			cmd:  command.Command{Kind: command.KindUrgentItem, Title: "inspection overdue"},
			want: "Marked as urgent.",
		},
		{
			name: "queue",
			cmd:  command.Command{Kind: command.KindQueueItem, Title: "follow up"},
			want: "Added to your follow-up queue.",
		},
		{
			name: "unrecognized",
			cmd:  command.Command{Kind: command.KindUnrecognized},
			want: "Sorry, I didn't catch that. Could you repeat it?",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ConfirmationText(tc.cmd); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestElevenLabs_NoKey(t *testing.T) {
	e := NewElevenLabs("", "")
	_, errCh := e.Stream(context.Background(), "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error when api key missing")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error")
	}
}

func TestElevenLabs_EmptyTextProducesNothing(t *testing.T) {
	e := NewElevenLabs("key", "voice")
	pcmCh, errCh := e.Stream(context.Background(), "")
	for range pcmCh {
		t.Fatal("no audio expected for empty text")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestElevenLabs_StreamsBody(t *testing.T) {
	audio := strings.Repeat("\x01\x02", 3000)
	e := NewElevenLabs("key", "voice")
	e.Client = &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(audio)),
			Header:     make(http.Header),
		}, nil
	})}

	pcmCh, errCh := e.Stream(context.Background(), "Added John Smith as a buyer.")
	var got int
	for chunk := range pcmCh {
		got += len(chunk)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got != len(audio) {
		t.Fatalf("received %d bytes, want %d", got, len(audio))
	}
}

func TestElevenLabs_NonOKStatus(t *testing.T) {
	e := NewElevenLabs("key", "voice")
	e.Client = &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Body:       io.NopCloser(strings.NewReader(`{"detail":"bad key"}`)),
			Header:     make(http.Header),
		}, nil
	})}
	pcmCh, errCh := e.Stream(context.Background(), "hello")
	for range pcmCh {
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected error on non-2xx status")
	}
}

func TestDeepgram_NoKey(t *testing.T) {
	d := NewDeepgram("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := d.Stream(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error when api key missing")
		}
	case <-pcmCh:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for error")
	}
}
