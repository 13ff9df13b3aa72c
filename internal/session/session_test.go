package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aininja-pro/cora-voice/internal/dashboard"
	"github.com/aininja-pro/cora-voice/internal/dispatch"
	"github.com/aininja-pro/cora-voice/internal/realtime"
)

type fakeConn struct {
	mu        sync.Mutex
	audio     []string
	commits   int
	responses int
	events    chan realtime.ServerEvent
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan realtime.ServerEvent, 16)}
}

func (f *fakeConn) AppendAudio(b64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, b64)
	return nil
}

func (f *fakeConn) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeConn) CreateResponse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses++
	return nil
}

func (f *fakeConn) Events() <-chan realtime.ServerEvent { return f.events }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeConn) push(evt realtime.ServerEvent) { f.events <- evt }

type fakeBoard struct {
	mu       sync.Mutex
	contacts int
	tasks    int
	err      error
}

func (f *fakeBoard) CreateContact(context.Context, dashboard.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.contacts++
	return nil
}

func (f *fakeBoard) CreateTask(context.Context, dashboard.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks++
	return nil
}

func (f *fakeBoard) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks
}

type fakeStore struct{}

func (fakeStore) AddUrgent(dashboard.Item) {}
func (fakeStore) AddQueue(dashboard.Item)  {}

func newTestSession(t *testing.T, board *fakeBoard) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	d := dispatch.New(board, fakeStore{})
	s := New("test-session", TransportBrowserMic, func(context.Context) (realtime.Conn, error) {
		return conn, nil
	}, d)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn.push(realtime.ServerEvent{Type: realtime.TypeConnected, EventID: "evt-connected"})
	waitForState(t, s, StateConnected)
	return s, conn
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestConnect_DialFailure(t *testing.T) {
	s := New("s1", TransportBrowserMic, func(context.Context) (realtime.Conn, error) {
		return nil, fmt.Errorf("provider unreachable")
	}, nil)
	err := s.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %s, want closed", s.State())
	}
	if got := s.Err(); got == nil || got.Kind != KindConnectionError {
		t.Fatalf("close error = %v, want ConnectionError", got)
	}
}

func TestFail_ClosesWithTypedError(t *testing.T) {
	s, _ := newTestSession(t, &fakeBoard{})
	s.Fail(KindPermissionDenied, fmt.Errorf("microphone permission denied by client"))
	waitForState(t, s, StateClosed)
	got := s.Err()
	if got == nil || got.Kind != KindPermissionDenied {
		t.Fatalf("close error = %v, want PermissionDenied", got)
	}
	if !got.Terminal() {
		t.Fatal("expected permission denial to be terminal")
	}
}

func TestStateMachine_AudioStartsListening(t *testing.T) {
	s, conn := newTestSession(t, &fakeBoard{})
	defer s.Close()

	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "AAAA"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if s.State() != StateListening {
		t.Fatalf("state = %s, want listening", s.State())
	}
	waitFor(t, "audio relayed", func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.audio) == 1
	})
}

func TestRelayUp_RejectsFramesAfterCommit(t *testing.T) {
	s, _ := newTestSession(t, &fakeBoard{})
	defer s.Close()

	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "AAAA"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioCommit}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "BBBB"}); err == nil {
		t.Fatal("expected audio after commit to be rejected")
	}
}

func TestRelayUp_CommitOnlyFromListening(t *testing.T) {
	s, _ := newTestSession(t, &fakeBoard{})
	defer s.Close()

	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioCommit}); err == nil {
		t.Fatal("commit from connected should be rejected")
	}
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeResponseCreate}); err == nil {
		t.Fatal("response.create from connected should be rejected")
	}
}

func TestDuplicateEventID_SingleDispatch(t *testing.T) {
	board := &fakeBoard{}
	s, conn := newTestSession(t, board)
	defer s.Close()

	fn := realtime.ServerEvent{
		Type:      realtime.TypeFunctionCallDone,
		EventID:   "evt-1",
		Name:      "create_task",
		Arguments: `{"title":"Call the lender","task_type":"call"}`,
	}
	conn.push(fn)
	conn.push(fn)

	waitFor(t, "one task dispatched", func() bool { return board.taskCount() == 1 })
	// Give the duplicate a moment to (incorrectly) land.
	time.Sleep(20 * time.Millisecond)
	if got := board.taskCount(); got != 1 {
		t.Fatalf("tasks created = %d, want 1", got)
	}
}

func TestDuplicateContent_SecondSuppressed(t *testing.T) {
	board := &fakeBoard{}
	s, conn := newTestSession(t, board)
	defer s.Close()

	args := `{"title":"Call the lender","task_type":"call"}`
	conn.push(realtime.ServerEvent{Type: realtime.TypeFunctionCallDone, EventID: "evt-1", Name: "create_task", Arguments: args})
	conn.push(realtime.ServerEvent{Type: realtime.TypeFunctionCallDone, EventID: "evt-2", Name: "create_task", Arguments: args})

	waitFor(t, "first task dispatched", func() bool { return board.taskCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := board.taskCount(); got != 1 {
		t.Fatalf("tasks created = %d, want 1 (second should be content-suppressed)", got)
	}
}

func TestTranscriptFallback_OnResponseDoneWithoutFunctionCall(t *testing.T) {
	board := &fakeBoard{}
	s, conn := newTestSession(t, board)
	defer s.Close()

	conn.push(realtime.ServerEvent{
		Type:       realtime.TypeTranscriptionComplete,
		EventID:    "evt-t",
		Transcript: "Schedule showing for 123 Main Street at 2pm",
	})
	conn.push(realtime.ServerEvent{Type: realtime.TypeResponseDone, EventID: "evt-d"})

	waitFor(t, "fallback task dispatched", func() bool { return board.taskCount() == 1 })
}

func TestNoFallback_WhenFunctionCallSeen(t *testing.T) {
	board := &fakeBoard{}
	s, conn := newTestSession(t, board)
	defer s.Close()

	conn.push(realtime.ServerEvent{
		Type:       realtime.TypeTranscriptionComplete,
		EventID:    "evt-t",
		Transcript: "Call the lender about rates",
	})
	conn.push(realtime.ServerEvent{
		Type:      realtime.TypeFunctionCallDone,
		EventID:   "evt-1",
		Name:      "create_task",
		Arguments: `{"title":"Call lender","task_type":"call"}`,
	})
	conn.push(realtime.ServerEvent{Type: realtime.TypeResponseDone, EventID: "evt-d"})

	waitFor(t, "structured task dispatched", func() bool { return board.taskCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := board.taskCount(); got != 1 {
		t.Fatalf("tasks created = %d, want 1 (no transcript fallback after a function call)", got)
	}
}

func TestEventsEchoedDownstreamUnmodified(t *testing.T) {
	s, conn := newTestSession(t, &fakeBoard{})
	defer s.Close()

	// Drain the connected echo first.
	select {
	case evt := <-s.Out():
		if evt.Type != realtime.TypeConnected {
			t.Fatalf("first echoed event type = %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no connected event echoed")
	}

	raw := []byte(`{"type":"conversation.item.input_audio_transcription.completed","event_id":"evt-9","transcript":"hello"}`)
	conn.push(realtime.ServerEvent{
		Type:       realtime.TypeTranscriptionComplete,
		EventID:    "evt-9",
		Transcript: "hello",
		Raw:        raw,
	})
	select {
	case evt := <-s.Out():
		if string(evt.Raw) != string(raw) {
			t.Fatalf("relayed bytes modified: %s", evt.Raw)
		}
		if evt.EventID != "evt-9" {
			t.Fatalf("event_id not preserved: %s", evt.EventID)
		}
	case <-time.After(time.Second):
		t.Fatal("event not echoed downstream")
	}
}

func TestProviderError_ClosesSession(t *testing.T) {
	s, conn := newTestSession(t, &fakeBoard{})
	conn.push(realtime.ServerEvent{Type: realtime.TypeError, EventID: "evt-e", Error: "model overloaded"})
	waitForState(t, s, StateClosed)
	if got := s.Err(); got == nil || got.Kind != KindProviderError {
		t.Fatalf("close error = %v, want ProviderError", got)
	}
	if s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "AAAA"}) == nil {
		t.Fatal("closed session should reject frames")
	}
}

func TestCommitTimeout_ForcesClose(t *testing.T) {
	s, _ := newTestSession(t, &fakeBoard{})
	s.commitTimeout = 20 * time.Millisecond

	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "AAAA"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioCommit}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	waitForState(t, s, StateClosed)
	if got := s.Err(); got == nil || got.Kind != KindTimeout {
		t.Fatalf("close error = %v, want Timeout", got)
	}
}

func TestResponseDone_CancelsCommitTimeout(t *testing.T) {
	s, conn := newTestSession(t, &fakeBoard{})
	defer s.Close()
	s.commitTimeout = 30 * time.Millisecond

	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "AAAA"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioCommit}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeResponseCreate}); err != nil {
		t.Fatalf("response.create: %v", err)
	}
	conn.push(realtime.ServerEvent{Type: realtime.TypeResponseDone, EventID: "evt-d"})
	waitForState(t, s, StateConnected)

	time.Sleep(50 * time.Millisecond)
	if s.State() != StateConnected {
		t.Fatalf("state = %s after timeout window, want connected", s.State())
	}
}

func TestStop_FlushesCommitAndResponseCreate(t *testing.T) {
	s, conn := newTestSession(t, &fakeBoard{})

	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "AAAA"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	s.Stop()
	waitFor(t, "commit and response.create flushed", func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.commits == 1 && conn.responses == 1
	})

	conn.push(realtime.ServerEvent{Type: realtime.TypeResponseDone, EventID: "evt-d"})
	waitForState(t, s, StateClosed)
}

func TestStop_WithoutAudioClosesImmediately(t *testing.T) {
	s, conn := newTestSession(t, &fakeBoard{})
	s.Stop()
	waitForState(t, s, StateClosed)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.commits != 0 || conn.responses != 0 {
		t.Fatalf("unexpected flush: commits=%d responses=%d", conn.commits, conn.responses)
	}
}

func TestEnqueueAudio_DropsOldestOnOverflow(t *testing.T) {
	// Pumps never started, so the queue fills.
	s := New("s1", TransportBrowserMic, nil, nil)
	for i := 0; i < audioQueueSize+1; i++ {
		s.enqueueAudio(fmt.Sprintf("frame-%d", i))
	}
	if len(s.audioQ) != audioQueueSize {
		t.Fatalf("queue len = %d, want %d", len(s.audioQ), audioQueueSize)
	}
	first := <-s.audioQ
	if first != "frame-1" {
		t.Fatalf("oldest surviving frame = %s, want frame-1 (frame-0 dropped)", first)
	}
}

func TestSlowConsumer_DoesNotBlockRelay(t *testing.T) {
	board := &fakeBoard{}
	s, conn := newTestSession(t, board)
	defer s.Close()

	// Nobody reads s.Out(); flood past the buffer. The relay must keep
	// processing side effects regardless.
	for i := 0; i < outQueueSize+20; i++ {
		conn.push(realtime.ServerEvent{
			Type:       realtime.TypeTranscriptionComplete,
			EventID:    fmt.Sprintf("evt-%d", i),
			Transcript: "filler",
		})
	}
	conn.push(realtime.ServerEvent{
		Type:      realtime.TypeFunctionCallDone,
		EventID:   "evt-fn",
		Name:      "create_task",
		Arguments: `{"title":"Call the appraiser","task_type":"call"}`,
	})
	waitFor(t, "dispatch despite slow consumer", func() bool { return board.taskCount() == 1 })
}

func TestManager_SessionsIsolated(t *testing.T) {
	m := NewManager(func(context.Context) (realtime.Conn, error) {
		return newFakeConn(), nil
	}, nil)
	a := m.Create(TransportBrowserMic)
	b := m.Create(TransportTelephony)
	if a.ID == b.ID {
		t.Fatal("sessions must have distinct ids")
	}
	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2", m.Len())
	}
	m.Remove(a.ID)
	if a.State() != StateClosed {
		t.Fatal("removed session should be closed")
	}
	if _, ok := m.Get(a.ID); ok {
		t.Fatal("removed session still retrievable")
	}
	if b.State() == StateClosed {
		t.Fatal("removing one session must not close another")
	}
	m.CloseAll()
	if m.Len() != 0 || b.State() != StateClosed {
		t.Fatal("CloseAll should close and discard every session")
	}
}

func waitForEvent(t *testing.T, s *Session, typ string) realtime.ServerEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-s.Out():
			if !ok {
				t.Fatalf("Out closed before a %s event", typ)
			}
			if evt.Type == typ {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", typ)
		}
	}
}

func TestCommitTimer_ScopedToItsOwnCommit(t *testing.T) {
	s, conn := newTestSession(t, &fakeBoard{})
	defer s.Close()
	s.commitTimeout = 100 * time.Millisecond

	// Turn one commits and completes right away.
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "AAAA"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioCommit}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	conn.push(realtime.ServerEvent{Type: realtime.TypeResponseDone, EventID: "evt-d1"})
	waitFor(t, "turn one settled", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.committed
	})

	// Turn two commits while turn one's watchdog is still pending.
	time.Sleep(50 * time.Millisecond)
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "BBBB"}); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioCommit}); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	// Past turn one's expiry but inside turn two's window.
	time.Sleep(70 * time.Millisecond)
	if s.State() == StateClosed {
		t.Fatalf("stale commit watchdog closed the session: %v", s.Err())
	}

	conn.push(realtime.ServerEvent{Type: realtime.TypeResponseDone, EventID: "evt-d2"})
	waitFor(t, "turn two settled", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.committed
	})
	time.Sleep(120 * time.Millisecond)
	if s.State() == StateClosed {
		t.Fatalf("watchdog fired after its turn completed: %v", s.Err())
	}
}

func TestDispatchFailure_SurfacedDownstream(t *testing.T) {
	board := &fakeBoard{err: errors.New("insert rejected")}
	s, conn := newTestSession(t, board)
	defer s.Close()

	conn.push(realtime.ServerEvent{
		Type:      realtime.TypeFunctionCallDone,
		EventID:   "evt-fn",
		Name:      "create_task",
		Arguments: `{"title":"Call the appraiser","task_type":"call"}`,
	})
	evt := waitForEvent(t, s, realtime.TypeError)
	if !strings.Contains(evt.Error, string(KindDownstreamFailure)) {
		t.Fatalf("error event = %q, want a downstream failure", evt.Error)
	}
	if s.State() == StateClosed {
		t.Fatal("a recoverable dispatch failure must not close the session")
	}
}

func TestTimeoutClose_SurfacesErrorDownstream(t *testing.T) {
	s, _ := newTestSession(t, &fakeBoard{})
	s.commitTimeout = 20 * time.Millisecond

	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioAppend, Audio: "AAAA"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.RelayUp(realtime.ClientEvent{Type: realtime.TypeAudioCommit}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	evt := waitForEvent(t, s, realtime.TypeError)
	if !strings.Contains(evt.Error, string(KindTimeout)) {
		t.Fatalf("error event = %q, want a timeout", evt.Error)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-s.Out():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Out not closed after the terminal error event")
		}
	}
}

func TestEmit_DropsOldestNonControlOnOverflow(t *testing.T) {
	s := New("overflow", TransportBrowserMic, nil, nil)
	defer s.Close()

	for i := 0; i < outQueueSize+5; i++ {
		s.emit(realtime.ServerEvent{Type: realtime.TypeTranscriptionComplete, EventID: fmt.Sprintf("t-%d", i)})
	}
	s.emit(realtime.ServerEvent{Type: realtime.TypeResponseDone, EventID: "evt-done"})

	seen := make(map[string]bool)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-s.Out():
			if evt.Type == realtime.TypeResponseDone {
				if seen["t-3"] {
					t.Fatal("oldest transcription events should have been dropped, not t-3 delivered")
				}
				return
			}
			seen[evt.EventID] = true
		case <-deadline:
			t.Fatal("response.done never delivered; control events must survive overflow")
		}
	}
}
