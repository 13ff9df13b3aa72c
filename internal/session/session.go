package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aininja-pro/cora-voice/internal/command"
	"github.com/aininja-pro/cora-voice/internal/dedup"
	"github.com/aininja-pro/cora-voice/internal/dispatch"
	"github.com/aininja-pro/cora-voice/internal/realtime"
)

// Transport identifies where the session's audio originates.
type Transport string

const (
	TransportBrowserMic Transport = "browser-mic"
	TransportTelephony  Transport = "telephony-media-stream"
)

const (
	// commitTimeout force-closes a session that hears nothing back after a
	// commit.
	commitTimeout = 30 * time.Second

	audioQueueSize = 64
	ctrlQueueSize  = 8
	outQueueSize   = 64

	// outStallTimeout bounds how long a single downstream delivery may block
	// before the event is dropped.
	outStallTimeout = 5 * time.Second
)

// Dialer opens a provider connection. Injected so tests never touch the
// network.
type Dialer func(ctx context.Context) (realtime.Conn, error)

// CommandDispatcher applies classified commands. Satisfied by
// *dispatch.Dispatcher.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, sessionID string, cmd command.Command) (*dispatch.Action, error)
}

// Session bridges one transport to one provider connection. All provider
// events pass through event-id admission before any side effect, and every
// event is echoed downstream unmodified.
type Session struct {
	ID        string
	Transport Transport

	dial       Dialer
	dispatcher CommandDispatcher
	events     *dedup.EventSet

	conn realtime.Conn

	// upstream queues: audio is droppable under backpressure, control never.
	audioQ chan string
	ctrlQ  chan string
	done   chan struct{}

	// downstream: emit appends to outBuf, outPump delivers over out. On
	// overflow the oldest non-control event is dropped.
	out       chan realtime.ServerEvent
	outMu     sync.Mutex
	outBuf    []realtime.ServerEvent
	outNotify chan struct{}

	commitTimeout time.Duration

	mu             sync.Mutex
	state          State
	committed      bool
	commitGen      uint64
	audioBuffered  bool
	stopping       bool
	lastTranscript string
	fnCallSeen     bool
	lastActivityAt time.Time
	closeOnce      sync.Once
	closeErr       *Error
}

func New(id string, transport Transport, dial Dialer, d CommandDispatcher) *Session {
	s := &Session{
		ID:            id,
		Transport:     transport,
		dial:          dial,
		dispatcher:    d,
		events:        dedup.NewEventSet(),
		audioQ:        make(chan string, audioQueueSize),
		ctrlQ:         make(chan string, ctrlQueueSize),
		out:           make(chan realtime.ServerEvent),
		outNotify:     make(chan struct{}, 1),
		done:          make(chan struct{}),
		commitTimeout: commitTimeout,
		state:         StateIdle,
	}
	go s.outPump()
	return s
}

// Out is the stream of provider events relayed to the local transport, plus
// session-originated error events. Closed when the session closes.
func (s *Session) Out() <-chan realtime.ServerEvent { return s.out }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if the session closed on one.
func (s *Session) Err() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Connect dials the provider and starts the relay pumps. Dial failure closes
// the session with a ConnectionError; there is no retry.
func (s *Session) Connect(ctx context.Context) error {
	if !s.transition(StateIdle, StateConnecting) {
		return fmt.Errorf("session %s: connect from state %s", s.ID, s.State())
	}
	conn, err := s.dial(ctx)
	if err != nil {
		serr := newError(KindConnectionError, err)
		s.close(serr)
		return serr
	}
	s.mu.Lock()
	s.conn = conn
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
	go s.writePump()
	go s.readPump()
	return nil
}

// RelayUp forwards one client wire message to the provider verbatim. Audio
// frames are droppable under backpressure; commit and response.create are
// queued ahead of audio and never dropped.
func (s *Session) RelayUp(evt realtime.ClientEvent) error {
	s.mu.Lock()
	state := s.state
	committed := s.committed
	s.lastActivityAt = time.Now()
	s.mu.Unlock()

	switch evt.Type {
	case realtime.TypeAudioAppend:
		if committed {
			return fmt.Errorf("session %s: audio frame after commit rejected", s.ID)
		}
		switch state {
		case StateConnected:
			s.transition(StateConnected, StateListening)
		case StateListening:
		default:
			return fmt.Errorf("session %s: audio frame in state %s ignored", s.ID, state)
		}
		s.mu.Lock()
		s.audioBuffered = true
		s.mu.Unlock()
		s.enqueueAudio(evt.Audio)
		return nil

	case realtime.TypeAudioCommit:
		if state != StateListening {
			return fmt.Errorf("session %s: commit only valid while listening (state %s)", s.ID, state)
		}
		s.mu.Lock()
		s.committed = true
		s.commitGen++
		gen := s.commitGen
		s.mu.Unlock()
		s.enqueueCtrl(realtime.TypeAudioCommit)
		s.armCommitTimer(gen)
		return nil

	case realtime.TypeResponseCreate:
		if state != StateListening {
			return fmt.Errorf("session %s: response.create only valid while listening (state %s)", s.ID, state)
		}
		s.transition(StateListening, StateProcessing)
		s.enqueueCtrl(realtime.TypeResponseCreate)
		return nil
	}
	return fmt.Errorf("session %s: unknown client message type %q", s.ID, evt.Type)
}

// Stop halts frame intake, flushes the pending commit and response.create
// pair if any audio was buffered, and lets the session close once the
// provider finishes the turn.
func (s *Session) Stop() {
	s.mu.Lock()
	state := s.state
	committed := s.committed
	buffered := s.audioBuffered
	s.stopping = true
	s.mu.Unlock()

	switch {
	case state == StateListening && buffered:
		if !committed {
			s.mu.Lock()
			s.committed = true
			s.commitGen++
			gen := s.commitGen
			s.mu.Unlock()
			s.enqueueCtrl(realtime.TypeAudioCommit)
			s.armCommitTimer(gen)
		}
		s.transition(StateListening, StateProcessing)
		s.enqueueCtrl(realtime.TypeResponseCreate)
	case state == StateProcessing:
		// a turn is in flight; close on its response.done
	default:
		s.close(nil)
	}
}

// Close tears the session down immediately. Idempotent.
func (s *Session) Close() { s.close(nil) }

// Fail closes the session with a typed terminal error, for transport-side
// failures like a denied microphone permission.
func (s *Session) Fail(kind ErrorKind, err error) {
	s.close(newError(kind, err))
}

func (s *Session) close(serr *Error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.closeErr = serr
		conn := s.conn
		s.mu.Unlock()
		if serr != nil {
			s.emit(realtime.ServerEvent{Type: realtime.TypeError, Error: serr.Error()})
		}
		close(s.done)
		if conn != nil {
			_ = conn.Close()
		}
		if serr != nil {
			log.Printf("[%s] session closed: %v", s.ID, serr)
		}
	})
}

func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from || !canTransition(from, to) {
		return false
	}
	s.state = to
	return true
}

// enqueueAudio drops the oldest queued frame when the queue is full; stale
// audio is worthless and must never block the capture path.
func (s *Session) enqueueAudio(b64 string) {
	select {
	case s.audioQ <- b64:
		return
	default:
	}
	select {
	case <-s.audioQ:
		log.Printf("[%s] audio queue full, dropped oldest frame", s.ID)
	default:
	}
	select {
	case s.audioQ <- b64:
	default:
	}
}

func (s *Session) enqueueCtrl(msgType string) {
	select {
	case s.ctrlQ <- msgType:
	case <-s.done:
	}
}

// armCommitTimer watches one specific commit: the generation check keeps a
// stale timer from a finished turn from closing the session while a later
// commit is still inside its own window.
func (s *Session) armCommitTimer(gen uint64) {
	timer := time.NewTimer(s.commitTimeout)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			s.mu.Lock()
			stillWaiting := s.committed && s.commitGen == gen && s.state != StateClosed
			s.mu.Unlock()
			if stillWaiting {
				s.close(newError(KindTimeout, fmt.Errorf("no provider response within %s of commit", s.commitTimeout)))
			}
		case <-s.done:
		}
	}()
}

// writePump drains the upstream queues, control ahead of audio.
func (s *Session) writePump() {
	for {
		// control first
		select {
		case <-s.done:
			return
		case t := <-s.ctrlQ:
			s.sendCtrl(t)
			continue
		default:
		}
		select {
		case <-s.done:
			return
		case t := <-s.ctrlQ:
			s.sendCtrl(t)
		case b64 := <-s.audioQ:
			if err := s.conn.AppendAudio(b64); err != nil {
				s.close(newError(KindConnectionError, err))
				return
			}
		}
	}
}

func (s *Session) sendCtrl(msgType string) {
	var err error
	switch msgType {
	case realtime.TypeAudioCommit:
		err = s.conn.Commit()
	case realtime.TypeResponseCreate:
		err = s.conn.CreateResponse()
	}
	if err != nil {
		s.close(newError(KindConnectionError, err))
	}
}

// readPump sequences provider events: event-id admission, then side effects,
// then downstream echo.
func (s *Session) readPump() {
	for {
		select {
		case <-s.done:
			return
		case evt, ok := <-s.conn.Events():
			if !ok {
				s.mu.Lock()
				closed := s.state == StateClosed
				s.mu.Unlock()
				if !closed {
					s.close(newError(KindConnectionError, fmt.Errorf("provider connection lost")))
				}
				return
			}
			s.relayDown(evt)
		}
	}
}

func (s *Session) relayDown(evt realtime.ServerEvent) {
	if !s.events.Admit(evt.EventID) {
		log.Printf("[%s] duplicate provider event %s suppressed (id %s)", s.ID, evt.Type, evt.EventID)
		return
	}
	if evt.EventID == "" {
		log.Printf("[%s] %s: event admitted without event_id", s.ID, KindDedupGap)
	}

	switch evt.Type {
	case realtime.TypeConnected:
		s.transition(StateConnecting, StateConnected)

	case realtime.TypeTranscriptionComplete:
		s.mu.Lock()
		s.lastTranscript = evt.Transcript
		s.mu.Unlock()

	case realtime.TypeFunctionCallDone:
		s.mu.Lock()
		s.fnCallSeen = true
		transcript := s.lastTranscript
		s.mu.Unlock()
		fc := &command.FunctionCall{Name: evt.Name, Arguments: evt.Arguments}
		s.applyCommand(command.Classify(fc, transcript))

	case realtime.TypeResponseDone:
		s.mu.Lock()
		fnSeen := s.fnCallSeen
		transcript := s.lastTranscript
		s.fnCallSeen = false
		s.lastTranscript = ""
		s.committed = false
		s.audioBuffered = false
		stopping := s.stopping
		s.mu.Unlock()
		if !fnSeen && transcript != "" {
			s.applyCommand(command.Classify(nil, transcript))
		}
		s.emit(evt)
		if stopping {
			s.close(nil)
			return
		}
		s.transition(StateProcessing, StateConnected)
		return

	case realtime.TypeError:
		s.emit(evt)
		s.close(newError(KindProviderError, fmt.Errorf("%s", evt.Error)))
		return
	}
	s.emit(evt)
}

func (s *Session) applyCommand(cmd command.Command) {
	if s.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	act, err := s.dispatcher.Dispatch(ctx, s.ID, cmd)
	if err != nil {
		kind := KindDownstreamFailure
		if cmd.Kind == command.KindUnrecognized {
			kind = KindClassificationAmbiguous
		}
		// Recoverable either way: surface and keep the session open.
		log.Printf("[%s] %s: %v", s.ID, kind, err)
		s.emit(realtime.ServerEvent{Type: realtime.TypeError, Error: fmt.Sprintf("%s: %v", kind, err)})
		return
	}
	if act.Status == dispatch.StatusApplied {
		log.Printf("[%s] applied %s command (hash %.12s)", s.ID, cmd.Kind, act.ContentHash)
	}
}

// controlEvent reports whether the local transport depends on this event type
// to drive its own lifecycle. Control events are never dropped on overflow.
func controlEvent(t string) bool {
	switch t {
	case realtime.TypeResponseDone, realtime.TypeError:
		return true
	}
	return false
}

// emit queues one event for downstream delivery. A slow local consumer never
// blocks the relay; overflow drops the oldest non-control event with a
// warning.
func (s *Session) emit(evt realtime.ServerEvent) {
	s.outMu.Lock()
	s.outBuf = append(s.outBuf, evt)
	if len(s.outBuf) > outQueueSize {
		dropped := false
		for i := 0; i < len(s.outBuf)-1; i++ {
			if !controlEvent(s.outBuf[i].Type) {
				log.Printf("[%s] downstream queue full, dropped oldest %s event", s.ID, s.outBuf[i].Type)
				s.outBuf = append(s.outBuf[:i], s.outBuf[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped && !controlEvent(evt.Type) {
			s.outBuf = s.outBuf[:len(s.outBuf)-1]
			log.Printf("[%s] downstream queue full, dropped %s event", s.ID, evt.Type)
		}
	}
	s.outMu.Unlock()
	select {
	case s.outNotify <- struct{}{}:
	default:
	}
}

// outPump delivers queued events in order and closes Out once the session is
// closed and the queue, including any terminal error event, has drained.
func (s *Session) outPump() {
	defer close(s.out)
	for {
		s.outMu.Lock()
		var evt realtime.ServerEvent
		have := len(s.outBuf) > 0
		if have {
			evt = s.outBuf[0]
			s.outBuf = s.outBuf[1:]
		}
		s.outMu.Unlock()

		if !have {
			select {
			case <-s.outNotify:
				continue
			case <-s.done:
			}
			s.outMu.Lock()
			have = len(s.outBuf) > 0
			s.outMu.Unlock()
			if !have {
				return
			}
			continue
		}

		stall := time.NewTimer(outStallTimeout)
		select {
		case s.out <- evt:
			stall.Stop()
		case <-stall.C:
			log.Printf("[%s] downstream consumer stalled, dropped %s event", s.ID, evt.Type)
		}
	}
}
