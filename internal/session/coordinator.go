package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leoscribe/internal/config"
	"github.com/leoscribe/internal/logging"
	"github.com/leoscribe/internal/transport"
)

// Segment is one speaker's utterance, cut after a silence gap. CorrelationID
// ties the segment's log lines together across the transcription pipeline.
type Segment struct {
	Room          string
	Speaker       string
	PCM           []byte
	CapturedAt    time.Time
	CorrelationID string
}

// DispatchFunc consumes a finished segment. It runs on its own goroutine and
// must do its own error handling; the coordinator never sees its outcome.
type DispatchFunc func(ctx context.Context, seg Segment)

// Dialer establishes and tears down voice connections for rooms. Satisfied by
// the connect supervisor.
type Dialer interface {
	Connect(ctx context.Context, room, target string) (transport.Conn, error)
	Disconnect(ctx context.Context, room string) error
}

// session is one room's live capture state.
type session struct {
	room   string
	conn   transport.Conn
	cancel context.CancelFunc

	mu       sync.Mutex
	active   bool
	speakers map[string]*speakerBuffer
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	Sessions int
	Segments int64
	InFlight int64
}

// Coordinator owns every live session: it routes incoming PCM to per-speaker
// buffers and periodically cuts segments once a speaker has gone quiet.
type Coordinator struct {
	cfg      config.SessionConfig
	dialer   Dialer
	dispatch DispatchFunc

	mu       sync.Mutex
	sessions map[string]*session

	wg       sync.WaitGroup
	segments int64
	inFlight int64

	// now is swapped out by tests to control silence timing.
	now func() time.Time
}

func NewCoordinator(cfg config.SessionConfig, dialer Dialer, dispatch DispatchFunc) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		dialer:   dialer,
		dispatch: dispatch,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// StartSession connects to target in room and begins capturing. Starting a
// room that already has a session replaces it.
func (c *Coordinator) StartSession(ctx context.Context, room, target string) error {
	if err := c.StopSession(ctx, room); err != nil {
		logging.Debugw("stale session teardown", "room.id", room, "err", err)
	}

	conn, err := c.dialer.Connect(ctx, room, target)
	if err != nil {
		return fmt.Errorf("start session for room %s: %w", room, err)
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		room:     room,
		conn:     conn,
		cancel:   cancel,
		active:   true,
		speakers: make(map[string]*speakerBuffer),
	}

	c.mu.Lock()
	c.sessions[room] = s
	c.mu.Unlock()

	go c.scanLoop(scanCtx, s)
	logging.Infow("session started", logging.RoomFields(room, target)...)
	return nil
}

// Ingest appends PCM to the speaker's buffer. Audio for rooms without an
// active session is dropped. Called from the transport receive goroutine, so
// it only appends and returns.
func (c *Coordinator) Ingest(room, speaker string, pcm []byte) {
	c.mu.Lock()
	s := c.sessions[room]
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	buf, ok := s.speakers[speaker]
	if !ok {
		buf = &speakerBuffer{}
		s.speakers[speaker] = buf
	}
	buf.append(pcm, c.now())
}

func (c *Coordinator) scanLoop(ctx context.Context, s *session) {
	t := time.NewTicker(c.cfg.ScanInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.scanOnce(s)
		}
	}
}

// scanOnce cuts a segment for every speaker whose silence gap has elapsed.
// Dispatch is fire and forget: a slow pipeline never blocks the next scan.
func (c *Coordinator) scanOnce(s *session) {
	now := c.now()
	silence := c.cfg.Silence()

	var cut []Segment
	s.mu.Lock()
	if s.active {
		for speaker, buf := range s.speakers {
			if buf.ready(now, silence) {
				cut = append(cut, Segment{
					Room:          s.room,
					Speaker:       speaker,
					PCM:           buf.snapshot(),
					CapturedAt:    now,
					CorrelationID: uuid.NewString(),
				})
			}
		}
	}
	s.mu.Unlock()

	for _, seg := range cut {
		atomic.AddInt64(&c.segments, 1)
		atomic.AddInt64(&c.inFlight, 1)
		c.wg.Add(1)
		// Dispatch runs on a fresh context: stopping the session must not
		// cancel work already cut from a buffer.
		go func(seg Segment) {
			defer c.wg.Done()
			defer atomic.AddInt64(&c.inFlight, -1)
			logging.Debugw("segment dispatched", logging.SegmentFields(seg.Speaker, seg.CorrelationID, len(seg.PCM))...)
			c.dispatch(context.Background(), seg)
		}(seg)
	}
}

// StopSession ends capture for room and disconnects. Audio still buffered but
// not yet cut is discarded; segments already dispatched run to completion.
func (c *Coordinator) StopSession(ctx context.Context, room string) error {
	c.mu.Lock()
	s := c.sessions[room]
	delete(c.sessions, room)
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	s.mu.Lock()
	s.active = false
	s.speakers = make(map[string]*speakerBuffer)
	s.mu.Unlock()
	s.cancel()
	_ = s.conn.Close()

	logging.Infow("session stopped", "room.id", room)
	return c.dialer.Disconnect(ctx, room)
}

// Close stops every session and waits for in-flight dispatches, bounded by
// the drain timeout.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.sessions))
	for room := range c.sessions {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		if err := c.StopSession(ctx, room); err != nil {
			logging.Warnw("session stop during shutdown", "room.id", room, "err", err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.DrainTimeout()):
		return fmt.Errorf("shutdown drain timed out with %d dispatches in flight", atomic.LoadInt64(&c.inFlight))
	}
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	n := len(c.sessions)
	c.mu.Unlock()
	return Stats{
		Sessions: n,
		Segments: atomic.LoadInt64(&c.segments),
		InFlight: atomic.LoadInt64(&c.inFlight),
	}
}
