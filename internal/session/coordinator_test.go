package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leoscribe/internal/config"
	"github.com/leoscribe/internal/transport"
)

type stubConn struct{ closed bool }

func (c *stubConn) Ready() bool  { return true }
func (c *stubConn) Close() error { c.closed = true; return nil }

type stubDialer struct {
	connects    int
	disconnects int
}

func (d *stubDialer) Connect(ctx context.Context, room, target string) (transport.Conn, error) {
	d.connects++
	return &stubConn{}, nil
}

func (d *stubDialer) Disconnect(ctx context.Context, room string) error {
	d.disconnects++
	return nil
}

type segmentSink struct {
	mu   sync.Mutex
	segs []Segment
}

func (s *segmentSink) dispatch(_ context.Context, seg Segment) {
	s.mu.Lock()
	s.segs = append(s.segs, seg)
	s.mu.Unlock()
}

func (s *segmentSink) snapshot() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Segment(nil), s.segs...)
}

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCoordinator(t *testing.T) (*Coordinator, *stubDialer, *segmentSink, *fakeClock) {
	t.Helper()
	dialer := &stubDialer{}
	sink := &segmentSink{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := NewCoordinator(config.Default().Session, dialer, sink.dispatch)
	c.now = clock.now
	return c, dialer, sink, clock
}

func (c *Coordinator) room(t *testing.T, room string) *session {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sessions[room]
	if s == nil {
		t.Fatalf("no session for room %s", room)
	}
	return s
}

func TestBufferRoundTrip(t *testing.T) {
	var b speakerBuffer
	at := time.Unix(0, 0)
	if b.ready(at.Add(time.Hour), time.Second) {
		t.Fatal("empty buffer must never be ready")
	}
	b.append([]byte("he"), at)
	b.append([]byte("llo wor"), at.Add(200*time.Millisecond))
	b.append([]byte("ld "), at.Add(400*time.Millisecond))
	got := b.snapshot()
	if string(got) != "hello world " {
		t.Fatalf("snapshot: %q", got)
	}
	if len(b.chunks) != 0 || b.bytes != 0 {
		t.Fatal("buffer not cleared after snapshot")
	}
	if b.ready(at.Add(time.Hour), time.Second) {
		t.Fatal("drained buffer must never be ready")
	}
}

func TestBufferReadinessHonorsSilenceGap(t *testing.T) {
	var b speakerBuffer
	at := time.Unix(0, 0)
	b.append([]byte("x"), at)
	if b.ready(at.Add(1500*time.Millisecond), 1500*time.Millisecond) {
		t.Fatal("gap equal to threshold must not be ready")
	}
	if !b.ready(at.Add(1501*time.Millisecond), 1500*time.Millisecond) {
		t.Fatal("gap beyond threshold must be ready")
	}
}

func TestScanCutsOneSegmentPerSilentSpeaker(t *testing.T) {
	c, _, sink, clock := newTestCoordinator(t)
	ctx := context.Background()
	if err := c.StartSession(ctx, "room-1", "chan-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	s := c.room(t, "room-1")

	c.Ingest("room-1", "42", []byte("he"))
	clock.advance(200 * time.Millisecond)
	c.Ingest("room-1", "42", []byte("llo wor"))
	clock.advance(200 * time.Millisecond)
	c.Ingest("room-1", "42", []byte("ld "))

	// Still within the silence window: nothing cut.
	clock.advance(600 * time.Millisecond)
	c.scanOnce(s)
	c.wg.Wait()
	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("segment cut before silence elapsed: %+v", got)
	}

	clock.advance(1 * time.Second)
	c.scanOnce(s)
	c.wg.Wait()
	got := sink.snapshot()
	if len(got) != 1 {
		t.Fatalf("want one segment, got %d", len(got))
	}
	if string(got[0].PCM) != "hello world " {
		t.Fatalf("segment audio: %q", got[0].PCM)
	}
	if got[0].Speaker != "42" || got[0].Room != "room-1" || got[0].CorrelationID == "" {
		t.Fatalf("segment metadata: %+v", got[0])
	}

	// The buffer was drained; a later scan finds nothing new.
	clock.advance(10 * time.Second)
	c.scanOnce(s)
	c.wg.Wait()
	if got := sink.snapshot(); len(got) != 1 {
		t.Fatalf("drained speaker re-emitted: %d segments", len(got))
	}
}

func TestSpeakersSegmentIndependently(t *testing.T) {
	c, _, sink, clock := newTestCoordinator(t)
	ctx := context.Background()
	if err := c.StartSession(ctx, "room-1", "chan-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	s := c.room(t, "room-1")

	c.Ingest("room-1", "alice", []byte("a1"))
	clock.advance(1600 * time.Millisecond)
	// Bob spoke just now; only Alice's gap has elapsed.
	c.Ingest("room-1", "bob", []byte("b1"))
	c.scanOnce(s)
	c.wg.Wait()

	got := sink.snapshot()
	if len(got) != 1 || got[0].Speaker != "alice" {
		t.Fatalf("want only alice's segment, got %+v", got)
	}
}

func TestStopSessionDropsBufferedAudio(t *testing.T) {
	c, dialer, sink, clock := newTestCoordinator(t)
	ctx := context.Background()
	if err := c.StartSession(ctx, "room-1", "chan-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	s := c.room(t, "room-1")

	c.Ingest("room-1", "42", []byte("going nowhere"))
	if err := c.StopSession(ctx, "room-1"); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if dialer.disconnects != 1 {
		t.Fatalf("disconnects: want 1 got %d", dialer.disconnects)
	}

	// Audio arriving after stop is dropped, and the old session scans to
	// nothing even after a long silence.
	c.Ingest("room-1", "42", []byte("late"))
	clock.advance(time.Minute)
	c.scanOnce(s)
	c.wg.Wait()
	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("dispatch after stop: %+v", got)
	}
}

func TestCloseDrainsInFlightDispatches(t *testing.T) {
	dialer := &stubDialer{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	release := make(chan struct{})
	done := make(chan struct{})
	c := NewCoordinator(config.Default().Session, dialer, func(_ context.Context, _ Segment) {
		<-release
		close(done)
	})
	c.now = clock.now

	ctx := context.Background()
	if err := c.StartSession(ctx, "room-1", "chan-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	s := c.room(t, "room-1")
	c.Ingest("room-1", "42", []byte("slow one"))
	clock.advance(2 * time.Second)
	c.scanOnce(s)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("Close returned before the in-flight dispatch finished")
	}
}
