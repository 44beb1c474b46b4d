package connect

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leoscribe/internal/config"
	"github.com/leoscribe/internal/logging"
	"github.com/leoscribe/internal/transport"
)

// ConnectError is returned when every attempt for a room has been exhausted.
// It is the only connect failure that crosses the package boundary.
type ConnectError struct {
	Room      string
	Attempts  int
	LastClass transport.Class
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("voice connect failed for room %s after %d attempts (last: %s)", e.Room, e.Attempts, e.LastClass)
}

// roomState tracks a room's connection history. It outlives individual
// sessions: a room that went problematic stays problematic for the life of
// the process.
type roomState struct {
	consecInvalid int
	backoff       time.Duration
	problematic   bool
}

// Stats is a snapshot of supervisor counters for diagnostics.
type Stats struct {
	Attempts          int64
	TransientFailures int64
	FatalFailures     int64
	Rotations         int64
}

// Supervisor establishes and repairs voice connections. All mutable per-room
// state lives behind one mutex; a Supervisor is shared by every session in
// the process.
type Supervisor struct {
	cfg config.ConnectConfig
	tr  transport.Transport

	mu    sync.Mutex
	rooms map[string]*roomState

	attempts          int64
	transientFailures int64
	fatalFailures     int64
	rotations         int64

	// sleep is swapped out by tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(cfg config.ConnectConfig, tr transport.Transport) *Supervisor {
	return &Supervisor{
		cfg:   cfg,
		tr:    tr,
		rooms: make(map[string]*roomState),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Supervisor) state(room string) *roomState {
	if st, ok := s.rooms[room]; ok {
		return st
	}
	st := &roomState{}
	s.rooms[room] = st
	return st
}

// Problematic reports whether the room has been flagged for aggressive
// recovery. The flag is sticky once set.
func (s *Supervisor) Problematic(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(room).problematic
}

// Backoff returns the room's current retry delay.
func (s *Supervisor) Backoff(room string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(room).backoff
}

func (s *Supervisor) Stats() Stats {
	return Stats{
		Attempts:          atomic.LoadInt64(&s.attempts),
		TransientFailures: atomic.LoadInt64(&s.transientFailures),
		FatalFailures:     atomic.LoadInt64(&s.fatalFailures),
		Rotations:         atomic.LoadInt64(&s.rotations),
	}
}

// Connect joins target in room, recovering from transient session closes.
// Any prior voice state for the room is torn down first. On exhaustion it
// returns a *ConnectError carrying the attempt count and last failure class.
func (s *Supervisor) Connect(ctx context.Context, room, target string) (transport.Conn, error) {
	s.mu.Lock()
	st := s.state(room)
	problematic := st.problematic
	s.mu.Unlock()

	maxAttempts := s.cfg.BaseAttempts
	cooldown := s.cfg.Cooldown()
	if problematic {
		maxAttempts = s.cfg.ProblemAttempts
		cooldown = s.cfg.ProblemCooldown()
	}

	if err := s.teardown(ctx, room, cooldown); err != nil {
		return nil, err
	}

	lastClass := transport.ClassFatal
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		atomic.AddInt64(&s.attempts, 1)
		logging.Infow("voice connect attempt", "room.id", room, "attempt", attempt, "max_attempts", maxAttempts, "problematic", s.Problematic(room))

		s.mu.Lock()
		escalate := st.consecInvalid >= 2
		s.mu.Unlock()
		if escalate {
			if err := s.escalatedReset(ctx, room, target, cooldown); err != nil {
				return nil, err
			}
		}

		cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout())
		conn, err := s.tr.Connect(cctx, room, target)
		cancel()
		if err == nil {
			if s.waitReady(ctx, conn) {
				s.recordSuccess(room)
				logging.Infow("voice connected", "room.id", room, "attempt", attempt)
				return conn, nil
			}
			// Connected but never went live; treat like a transient failure.
			_ = conn.Close()
			err = fmt.Errorf("voice connected but not ready in time")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		class := transport.Classify(err)
		lastClass = class
		delay := s.recordFailure(room, class)
		logging.Warnw("voice connect attempt failed", "room.id", room, "attempt", attempt, "class", class.String(), "backoff_ms", delay.Milliseconds(), "err", err)

		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
		if err := s.teardown(ctx, room, 0); err != nil {
			return nil, err
		}
	}

	return nil, &ConnectError{Room: room, Attempts: maxAttempts, LastClass: lastClass}
}

// waitReady polls the handle's liveness up to the configured bound.
func (s *Supervisor) waitReady(ctx context.Context, conn transport.Conn) bool {
	for i := 0; i < s.cfg.ReadyPollAttempts; i++ {
		if conn.Ready() {
			return true
		}
		if err := s.sleep(ctx, s.cfg.ReadyInterval()); err != nil {
			return false
		}
	}
	return conn.Ready()
}

// teardown clears any prior session and waits out the cool-down.
func (s *Supervisor) teardown(ctx context.Context, room string, cooldown time.Duration) error {
	if err := s.tr.Teardown(ctx, room); err != nil {
		logging.Debugw("teardown error", "room.id", room, "err", err)
	}
	return s.sleep(ctx, cooldown)
}

// escalatedReset runs multiple teardown cycles with increasing pauses, then
// rotates the voice endpoint through the configured regions. Triggered once a
// room shows two consecutive invalid-session closes.
func (s *Supervisor) escalatedReset(ctx context.Context, room, target string, cooldown time.Duration) error {
	logging.Warnw("applying escalated reset", "room.id", room)
	for i := 0; i < s.cfg.ResetCycles; i++ {
		if err := s.teardown(ctx, room, cooldown*time.Duration(i+1)); err != nil {
			return err
		}
	}
	atomic.AddInt64(&s.rotations, 1)
	if err := s.tr.Rotate(ctx, room, target, s.cfg.Regions); err != nil {
		// Rotation is best-effort; the retry proceeds on the old route.
		logging.Warnw("endpoint rotation failed", "room.id", room, "err", err)
	}
	return s.sleep(ctx, time.Second)
}

// recordFailure updates the room's failure history and returns the delay to
// wait before the next attempt. Delays never shrink between consecutive
// failures and never exceed the configured ceiling.
func (s *Supervisor) recordFailure(room string, class transport.Class) time.Duration {
	if class.Transient() {
		atomic.AddInt64(&s.transientFailures, 1)
	} else {
		atomic.AddInt64(&s.fatalFailures, 1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(room)
	if class == transport.ClassInvalidSession {
		st.consecInvalid++
		if st.consecInvalid >= 2 && !st.problematic {
			st.problematic = true
			logging.Warnw("room marked problematic", "room.id", room, "consecutive_invalid", st.consecInvalid)
		}
	} else {
		st.consecInvalid = 0
	}

	if st.backoff == 0 {
		st.backoff = s.cfg.BackoffBase()
	} else {
		st.backoff *= 2
		if st.backoff > s.cfg.BackoffCap() {
			st.backoff = s.cfg.BackoffCap()
		}
	}
	return st.backoff
}

// recordSuccess resets the room's failure streak and backoff. The
// problematic flag is sticky and survives success.
func (s *Supervisor) recordSuccess(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(room)
	st.consecInvalid = 0
	st.backoff = 0
}

// Disconnect tears down the room's session outside of a connect cycle; used
// by stop() and shutdown paths.
func (s *Supervisor) Disconnect(ctx context.Context, room string) error {
	return s.tr.Teardown(ctx, room)
}
