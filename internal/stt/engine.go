package stt

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/leoscribe/internal/config"
	"github.com/leoscribe/internal/logging"
)

// Engine transcribes one PCM segment. Implementations return ("", nil) for
// audio that genuinely contains no speech.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Cascade tries engines in order until one yields text. An engine error or a
// blank transcript falls through to the next engine; when every engine has
// been tried, the segment is silently dropped with ("", nil).
type Cascade struct {
	engines []Engine

	transcripts int64
	fallthrus   int64
	exhausted   int64
}

func NewCascade(engines ...Engine) *Cascade {
	return &Cascade{engines: engines}
}

// NewEngines builds the configured engine chain.
func NewEngines(cfg config.STTConfig) ([]Engine, error) {
	engines := make([]Engine, 0, len(cfg.Engines))
	for _, ec := range cfg.Engines {
		switch ec.Type {
		case "whisper":
			engines = append(engines, NewWhisper(ec, cfg.SampleRate, cfg.Channels))
		case "openai":
			engines = append(engines, NewOpenAI(ec, cfg.SampleRate, cfg.Channels))
		default:
			return nil, fmt.Errorf("unknown stt engine type %q", ec.Type)
		}
	}
	return engines, nil
}

func (c *Cascade) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	for _, e := range c.engines {
		text, err := e.Transcribe(ctx, pcm)
		if err != nil {
			atomic.AddInt64(&c.fallthrus, 1)
			logging.Warnw("stt engine failed, falling through", "engine", e.Name(), "err", err)
			continue
		}
		if text == "" {
			atomic.AddInt64(&c.fallthrus, 1)
			logging.Debugw("stt engine returned no speech, falling through", "engine", e.Name())
			continue
		}
		atomic.AddInt64(&c.transcripts, 1)
		return text, nil
	}
	atomic.AddInt64(&c.exhausted, 1)
	return "", nil
}

// Stats reports cascade counters for diagnostics.
type Stats struct {
	Transcripts int64
	Fallthrus   int64
	Exhausted   int64
}

func (c *Cascade) Stats() Stats {
	return Stats{
		Transcripts: atomic.LoadInt64(&c.transcripts),
		Fallthrus:   atomic.LoadInt64(&c.fallthrus),
		Exhausted:   atomic.LoadInt64(&c.exhausted),
	}
}
