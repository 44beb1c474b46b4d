package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/leoscribe/internal/correct"
	"github.com/leoscribe/internal/logging"
	"github.com/leoscribe/internal/session"
)

// Transcriber converts PCM to text. Satisfied by the stt cascade.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Fallback repairs low-confidence transcripts. Satisfied by the LLM client.
type Fallback interface {
	Correct(ctx context.Context, text string) string
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Processed  int64
	Dropped    int64
	CacheHits  int64
	LLMRepairs int64
}

// Pipeline turns one audio segment into corrected text. It never returns an
// error: a segment that cannot be transcribed is dropped and the session
// carries on.
type Pipeline struct {
	stt                 Transcriber
	corrector           *correct.Corrector
	cache               *correct.Cache
	fallback            Fallback
	confidenceThreshold int

	processed  int64
	dropped    int64
	cacheHits  int64
	llmRepairs int64
}

func New(stt Transcriber, corrector *correct.Corrector, cache *correct.Cache, fallback Fallback, confidenceThreshold int) *Pipeline {
	return &Pipeline{
		stt:                 stt,
		corrector:           corrector,
		cache:               cache,
		fallback:            fallback,
		confidenceThreshold: confidenceThreshold,
	}
}

// Process transcribes and corrects one segment. The boolean is false when the
// segment produced no usable text and no utterance should be published.
func (p *Pipeline) Process(ctx context.Context, seg session.Segment) (string, bool) {
	text, err := p.stt.Transcribe(ctx, seg.PCM)
	if err != nil {
		atomic.AddInt64(&p.dropped, 1)
		logging.Warnw("transcription failed, dropping segment", "correlation_id", seg.CorrelationID, "err", err)
		return "", false
	}
	if text == "" {
		atomic.AddInt64(&p.dropped, 1)
		logging.Debugw("no speech in segment", "correlation_id", seg.CorrelationID)
		return "", false
	}

	key := correct.Key(text)
	if cached, ok := p.cache.Get(key); ok {
		atomic.AddInt64(&p.cacheHits, 1)
		atomic.AddInt64(&p.processed, 1)
		return cached, true
	}

	res := p.corrector.Correct(text)
	corrected := res.Text
	if res.Confidence < p.confidenceThreshold && p.fallback != nil {
		atomic.AddInt64(&p.llmRepairs, 1)
		logging.Debugw("low confidence, using llm fallback", "correlation_id", seg.CorrelationID, "confidence", res.Confidence)
		corrected = p.fallback.Correct(ctx, corrected)
	}

	p.cache.Put(key, corrected)
	atomic.AddInt64(&p.processed, 1)
	logging.Debugw("segment corrected", "correlation_id", seg.CorrelationID, "confidence", res.Confidence, "speaker.id", seg.Speaker)
	return corrected, true
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:  atomic.LoadInt64(&p.processed),
		Dropped:    atomic.LoadInt64(&p.dropped),
		CacheHits:  atomic.LoadInt64(&p.cacheHits),
		LLMRepairs: atomic.LoadInt64(&p.llmRepairs),
	}
}
