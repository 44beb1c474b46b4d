package session

import (
	"time"
)

// speakerBuffer accumulates one speaker's PCM between silences. Appends are
// O(1): chunks are only concatenated when a segment is cut.
type speakerBuffer struct {
	chunks     [][]byte
	bytes      int
	lastAppend time.Time
}

func (b *speakerBuffer) append(pcm []byte, at time.Time) {
	b.chunks = append(b.chunks, pcm)
	b.bytes += len(pcm)
	b.lastAppend = at
}

// ready reports whether the buffer holds audio and the speaker has been
// silent for longer than the threshold. An empty buffer is never ready,
// regardless of how long ago the speaker last spoke.
func (b *speakerBuffer) ready(now time.Time, silence time.Duration) bool {
	return len(b.chunks) > 0 && now.Sub(b.lastAppend) > silence
}

// snapshot concatenates the buffered audio in arrival order and resets the
// buffer in one step, so no chunk can slip in between read and clear.
func (b *speakerBuffer) snapshot() []byte {
	out := make([]byte, 0, b.bytes)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = nil
	b.bytes = 0
	return out
}
