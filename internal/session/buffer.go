package session

import (
	"strings"

	"github.com/uterokreatif/caruba-voice/internal/stt"
)

// UtteranceBuffer accumulates recognizer results for one utterance. Final
// results are committed once each, tracked by a watermark into the
// recognizer's cumulative result list; the trailing interim text is replaced
// on every update.
type UtteranceBuffer struct {
	committed string
	interim   string
	watermark int
}

// NewUtteranceBuffer creates an empty utterance buffer.
func NewUtteranceBuffer() *UtteranceBuffer {
	return &UtteranceBuffer{}
}

// Apply folds the cumulative result list of the current recognizer run into
// the buffer. It reports whether this call committed new text and the list
// ends in a final result, which is when the finalize debounce should be
// armed. A replayed list commits nothing and never re-arms.
func (b *UtteranceBuffer) Apply(results []stt.Result) bool {
	b.interim = ""
	grew := false
	for i := b.watermark; i < len(results); i++ {
		r := results[i]
		if !r.Final {
			b.interim += r.Transcript
			continue
		}
		if text := strings.TrimSpace(r.Transcript); text != "" {
			if b.committed != "" {
				b.committed += " "
			}
			b.committed += text
			grew = true
		}
		b.watermark = i + 1
	}

	if !grew {
		return false
	}
	return results[len(results)-1].Final
}

// Transcript is the committed text followed by the current interim text.
func (b *UtteranceBuffer) Transcript() string {
	if b.interim == "" {
		return strings.TrimSpace(b.committed)
	}
	return strings.TrimSpace(b.committed + " " + b.interim)
}

func (b *UtteranceBuffer) Committed() string {
	return strings.TrimSpace(b.committed)
}

// Rewind prepares for a fresh recognizer run whose result list starts from
// zero, keeping the committed text.
func (b *UtteranceBuffer) Rewind() {
	b.watermark = 0
	b.interim = ""
}

// Reset clears the buffer for a new utterance.
func (b *UtteranceBuffer) Reset() {
	b.committed = ""
	b.interim = ""
	b.watermark = 0
}
