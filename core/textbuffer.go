package orchestration

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const maxSpokenChunkLength = 240

// textBuffer is the queue between whoever produces speakable text and the
// synthesis worker.
type textBuffer struct {
	mu             sync.Mutex
	chunks         []string
	chunksConsumed int
	textComplete   bool
	updateSignal   chan struct{}
	cleared        bool
}

func newTextBuffer() *textBuffer {
	return &textBuffer{
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *textBuffer) AddChunk(chunk string) {
	b.mu.Lock()
	if b.cleared {
		b.mu.Unlock()
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) TextComplete() {
	b.mu.Lock()
	b.textComplete = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Chunks yields queued chunks in order, waiting for more until the text is
// complete or the buffer is cleared.
func (b *textBuffer) Chunks(yield func(string) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if b.chunksConsumed < len(b.chunks) {
			chunk := b.chunks[b.chunksConsumed]
			b.chunks[b.chunksConsumed] = ""
			b.chunksConsumed++
			b.mu.Unlock()
			if !yield(chunk) {
				return
			}
			continue
		}

		if b.textComplete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

// Pending is the number of chunks queued but not yet consumed.
func (b *textBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cleared {
		return 0
	}
	return len(b.chunks) - b.chunksConsumed
}

// Clear drops everything not yet consumed and releases the reader.
func (b *textBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.chunks = nil
	b.chunksConsumed = 0
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}

// sentenceSegmenter turns a stream of text deltas into speakable chunks cut
// at sentence boundaries, none longer than maxLength.
type sentenceSegmenter struct {
	pending   strings.Builder
	maxLength int
}

func newSentenceSegmenter(maxLength int) *sentenceSegmenter {
	if maxLength <= 0 {
		maxLength = maxSpokenChunkLength
	}
	return &sentenceSegmenter{maxLength: maxLength}
}

// Push adds delta and returns every chunk that became complete.
func (s *sentenceSegmenter) Push(delta string) []string {
	s.pending.WriteString(delta)
	text := s.pending.String()

	var chunks []string
	for from := 0; ; {
		i := strings.IndexAny(text[from:], ".!?\n")
		if i < 0 {
			break
		}
		cut := from + i
		if isDecimalPoint(text, cut) {
			from = cut + 1
			continue
		}
		// keep runs like "?!" or "..." together
		end := cut + 1
		for end < len(text) && strings.ContainsRune(".!?", rune(text[end])) {
			end++
		}
		if end == len(text) && text[cut] != '\n' {
			// the run of punctuation may continue in the next delta
			break
		}
		chunks = append(chunks, s.split(text[:end])...)
		text = text[end:]
		from = 0
	}

	for len(text) > s.maxLength {
		head, rest := splitAtSpace(text, s.maxLength)
		if head != "" {
			chunks = append(chunks, head)
		}
		text = rest
	}

	s.pending.Reset()
	s.pending.WriteString(text)
	return chunks
}

// isDecimalPoint reports whether the period at i sits between two digits,
// as in "3.5".
func isDecimalPoint(text string, i int) bool {
	return text[i] == '.' && i > 0 && i+1 < len(text) && isDigit(text[i-1]) && isDigit(text[i+1])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Flush returns whatever text is left.
func (s *sentenceSegmenter) Flush() []string {
	text := s.pending.String()
	s.pending.Reset()
	return s.split(text)
}

func (s *sentenceSegmenter) split(text string) []string {
	var chunks []string
	for len(text) > s.maxLength {
		head, rest := splitAtSpace(text, s.maxLength)
		if head != "" {
			chunks = append(chunks, head)
		}
		text = rest
	}
	if text = strings.TrimSpace(text); text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// splitAtSpace cuts text at the last space before limit, or hard at limit
// when there is none.
func splitAtSpace(text string, limit int) (string, string) {
	cut := strings.LastIndex(text[:limit], " ")
	if cut <= 0 {
		cut = limit
		for cut > 1 && !utf8.RuneStart(text[cut]) {
			cut--
		}
	}
	return strings.TrimSpace(text[:cut]), strings.TrimLeft(text[cut:], " ")
}
