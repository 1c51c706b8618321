package orchestration

import (
	"slices"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSentenceSegmenterCutsAtBoundaries(t *testing.T) {
	segmenter := newSentenceSegmenter(maxSpokenChunkLength)

	var chunks []string
	for _, delta := range []string{"Hel", "lo there. How", " are you?", "! Fine", "\nNext line"} {
		chunks = append(chunks, segmenter.Push(delta)...)
	}
	chunks = append(chunks, segmenter.Flush()...)

	expected := []string{"Hello there.", "How are you?!", "Fine", "Next line"}
	if !slices.Equal(chunks, expected) {
		t.Fatalf("expected %q, got %q", expected, chunks)
	}
}

func TestSentenceSegmenterWaitsForPunctuationRun(t *testing.T) {
	segmenter := newSentenceSegmenter(maxSpokenChunkLength)

	if chunks := segmenter.Push("Wait.."); len(chunks) != 0 {
		t.Fatalf("expected trailing punctuation to be held back, got %q", chunks)
	}
	chunks := segmenter.Push(". Then")
	if !slices.Equal(chunks, []string{"Wait..."}) {
		t.Fatalf("expected ellipsis kept together, got %q", chunks)
	}
}

func TestSentenceSegmenterKeepsDecimalsTogether(t *testing.T) {
	segmenter := newSentenceSegmenter(maxSpokenChunkLength)

	var chunks []string
	for _, delta := range []string{"It costs 3", ".", "5 dollars. Version 1.2.", "3 is out. Step 2. Done"} {
		chunks = append(chunks, segmenter.Push(delta)...)
	}
	chunks = append(chunks, segmenter.Flush()...)

	expected := []string{"It costs 3.5 dollars.", "Version 1.2.3 is out.", "Step 2.", "Done"}
	if !slices.Equal(chunks, expected) {
		t.Fatalf("expected %q, got %q", expected, chunks)
	}
}

func TestSentenceSegmenterSplitsLongChunksAtSpace(t *testing.T) {
	segmenter := newSentenceSegmenter(maxSpokenChunkLength)
	long := strings.Repeat("word ", 100) + "end."

	chunks := append(segmenter.Push(long), segmenter.Flush()...)
	if len(chunks) < 2 {
		t.Fatalf("expected long text to be split, got %d chunk(s)", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk) > maxSpokenChunkLength {
			t.Fatalf("chunk longer than %d characters: %d", maxSpokenChunkLength, len(chunk))
		}
		if strings.HasPrefix(chunk, "ord") || strings.HasSuffix(chunk, "wor") {
			t.Fatalf("chunk was not cut at a space: %q", chunk)
		}
	}
	if got := strings.Join(chunks, " "); got != strings.TrimSpace(long) {
		t.Fatalf("expected no text to be lost")
	}
}

func TestSplitAtSpaceHardCutKeepsRunes(t *testing.T) {
	head, rest := splitAtSpace(strings.Repeat("ž", 10), 5)
	if !utf8.ValidString(head) || !utf8.ValidString(rest) {
		t.Fatalf("expected valid UTF-8 halves, got %q and %q", head, rest)
	}
	if head+rest != strings.Repeat("ž", 10) {
		t.Fatalf("expected halves to join back, got %q + %q", head, rest)
	}
}

func TestTextBufferClearReleasesReader(t *testing.T) {
	buffer := newTextBuffer()
	buffer.AddChunk("first")

	received := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range buffer.Chunks {
			received <- chunk
		}
	}()

	if got := <-received; got != "first" {
		t.Fatalf("expected first chunk, got %q", got)
	}

	buffer.Clear()
	buffer.AddChunk("after clear")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reader was not released by Clear")
	}
	if len(received) != 0 {
		t.Fatalf("expected nothing after Clear, got %q", <-received)
	}
	if buffer.Pending() != 0 {
		t.Fatalf("expected no pending chunks after Clear")
	}
}

func TestTextBufferEndsWhenComplete(t *testing.T) {
	buffer := newTextBuffer()
	buffer.AddChunk("a")
	buffer.AddChunk("b")
	buffer.TextComplete()

	var chunks []string
	for chunk := range buffer.Chunks {
		chunks = append(chunks, chunk)
	}
	if !slices.Equal(chunks, []string{"a", "b"}) {
		t.Fatalf("expected chunks in order, got %q", chunks)
	}
}
