package miniaudio

import (
	"bytes"
	"testing"
	"time"
)

func TestPlaybackQueueDrainFillsSilenceWhenEmpty(t *testing.T) {
	q := playbackQueue{}
	q.push([]byte{1, 2, 3})

	out := []byte{9, 9, 9, 9, 9}
	q.drain(out)

	if !bytes.Equal(out, []byte{1, 2, 3, 0, 0}) {
		t.Fatalf("unexpected output %v", out)
	}
	if len(q.audio) != 0 {
		t.Fatalf("expected queue to be empty, got %d bytes", len(q.audio))
	}
}

func TestPlaybackQueueMarkFiresAfterQueuedAudioIsDrained(t *testing.T) {
	q := playbackQueue{}
	q.push(make([]byte, 8))

	fired := make(chan string, 1)
	q.mark("chunk-1", func(name string) { fired <- name })

	q.drain(make([]byte, 4))
	select {
	case name := <-fired:
		t.Fatalf("mark %q fired before its audio was drained", name)
	case <-time.After(50 * time.Millisecond):
	}

	q.drain(make([]byte, 4))
	select {
	case name := <-fired:
		if name != "chunk-1" {
			t.Fatalf("expected chunk-1 mark, got %q", name)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for mark")
	}
}

func TestPlaybackQueueClearReleasesMarks(t *testing.T) {
	q := playbackQueue{}
	q.push(make([]byte, 1024))

	fired := make(chan struct{})
	q.mark("pending", func(string) { close(fired) })
	q.clear()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("expected clear to release pending mark")
	}

	if len(q.audio) != 0 || len(q.marks) != 0 {
		t.Fatalf("expected cleared queue, got %d bytes and %d marks", len(q.audio), len(q.marks))
	}
}
