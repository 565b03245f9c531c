package job

import (
	"strings"
	"testing"
	"time"
)

func TestLogBufferLinesOffset(t *testing.T) {
	b := NewLogBuffer()
	b.Appendf("one")
	b.Appendf("two")
	b.Appendf("three")

	if got := len(b.Lines(0)); got != 3 {
		t.Fatalf("Lines(0) = %d lines, want 3", got)
	}
	tail := b.Lines(2)
	if len(tail) != 1 || !strings.HasSuffix(tail[0], "three") {
		t.Fatalf("Lines(2) = %v, want the third line", tail)
	}
	if got := b.Lines(10); got != nil {
		t.Fatalf("Lines past end = %v, want nil", got)
	}
}

func TestLogBufferSubscribeReplaysAndStreams(t *testing.T) {
	b := NewLogBuffer()
	b.Appendf("early")

	ch, cancel := b.Subscribe(0)
	defer cancel()

	got := <-ch
	if !strings.HasSuffix(got, "early") {
		t.Fatalf("replayed %q, want the early line", got)
	}

	b.Appendf("live")
	select {
	case got = <-ch:
		if !strings.HasSuffix(got, "live") {
			t.Fatalf("streamed %q, want the live line", got)
		}
	case <-time.After(time.Second):
		t.Fatal("live line never arrived")
	}
}

func TestLogBufferCloseEndsSubscribers(t *testing.T) {
	b := NewLogBuffer()
	ch, _ := b.Subscribe(0)

	b.Close()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// Appends after close are dropped.
	b.Appendf("ghost")
	if b.Len() != 0 {
		t.Fatal("append after close retained a line")
	}
}

func TestLogBufferSubscribeAfterClose(t *testing.T) {
	b := NewLogBuffer()
	b.Appendf("kept")
	b.Close()

	ch, cancel := b.Subscribe(0)
	defer cancel()

	var lines []string
	for line := range ch {
		lines = append(lines, line)
	}
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "kept") {
		t.Fatalf("replay after close = %v, want the kept line", lines)
	}
}
