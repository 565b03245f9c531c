package job

import (
	"fmt"
	"sync"
	"time"
)

// LogBuffer is an append-only line buffer backing a job's log stream.
// Subscribers replay from an offset and then receive live lines until the
// buffer closes (job reached a terminal status).
type LogBuffer struct {
	mu     sync.Mutex
	lines  []string
	subs   map[int]chan string
	nextID int
	closed bool
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{
		subs: make(map[int]chan string),
	}
}

// Appendf formats and appends one line, fanning it out to live subscribers.
// A slow subscriber drops lines rather than blocking the writer.
func (b *LogBuffer) Appendf(format string, args ...any) string {
	line := fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return line
	}
	b.lines = append(b.lines, line)
	for _, ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
	return line
}

// Lines returns a copy of the buffered lines starting at offset.
func (b *LogBuffer) Lines(offset int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(b.lines) {
		return nil
	}
	return append([]string(nil), b.lines[offset:]...)
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Subscribe returns a channel that replays buffered lines from offset and
// then streams live appends. The channel closes when the buffer closes or
// the returned cancel func runs.
func (b *LogBuffer) Subscribe(offset int) (<-chan string, func()) {
	b.mu.Lock()

	replay := b.replayLocked(offset)
	out := make(chan string, len(replay)+64)
	for _, line := range replay {
		out <- line
	}

	if b.closed {
		close(out)
		b.mu.Unlock()
		return out, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = out
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return out, cancel
}

func (b *LogBuffer) replayLocked(offset int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(b.lines) {
		return nil
	}
	return b.lines[offset:]
}

// Close marks the buffer terminal and closes all subscriber channels.
func (b *LogBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
