package status

import (
	"context"
	"strings"
	"testing"
)

type recordingSink struct {
	calls []string
}

func (r *recordingSink) Notify(_ context.Context, chatID, text string, format Format, preview bool) error {
	r.calls = append(r.calls, text)
	return nil
}

func TestChunkText_ShortPassesThrough(t *testing.T) {
	chunks := chunkText("hello", 3900)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestChunkText_SplitsLongPayload(t *testing.T) {
	text := strings.Repeat("a", 5000)
	chunks := chunkText(text, 3900)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0])+len(chunks[1]) != 5000 {
		t.Error("chunking lost bytes")
	}
}

func TestChunkText_PrefersNewlineBoundary(t *testing.T) {
	text := strings.Repeat("x", 10) + "\n" + strings.Repeat("y", 10)
	chunks := chunkText(text, 11)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Errorf("expected first chunk to end at newline, got %q", chunks[0])
	}
}

func TestChunkingSink_DeliversAllChunks(t *testing.T) {
	rs := &recordingSink{}
	cs := &ChunkingSink{Underlying: rs}
	text := strings.Repeat("b", 8000)
	if err := cs.Notify(context.Background(), "chat1", text, FormatPlain, false); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(rs.calls) < 2 {
		t.Errorf("expected multiple chunked calls, got %d", len(rs.calls))
	}
}

func TestMultiSink_FansOutToAll(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := &MultiSink{Sinks: []Sink{a, b}}
	if err := m.Notify(context.Background(), "chat1", "hi", FormatPlain, true); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(a.calls) != 1 || len(b.calls) != 1 {
		t.Errorf("expected both sinks notified, got a=%d b=%d", len(a.calls), len(b.calls))
	}
}

type stubLogger struct {
	last string
}

func (s *stubLogger) Infof(format string, args ...interface{}) {
	s.last = format
}

func TestLogSink_Notify(t *testing.T) {
	l := &stubLogger{}
	sink := &LogSink{Logger: l}
	if err := sink.Notify(context.Background(), "chat1", "hi", FormatPlain, false); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if l.last == "" {
		t.Error("expected logger to be invoked")
	}
}

func TestMaskCookie(t *testing.T) {
	got := MaskCookie("abcdefghijklmnop")
	if got != "abcdef…mnop" {
		t.Errorf("MaskCookie = %q", got)
	}
}

func TestMaskCookie_ShortValueFullyMasked(t *testing.T) {
	got := MaskCookie("short")
	if strings.ContainsAny(got, "shortSHORT") {
		t.Errorf("expected fully masked output, got %q", got)
	}
}
