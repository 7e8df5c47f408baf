// Package status normalizes the scheduler's results and notifications
// into a single sink interface the chat front-end (out of scope here,
// spec.md §1) consumes. The orchestrator never talks to a chat transport
// directly — it emits through a Sink, matching the teacher's pattern of
// routing all output through the levelled logger rather than ad hoc
// fmt.Printf calls scattered through business logic.
package status

import (
	"context"
	"fmt"
	"strings"
)

// Format names the rendering hint passed alongside text, mirroring
// common chat-platform conventions (plain text vs light markup).
type Format string

const (
	FormatPlain    Format = "plain"
	FormatMarkdown Format = "markdown"
)

// Sink delivers one notification to chat_id. preview controls whether a
// link preview should be suppressed (some chat platforms render an
// unwanted embed for booking confirmation links).
type Sink interface {
	Notify(ctx context.Context, chatID, text string, format Format, preview bool) error
}

// maxChunkLen is the target maximum payload length a single Notify call
// should carry; a sink wrapped in ChunkingSink never exceeds it.
const maxChunkLen = 3900

// ChunkingSink wraps an underlying Sink and splits any text longer than
// maxChunkLen into multiple Notify calls, breaking on line boundaries
// where possible so a chunk never splits mid-sentence unnecessarily.
type ChunkingSink struct {
	Underlying Sink
}

// Notify implements Sink, chunking text before delegating.
func (c *ChunkingSink) Notify(ctx context.Context, chatID, text string, format Format, preview bool) error {
	for _, chunk := range chunkText(text, maxChunkLen) {
		if err := c.Underlying.Notify(ctx, chatID, chunk, format, preview); err != nil {
			return err
		}
	}
	return nil
}

// chunkText splits text into pieces no longer than limit, preferring to
// break at a newline near the limit over an arbitrary byte offset.
func chunkText(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := strings.LastIndexByte(text[:limit], '\n'); idx > limit/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// MultiSink fans a single notification out to every member sink,
// collecting (not short-circuiting on) the first error so one broken
// delivery channel never silences the others.
type MultiSink struct {
	Sinks []Sink
}

// Notify implements Sink, delivering to every member sink.
func (m *MultiSink) Notify(ctx context.Context, chatID, text string, format Format, preview bool) error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.Notify(ctx, chatID, text, format, preview); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Logger is the subset of *applog.Logger that LogSink needs, kept as an
// interface so status doesn't import applog directly and tests can stub
// it trivially.
type Logger interface {
	Infof(format string, args ...interface{})
}

// LogSink is a Sink that only logs notifications, useful in tests and as
// a MultiSink member for audit trails alongside the real chat sink.
type LogSink struct {
	Logger Logger
}

// Notify implements Sink by logging the notification.
func (l *LogSink) Notify(_ context.Context, chatID, text string, format Format, preview bool) error {
	l.Logger.Infof("status: chat=%s format=%s preview=%v text=%s", chatID, format, preview, text)
	return nil
}

// MaskCookie renders a cookie value as "head6…tail4" for the reminder
// notification spec.md §4.G requires, never exposing the full token.
func MaskCookie(value string) string {
	const headLen, tailLen = 6, 4
	if len(value) <= headLen+tailLen {
		return strings.Repeat("*", len(value))
	}
	return fmt.Sprintf("%s…%s", value[:headLen], value[len(value)-tailLen:])
}
