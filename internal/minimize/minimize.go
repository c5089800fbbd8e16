// Package minimize reduces chat sessions before they are persisted.
package minimize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"chat-sync/internal/domain"
)

const (
	DefaultMaxMessageLength = 500
	DefaultSummaryLength    = 200

	// UntitledTitle replaces an absent session title.
	UntitledTitle = "Untitled Chat"
)

// Options controls the minimization policy.
type Options struct {
	// Optimize enables truncation and system-message filtering. When false
	// sessions are only normalized into the durable shape.
	Optimize           bool
	MaxMessageLength   int
	SummaryLength      int
	KeepSystemMessages bool
	KeepMetadata       bool
}

// DefaultOptions returns the policy used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Optimize:           true,
		MaxMessageLength:   DefaultMaxMessageLength,
		SummaryLength:      DefaultSummaryLength,
		KeepSystemMessages: true,
		KeepMetadata:       true,
	}
}

// Minimizer applies Options to raw sessions.
type Minimizer struct {
	opts Options
	now  func() time.Time
}

// New creates a Minimizer. A nil clock means time.Now.
func New(opts Options, now func() time.Time) *Minimizer {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}
	if opts.SummaryLength <= 0 {
		opts.SummaryLength = DefaultSummaryLength
	}
	if limit := MaxSummaryLength(opts.MaxMessageLength); opts.SummaryLength > limit {
		opts.SummaryLength = limit
	}
	if now == nil {
		now = time.Now
	}
	return &Minimizer{opts: opts, now: now}
}

// Options returns the effective policy.
func (m *Minimizer) Options() Options {
	return m.opts
}

// Minimize converts raw into its durable form. It never fails: a session
// without messages yields an empty message list.
func (m *Minimizer) Minimize(raw domain.RawSession) domain.MinimizedSession {
	msgs := make([]domain.ReducedMessage, 0, len(raw.Messages))
	for _, msg := range raw.Messages {
		if reduced, ok := m.reduceMessage(msg); ok {
			msgs = append(msgs, reduced)
		}
	}

	title := raw.Title
	if title == "" {
		title = UntitledTitle
	}
	lastModified := raw.CreatedAt
	if raw.UpdatedAt != nil {
		lastModified = *raw.UpdatedAt
	}

	out := domain.MinimizedSession{
		ID:           raw.ID,
		Title:        title,
		CreatedAt:    raw.CreatedAt,
		LastModified: lastModified,
		UserID:       raw.UserID,
		Messages:     msgs,
		MessageCount: len(msgs),
		Model:        raw.Model,
		LastSyncedAt: m.now().UTC(),
	}
	if m.opts.KeepMetadata && raw.Key != "" {
		out.Metadata = &domain.Metadata{SourceKey: raw.Key, Fields: raw.Extra}
	}
	return out
}

func (m *Minimizer) reduceMessage(msg domain.RawMessage) (domain.ReducedMessage, bool) {
	switch msg.Role {
	case domain.RoleUser:
	case domain.RoleAssistant:
	case domain.RoleSystem:
		if m.opts.Optimize && !m.opts.KeepSystemMessages {
			return domain.ReducedMessage{}, false
		}
	default:
		return domain.ReducedMessage{}, false
	}

	out := domain.ReducedMessage{Role: msg.Role}
	if text, ok := msg.Text(); ok {
		out.Content = text
	} else {
		out.RawContent = domain.Payload(msg.Content)
	}
	if msg.Role == domain.RoleAssistant {
		if m.opts.Optimize {
			out.Content = m.truncate(out.Content)
		}
		out.FunctionCall = msg.FunctionCall
		out.ToolCalls = msg.ToolCalls
	}
	return out, true
}

// truncate applies Truncate with the configured lengths. Content is kept
// when the truncated form would be longer, which only happens when
// MaxMessageLength is below the width of the annotation.
func (m *Minimizer) truncate(content string) string {
	out := Truncate(content, m.opts.MaxMessageLength, m.opts.SummaryLength)
	if out != content && utf8.RuneCountInString(out) > utf8.RuneCountInString(content) {
		return content
	}
	return out
}

// MaxSummaryLength is the largest summary length for which truncating
// content longer than max never lengthens it. The annotation widens by one
// character at most per extra character of content, so content of max+1
// characters is the tightest case.
func MaxSummaryLength(max int) int {
	n := max + 1 - utf8.RuneCountInString(Annotation(max+1))
	if n < 0 {
		return 0
	}
	return n
}

// Truncate returns content unchanged when it has at most max characters,
// otherwise its first summary characters followed by a note carrying the
// original length. Lengths count runes.
func Truncate(content string, max, summary int) string {
	n := utf8.RuneCountInString(content)
	if n <= max {
		return content
	}
	cut := len(content)
	i := 0
	for pos := range content {
		if i == summary {
			cut = pos
			break
		}
		i++
	}
	return content[:cut] + Annotation(n)
}

// Annotation is the suffix appended to truncated assistant content.
func Annotation(originalLength int) string {
	return fmt.Sprintf("... [simplified content, original length: %d characters]", originalLength)
}

// SerializedSize returns the size of v encoded as JSON without HTML escaping.
// Values that cannot be encoded count as zero.
func SerializedSize(v any) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return 0
	}
	return buf.Len() - 1
}
