package application

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voicechat/internal/domain"
)

// TranscriptAggregator rebuilds whole turns from incremental transcription
// fragments. It is confined to the session event loop.
type TranscriptAggregator struct {
	user  strings.Builder
	model strings.Builder

	maxTurnBytes int
	truncated    bool
	now          func() time.Time
	logger       *slog.Logger
}

// NewTranscriptAggregator creates an aggregator. maxTurnBytes caps each
// role's text per turn; zero means unbounded.
func NewTranscriptAggregator(maxTurnBytes int, logger *slog.Logger) *TranscriptAggregator {
	return &TranscriptAggregator{
		maxTurnBytes: maxTurnBytes,
		now:          time.Now,
		logger:       logger,
	}
}

// WithClock replaces the timestamp source.
func (a *TranscriptAggregator) WithClock(now func() time.Time) *TranscriptAggregator {
	a.now = now
	return a
}

func (a *TranscriptAggregator) AppendUser(fragment string) {
	a.append(&a.user, domain.RoleUser, fragment)
}

func (a *TranscriptAggregator) AppendModel(fragment string) {
	a.append(&a.model, domain.RoleModel, fragment)
}

func (a *TranscriptAggregator) append(b *strings.Builder, role domain.Role, fragment string) {
	if a.maxTurnBytes > 0 && b.Len()+len(fragment) > a.maxTurnBytes {
		if !a.truncated {
			a.logger.Warn("turn transcript exceeds cap, dropping fragments",
				"role", role,
				"max_bytes", a.maxTurnBytes,
			)
			a.truncated = true
		}
		return
	}
	b.WriteString(fragment)
}

// Pending reports the untrimmed text accumulated so far for each role.
func (a *TranscriptAggregator) Pending() (user, model string) {
	return a.user.String(), a.model.String()
}

// Discard drops any partial turn without emitting messages.
func (a *TranscriptAggregator) Discard() {
	a.user.Reset()
	a.model.Reset()
	a.truncated = false
}

// FinalizeTurn returns one message per role with non-empty trimmed text,
// user first, and always resets both accumulators.
func (a *TranscriptAggregator) FinalizeTurn() []domain.ChatMessage {
	userText := strings.TrimSpace(a.user.String())
	modelText := strings.TrimSpace(a.model.String())

	a.user.Reset()
	a.model.Reset()
	a.truncated = false

	now := a.now()
	messages := make([]domain.ChatMessage, 0, 2)
	if userText != "" {
		messages = append(messages, newChatMessage(domain.RoleUser, userText, now))
	}
	if modelText != "" {
		messages = append(messages, newChatMessage(domain.RoleModel, modelText, now))
	}
	return messages
}

func newChatMessage(role domain.Role, text string, at time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        fmt.Sprintf("%s-%d", role, at.UnixNano()),
		Role:      role,
		Text:      text,
		CreatedAt: at,
	}
}
