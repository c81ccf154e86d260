package application

import (
	"sync"

	"voicechat/internal/domain"
)

// ConversationLog is the append-only list of finalized turns.
type ConversationLog struct {
	mu       sync.RWMutex
	messages []domain.ChatMessage
}

func NewConversationLog() *ConversationLog {
	return &ConversationLog{
		messages: make([]domain.ChatMessage, 0),
	}
}

func (l *ConversationLog) Append(msgs ...domain.ChatMessage) {
	if len(msgs) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msgs...)
}

// Messages returns a copy in display order.
func (l *ConversationLog) Messages() []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *ConversationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
