package application

import "voicechat/internal/domain"

// SessionObserver is notified from the session's event loop; implementations
// must not block.
type SessionObserver interface {
	StatusChanged(status domain.SessionStatus)
	MessagesAppended(messages []domain.ChatMessage)
}
