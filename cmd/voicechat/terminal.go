package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"voicechat/internal/domain"
)

// terminal prints finalized turns, status changes and notices. It is both a
// session observer and a notifier.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

func (t *terminal) StatusChanged(status domain.SessionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "-- %s --\n", status)
}

func (t *terminal) MessagesAppended(messages []domain.ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, msg := range messages {
		label := "you"
		if msg.Role == domain.RoleModel {
			label = "assistant"
		}
		fmt.Fprintf(t.out, "[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), label, msg.Text)
	}
}

func (t *terminal) Notify(_ context.Context, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.out, "!! %s\n", message)
	return err
}
