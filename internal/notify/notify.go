// Package notify defines the outbound notification transports used by the
// communications agent: direct email plus a broadcast channel for fan-out.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Message is one rendered notification.
type Message struct {
	Subject    string
	Body       string
	Recipients []string
}

// EmailSender delivers a message to explicit recipients.
type EmailSender interface {
	SendEmail(ctx context.Context, msg *Message) error
}

// Broadcaster publishes a message to a fan-out topic with no explicit
// recipient list.
type Broadcaster interface {
	Broadcast(ctx context.Context, subject, body string) error
}

// Transports bundles the two channels handed to communications.
type Transports struct {
	Email     EmailSender
	Broadcast Broadcaster
}

// LogTransports returns transports that write notifications to the logger
// instead of sending them. Used when no delivery backend is configured.
func LogTransports(logger *slog.Logger) *Transports {
	lt := &LogTransport{logger: logger}
	return &Transports{Email: lt, Broadcast: lt}
}

// LogTransport records notifications and writes them to the log.
type LogTransport struct {
	mu     sync.Mutex
	logger *slog.Logger

	Sent []Message
}

var (
	_ EmailSender = (*LogTransport)(nil)
	_ Broadcaster = (*LogTransport)(nil)
)

func (t *LogTransport) SendEmail(_ context.Context, msg *Message) error {
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("no recipients")
	}
	t.record(*msg)
	if t.logger != nil {
		t.logger.Info("notification email", "subject", msg.Subject, "recipients", msg.Recipients)
	}
	return nil
}

func (t *LogTransport) Broadcast(_ context.Context, subject, body string) error {
	t.record(Message{Subject: subject, Body: body})
	if t.logger != nil {
		t.logger.Info("notification broadcast", "subject", subject)
	}
	return nil
}

// Messages returns a copy of everything recorded so far.
func (t *LogTransport) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.Sent))
	copy(out, t.Sent)
	return out
}

func (t *LogTransport) record(msg Message) {
	t.mu.Lock()
	t.Sent = append(t.Sent, msg)
	t.mu.Unlock()
}
