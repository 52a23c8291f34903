// Package notify delivers issuance summaries to the organiser and resident.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Attachment is a file carried by a message. Inline files are referenced
// from the HTML body as cid:<Name>.
type Attachment struct {
	Name   string
	Data   []byte
	Inline bool
}

// Message is a rendered notification.
type Message struct {
	To          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Notifier sends messages. Retries, if any, belong to the implementation.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Log writes message metadata to the logger instead of sending it.
type Log struct {
	log *zap.Logger
}

// NewLog returns a notifier for development setups without SMTP.
func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

// Notify logs recipients, subject and attachment names.
func (l *Log) Notify(_ context.Context, m Message) error {
	names := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		names = append(names, a.Name)
	}
	l.log.Info("notification",
		zap.Strings("to", m.To),
		zap.String("subject", m.Subject),
		zap.Strings("attachments", names),
	)
	return nil
}
