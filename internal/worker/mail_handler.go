package worker

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"main-stack/internal/domain"
	"main-stack/internal/email"
	"main-stack/internal/queue"
)

// MailHandler entrega jobs de correo usando un email.Sender.
type MailHandler struct {
	sender email.Sender
}

func NewMailHandler(sender email.Sender) *MailHandler {
	return &MailHandler{sender: sender}
}

func (h *MailHandler) Handle(ctx context.Context, job *queue.Job) error {
	var p domain.MailPayload
	if err := job.Decode(&p); err != nil {
		return Permanent(fmt.Errorf("decode mail payload: %w", err))
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(p.To))
	if err != nil {
		return Permanent(fmt.Errorf("invalid recipient %q: %w", p.To, err))
	}
	if strings.TrimSpace(p.Subject) == "" {
		return Permanent(errors.New("mail subject is required"))
	}
	return h.sender.Send(ctx, email.Message{
		To:      addr.Address,
		Subject: p.Subject,
		Text:    p.Text,
		HTML:    p.HTML,
	})
}
