package mailer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/socialauth/internal/server/models"
)

// WriterSender writes the rendered message to w instead of relaying it.
// It is the transport used when no SMTP host is configured, so local
// environments can read codes off stderr.
type WriterSender struct {
	mu   sync.Mutex
	w    io.Writer
	from string
}

func NewWriterSender(w io.Writer, from string) *WriterSender {
	return &WriterSender{w: w, from: from}
}

func (s *WriterSender) SendOTP(_ context.Context, email, code string, purpose models.OTPPurpose) error {
	msg, err := buildMessage(s.from, email, code, purpose)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "----- outgoing mail -----\n%s\n-------------------------\n", msg); err != nil {
		return fmt.Errorf("write mail: %w", err)
	}
	return nil
}
