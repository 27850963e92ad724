// Package mailer delivers one-time passcodes by email.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/dmitrijs2005/socialauth/internal/server/models"
)

// Sender delivers a passcode to an address. Implementations must not log
// the code.
type Sender interface {
	SendOTP(ctx context.Context, email, code string, purpose models.OTPPurpose) error
}

var bodyTemplate = template.Must(template.New("otp").Parse(`<html>
  <body>
    <h2>{{.Heading}}</h2>
    <p>Your code is:</p>
    <h1 style="color: #4CAF50;">{{.Code}}</h1>
    <p>This code will expire in 10 minutes.</p>
    <p>If you did not request this, please ignore this email.</p>
  </body>
</html>
`))

func subjectFor(purpose models.OTPPurpose) (subject, heading string) {
	switch purpose {
	case models.OTPPurposePasswordReset:
		return "Your Password Reset Code", "Password reset requested"
	default:
		return "Your Verification Code", "Welcome!"
	}
}

// buildMessage renders an RFC 5322 HTML message carrying code.
func buildMessage(from, to, code string, purpose models.OTPPurpose) ([]byte, error) {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(from, "\r\n") {
		return nil, fmt.Errorf("invalid address")
	}

	subject, heading := subjectFor(purpose)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")

	if err := bodyTemplate.Execute(&buf, struct{ Heading, Code string }{heading, code}); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	return buf.Bytes(), nil
}
