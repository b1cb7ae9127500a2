// Package delivery hands the rendered digest to an email transport.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Email is one rendered digest ready to send.
type Email struct {
	From     string
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
	// ItemCount lets a deliverer apply its empty-digest policy.
	ItemCount int
}

// Deliverer sends a digest email and returns the transport's message id.
// The engine only distinguishes success from failure; failure reasons are
// opaque beyond the error text.
type Deliverer interface {
	Deliver(ctx context.Context, email Email) (string, error)
}

// DryRun prints the email instead of sending it. Used by --dry-run and the
// preview command.
type DryRun struct {
	Out io.Writer
}

// Deliver writes the email to Out and reports success with a synthetic
// message id.
func (d *DryRun) Deliver(_ context.Context, email Email) (string, error) {
	if len(email.To) == 0 {
		return "", errors.New("no recipients configured")
	}

	fmt.Fprintf(d.Out, "DRY RUN — email would be sent:\n")
	fmt.Fprintf(d.Out, "  From: %s\n", email.From)
	for _, to := range email.To {
		fmt.Fprintf(d.Out, "  To: %s\n", to)
	}
	fmt.Fprintf(d.Out, "  Subject: %s\n", email.Subject)
	fmt.Fprintf(d.Out, "  Body: %d chars text, %d chars html\n", len(email.TextBody), len(email.HTMLBody))

	return "dry-run-" + uuid.NewString(), nil
}
