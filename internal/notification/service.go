// Package notification renders and dispatches the transactional emails the
// product sends: processing-fee notices during withdrawal and account
// verification mail.
package notification

import (
	"fmt"

	"qfs/pkg/errors"
	"qfs/pkg/logger"
)

// Sender delivers one rendered message. pkg/mailer satisfies it in
// production; tests substitute a recording stub.
type Sender interface {
	Send(to, subject, body string) error
}

// Key names a notice template.
type Key string

const (
	KeyServiceFee     Key = "serviceFee"
	KeyTaxFee         Key = "taxFee"
	KeyFinalClearance Key = "finalClearance"
)

type template struct {
	subject string
	body    string
}

// Params carries the per-message substitutions. Name is the recipient's
// display name; Amount is the fee rendered as a dollar string.
type Params struct {
	Name   string
	Amount string
}

var templates = map[Key]template{
	KeyServiceFee: {
		subject: "Service Fee Required - Quantum Financial System",
		body: "Dear %s,\n\n" +
			"A service fee of %s is required to continue processing your request. " +
			"Please contact support with your payment confirmation to proceed.\n\n" +
			"Quantum Financial System",
	},
	KeyTaxFee: {
		subject: "Tax Clearance Fee Required - Quantum Financial System",
		body: "Dear %s,\n\n" +
			"Your withdrawal has reached the tax clearance stage. A tax clearance " +
			"fee of %s is required before your funds can be released. Please " +
			"contact support with your payment confirmation to proceed.\n\n" +
			"Quantum Financial System",
	},
	KeyFinalClearance: {
		subject: "Final Clearance Fee Required - Quantum Financial System",
		body: "Dear %s,\n\n" +
			"Your withdrawal is in its final clearance stage. A final clearance " +
			"fee of %s is required to complete the release of your funds. Please " +
			"contact support with your payment confirmation to proceed.\n\n" +
			"Quantum Financial System",
	},
}

type Service struct {
	sender Sender
	logger logger.Logger
}

func NewService(sender Sender, log logger.Logger) *Service {
	return &Service{sender: sender, logger: log}
}

// Send renders the template for key and delivers it. The error is returned
// to the caller; any at-most-once guarantee belongs to the caller's own
// state (the withdrawal case keeps the sent flags).
func (s *Service) Send(key Key, recipient string, params Params) error {
	tpl, ok := templates[key]
	if !ok {
		return fmt.Errorf("%w: unknown notice %q", errors.ErrNoticeDispatch, key)
	}

	body := fmt.Sprintf(tpl.body, params.Name, params.Amount)
	if err := s.sender.Send(recipient, tpl.subject, body); err != nil {
		s.logger.Error("Notice dispatch failed", map[string]interface{}{
			"key":       string(key),
			"recipient": recipient,
			"error":     err.Error(),
		})
		return errors.Wrap(err, "failed to dispatch notice")
	}

	s.logger.Info("Notice dispatched", map[string]interface{}{
		"key":       string(key),
		"recipient": recipient,
	})
	return nil
}

// SendVerification delivers the email-verification message for a new
// account.
func (s *Service) SendVerification(recipient, name, link string) error {
	subject := "Verify your email - Quantum Financial System"
	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"Welcome to Quantum Financial System. Please verify your email "+
			"address by following the link below:\n\n%s\n\n"+
			"The link expires in 24 hours. If you did not create this account, "+
			"ignore this message.\n\n"+
			"Quantum Financial System",
		name, link,
	)

	if err := s.sender.Send(recipient, subject, body); err != nil {
		s.logger.Error("Verification email failed", map[string]interface{}{
			"recipient": recipient,
			"error":     err.Error(),
		})
		return errors.Wrap(err, "failed to send verification email")
	}
	return nil
}
