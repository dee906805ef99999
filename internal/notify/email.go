package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/rapidworks/expertdesk/internal/model"
)

// SendMailFunc matches net/smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails the party who has to act next: the expert on new tasks
// and acceptances, the customer on new estimates.
type EmailNotifier struct {
	cfg      model.SMTPConfig
	sendMail SendMailFunc
	now      func() time.Time
}

// NewEmailNotifier creates a notifier sending through cfg's SMTP server.
func NewEmailNotifier(cfg model.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}
}

// Name implements Sender.
func (n *EmailNotifier) Name() string { return "email" }

// Send composes and sends the mail for ev, if ev has a recipient.
func (n *EmailNotifier) Send(ctx context.Context, ev Event) error {
	if n.cfg.Host == "" {
		return nil
	}
	to, subject, body, ok := n.content(ev)
	if !ok || to == "" {
		return nil
	}

	msg, err := n.compose(to, subject, body)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.sendMail(addr, auth, n.cfg.From, []string{to}, msg)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("sending mail to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending mail to %s: %w", to, ctx.Err())
	}
}

func (n *EmailNotifier) content(ev Event) (to, subject, body string, ok bool) {
	t := ev.Task
	switch ev.Kind {
	case TaskCreated:
		return t.ExpertEmail,
			"New task request: " + t.TaskName,
			fmt.Sprintf("%s requested \"%s\".\n\n%s\n", t.UserName, t.TaskName, t.TaskDescription),
			true
	case EstimateSent:
		if t.Estimate == nil {
			return "", "", "", false
		}
		return t.UserEmail,
			"Estimate for " + t.TaskName,
			fmt.Sprintf("%s sent an estimate for \"%s\".\n\n%s\n", t.ExpertName, t.TaskName, model.RenderPriceOffer(*t.Estimate)),
			true
	case EstimateAccepted:
		return t.ExpertEmail,
			"Estimate accepted: " + t.TaskName,
			fmt.Sprintf("%s accepted your estimate for \"%s\". Work can start.\n", t.UserName, t.TaskName),
			true
	case EstimateDeclined:
		var b strings.Builder
		fmt.Fprintf(&b, "%s declined your estimate for \"%s\".\n", t.UserName, t.TaskName)
		if t.DeclineFeedback != "" {
			fmt.Fprintf(&b, "\nFeedback: %s\n", t.DeclineFeedback)
		}
		return t.ExpertEmail, "Estimate declined: " + t.TaskName, b.String(), true
	default:
		return "", "", "", false
	}
}

func (n *EmailNotifier) compose(to, subject, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(n.now())
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Name: "Expert Desk", Address: n.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating mail writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("writing mail body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing mail writer: %w", err)
	}
	return buf.Bytes(), nil
}
