// Package mail delivers notification emails over SMTP, attaching an iCalendar
// invite when the notification carries an event.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/lamcalendar/notifier/internal/platform/logging"
	"github.com/lamcalendar/notifier/internal/platform/timeouts"
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"go.uber.org/zap"
)

const (
	// InviteFilename is the attachment name used for calendar invites.
	InviteFilename = "invite.ics"
	productID      = "-//lam-calendar//notifier//EN"
)

// SendFunc transmits one composed message. It must return once ctx ends.
type SendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// SMTPConfig configures an SMTPMailer.
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
	// Timeout bounds one whole submission: dial, greeting, every command and
	// the DATA transfer.
	Timeout time.Duration
}

// SMTPMailer composes MIME messages and hands them to an SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	host string
	send SendFunc
	now  func() time.Time
}

// Option customizes an SMTPMailer.
type Option func(*SMTPMailer)

// WithSendFunc replaces the transport, mainly for tests.
func WithSendFunc(send SendFunc) Option {
	return func(m *SMTPMailer) {
		if send != nil {
			m.send = send
		}
	}
}

// WithClock overrides the clock used for Date and DTSTAMP headers.
func WithClock(now func() time.Time) Option {
	return func(m *SMTPMailer) {
		if now != nil {
			m.now = now
		}
	}
}

// NewSMTPMailer builds a mailer for cfg.
func NewSMTPMailer(cfg SMTPConfig, opts ...Option) (*SMTPMailer, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		return nil, fmt.Errorf("smtp address is required")
	}
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeouts.SMTPSend
	}
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("parse smtp address %q: %w", cfg.Addr, err)
	}
	m := &SMTPMailer{cfg: cfg, host: host, now: time.Now}
	m.send = m.submit
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Send delivers a plain-text message.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	return m.deliver(ctx, to, subject, body, nil)
}

// SendWithEvent delivers a message with an invite.ics attachment for event.
func (m *SMTPMailer) SendWithEvent(ctx context.Context, to, subject, body string, event domain.EventSummary) error {
	return m.deliver(ctx, to, subject, body, &event)
}

func (m *SMTPMailer) deliver(ctx context.Context, to, subject, body string, event *domain.EventSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("recipient address is required")
	}
	msg, err := Compose(m.cfg.From, to, subject, body, event, m.now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	if err := m.send(ctx, m.cfg.From, []string{to}, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send to %s: %w (%v)", to, ctxErr, err)
		}
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// submit runs one SMTP session. Closing the connection when ctx ends unblocks
// any pending read, so a stalled relay cannot outlive the call.
func (m *SMTPMailer) submit(ctx context.Context, from string, to []string, msg []byte) error {
	dialer := net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read greeting: %w", err)
	}
	defer client.Close()
	client.CommandTimeout = m.cfg.Timeout
	client.SubmissionTimeout = m.cfg.Timeout

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fmt.Errorf("relay does not support AUTH")
		}
		if err := client.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(from, nil); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish data: %w", err)
	}
	return client.Quit()
}

// Compose renders a MIME message. A non-nil event adds an invite.ics part.
func Compose(from, to, subject, body string, event *domain.EventSummary, now time.Time) ([]byte, error) {
	var header gomail.Header
	header.SetDate(now)
	header.SetAddressList("From", []*gomail.Address{{Address: from}})
	header.SetAddressList("To", []*gomail.Address{{Address: to}})
	header.SetSubject(subject)

	var buf bytes.Buffer
	if event == nil {
		header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := gomail.CreateSingleInlineWriter(&buf, header)
		if err != nil {
			return nil, fmt.Errorf("create mail writer: %w", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, fmt.Errorf("write mail body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close mail writer: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := gomail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	var inline gomail.InlineHeader
	inline.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(inline)
	if err != nil {
		return nil, fmt.Errorf("create mail text part: %w", err)
	}
	if _, err := io.WriteString(tw, body); err != nil {
		return nil, fmt.Errorf("write mail body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close mail text part: %w", err)
	}

	var attachment gomail.AttachmentHeader
	attachment.SetContentType("text/calendar", map[string]string{"charset": "utf-8", "method": "PUBLISH"})
	attachment.SetFilename(InviteFilename)
	aw, err := mw.CreateAttachment(attachment)
	if err != nil {
		return nil, fmt.Errorf("create invite part: %w", err)
	}
	if err := EncodeInvite(aw, *event, now); err != nil {
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("close invite part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeInvite writes event as a single-VEVENT iCalendar object.
func EncodeInvite(w io.Writer, event domain.EventSummary, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropMethod, "PUBLISH")

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, fmt.Sprintf("event-%d@lam-calendar", event.ID))
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	if event.Duration > 0 {
		ve.Props.SetDateTime(ical.PropDateTimeEnd, event.Start.Add(event.Duration).UTC())
	}
	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	cal.Children = append(cal.Children, ve)

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode invite: %w", err)
	}
	return nil
}

// LogMailer records messages instead of sending them. It is used when no
// SMTP relay is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer returns a mailer that only logs.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logging.OrNop(logger)}
}

// Send logs the message.
func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Info("mail not sent, no smtp relay configured",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}

// SendWithEvent logs the message and the attached event id.
func (m *LogMailer) SendWithEvent(ctx context.Context, to, subject, body string, event domain.EventSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Info("mail not sent, no smtp relay configured",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int64("event_id", event.ID),
	)
	return nil
}
