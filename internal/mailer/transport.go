package mailer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/sungwon/notification-relay/internal/metrics"
)

// Transport sends one HTML email.
type Transport interface {
	Send(ctx context.Context, to, subject, html string) (*DeliveryResult, error)
}

// DeliveryResult describes an accepted message.
type DeliveryResult struct {
	MessageID string    `json:"messageId"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sentAt"`
}

// Config holds the SMTP account used for all outbound mail.
type Config struct {
	User     string
	Password string
	From     string
	Host     string
	Port     int
	TLS      string
	Timeout  time.Duration
}

// client is the subset of *mail.Client the transport uses.
type client interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type clientFactory func(cfg Config) (client, error)

// SMTPTransport owns the single mail session of the process. The session is
// created on the first Send, at most once; if creation fails the same error
// is returned by every later Send.
type SMTPTransport struct {
	cfg       Config
	log       zerolog.Logger
	newClient clientFactory

	once    sync.Once
	client  client
	initErr error

	// serializes sends on the shared client
	sendMu sync.Mutex
}

// Option customises an SMTPTransport.
type Option func(*SMTPTransport)

// withClientFactory replaces the go-mail client constructor.
func withClientFactory(f clientFactory) Option {
	return func(t *SMTPTransport) {
		t.newClient = f
	}
}

// NewSMTPTransport creates a transport for cfg. No connection is made and no
// credential is checked until the first Send.
func NewSMTPTransport(cfg Config, log zerolog.Logger, opts ...Option) *SMTPTransport {
	t := &SMTPTransport{
		cfg:       cfg,
		log:       log,
		newClient: newGoMailClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *SMTPTransport) init() (client, error) {
	t.once.Do(func() {
		t.log.Info().
			Str("host", t.cfg.Host).
			Int("port", t.cfg.Port).
			Bool("user_set", t.cfg.User != "").
			Bool("password_set", t.cfg.Password != "").
			Msg("initializing mail transport")

		var missing []string
		if t.cfg.User == "" {
			missing = append(missing, "EMAIL_USER")
		}
		if t.cfg.Password == "" {
			missing = append(missing, "EMAIL_PASS")
		}
		if len(missing) > 0 {
			t.initErr = &ConfigurationError{Missing: missing}
			t.log.Error().Err(t.initErr).Msg("mail transport unavailable")
			return
		}

		c, err := t.newClient(t.cfg)
		if err != nil {
			t.initErr = fmt.Errorf("create mail client: %w", err)
			t.log.Error().Err(err).Msg("mail transport unavailable")
			return
		}
		t.client = c
		t.log.Info().Msg("mail transport initialized")
	})
	return t.client, t.initErr
}

// Send delivers html to a single recipient.
func (t *SMTPTransport) Send(ctx context.Context, to, subject, html string) (*DeliveryResult, error) {
	c, err := t.init()
	if err != nil {
		metrics.MailSendTotal.WithLabelValues("failure", KindOf(err)).Inc()
		return nil, err
	}

	msg, err := t.buildMessage(to, subject, html)
	if err != nil {
		te := &TransportError{Kind: KindRejected, Err: err}
		metrics.MailSendTotal.WithLabelValues("failure", string(te.Kind)).Inc()
		return nil, te
	}

	start := time.Now()
	t.sendMu.Lock()
	err = c.DialAndSendWithContext(ctx, msg)
	t.sendMu.Unlock()
	metrics.MailSendDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		te := classify(err)
		metrics.MailSendTotal.WithLabelValues("failure", string(te.Kind)).Inc()
		t.log.Error().Err(err).Str("to", to).Str("kind", string(te.Kind)).Msg("failed to send email")
		return nil, te
	}

	result := &DeliveryResult{
		MessageID: msg.GetMessageID(),
		Recipient: to,
		SentAt:    time.Now().UTC(),
	}
	metrics.MailSendTotal.WithLabelValues("success", "").Inc()
	t.log.Info().Str("to", to).Str("message_id", result.MessageID).Msg("email sent")
	return result, nil
}

func (t *SMTPTransport) buildMessage(to, subject, html string) (*mail.Msg, error) {
	from := t.cfg.From
	if from == "" {
		from = t.cfg.User
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	m.Subject(subject)
	m.SetMessageID()
	m.SetDate()
	m.SetBodyString(mail.TypeTextHTML, html)
	return m, nil
}

func newGoMailClient(cfg Config) (client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Password),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}

	switch cfg.TLS {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "opportunistic":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	return mail.NewClient(cfg.Host, opts...)
}
