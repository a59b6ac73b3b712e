package mailer

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"

	"github.com/wneessen/go-mail"
)

// ErrMissingCredentials is wrapped by ConfigurationError.
var ErrMissingCredentials = errors.New("EMAIL_USER and EMAIL_PASS must be set")

// ConfigurationError reports a transport that cannot be built from its
// configuration. It is returned by every Send until the process restarts.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "mail transport configuration: missing " + strings.Join(e.Missing, ", ")
}

func (e *ConfigurationError) Unwrap() error {
	return ErrMissingCredentials
}

// Kind tags the cause of a TransportError.
type Kind string

const (
	KindAuth     Kind = "auth"
	KindNetwork  Kind = "network"
	KindRejected Kind = "rejected"
	KindTimeout  Kind = "timeout"
	KindUnknown  Kind = "unknown"
)

// TransportError wraps a failed delivery with its classified kind.
type TransportError struct {
	Kind      Kind
	Temporary bool
	Err       error
}

func (e *TransportError) Error() string {
	return "mail transport (" + string(e.Kind) + "): " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether err is a TransportError that may succeed if
// attempted again. Callers currently treat every failure alike.
func IsTemporary(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary
	}
	return false
}

// KindOf returns the kind of a TransportError, "config" for a
// ConfigurationError and "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return "config"
	}
	var te *TransportError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	return string(KindUnknown)
}

// classify converts an error from the SMTP client into a TransportError.
func classify(err error) *TransportError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Temporary: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &TransportError{Kind: KindNetwork, Temporary: true, Err: err}
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code == 530 || tpErr.Code == 534 || tpErr.Code == 535:
			return &TransportError{Kind: KindAuth, Err: err}
		case tpErr.Code >= 400 && tpErr.Code < 500:
			return &TransportError{Kind: KindRejected, Temporary: true, Err: err}
		case tpErr.Code >= 500:
			return &TransportError{Kind: KindRejected, Err: err}
		}
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		kind := KindUnknown
		if sendErr.Reason == mail.ErrSMTPRcptTo || sendErr.Reason == mail.ErrSMTPMailFrom {
			kind = KindRejected
		}
		return &TransportError{Kind: kind, Temporary: sendErr.IsTemp(), Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &TransportError{Kind: KindTimeout, Temporary: true, Err: err}
		}
		return &TransportError{Kind: KindNetwork, Temporary: true, Err: err}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "auth"):
		return &TransportError{Kind: KindAuth, Err: err}
	case strings.Contains(lower, "dial"), strings.Contains(lower, "connection"):
		return &TransportError{Kind: KindNetwork, Temporary: true, Err: err}
	}

	return &TransportError{Kind: KindUnknown, Err: err}
}
