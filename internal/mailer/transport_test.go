package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

type fakeClient struct {
	mu   sync.Mutex
	err  error
	sent []*mail.Msg
}

func (f *fakeClient) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func validConfig() Config {
	return Config{User: "shop@example.com", Password: "secret", Host: "smtp.example.com", Port: 587}
}

func newTestTransport(cfg Config, fc *fakeClient, inits *atomic.Int32) *SMTPTransport {
	return NewSMTPTransport(cfg, zerolog.Nop(), withClientFactory(func(Config) (client, error) {
		if inits != nil {
			inits.Add(1)
		}
		return fc, nil
	}))
}

func TestSend_Success(t *testing.T) {
	fc := &fakeClient{}
	tr := newTestTransport(validConfig(), fc, nil)

	res, err := tr.Send(context.Background(), "a@b.com", "Order Confirmation", "<p>hi</p>")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if res.MessageID == "" {
		t.Error("expected a message id")
	}
	if res.Recipient != "a@b.com" {
		t.Errorf("expected recipient a@b.com, got %s", res.Recipient)
	}
	if len(fc.sent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(fc.sent))
	}

	msg := fc.sent[0]
	if got := msg.GetToString(); len(got) != 1 || got[0] != "<a@b.com>" {
		t.Errorf("unexpected To header: %v", got)
	}
	if got := msg.GetFromString(); len(got) != 1 || got[0] != "<shop@example.com>" {
		t.Errorf("expected From to default to the account user, got %v", got)
	}
}

func TestSend_MissingCredentialsIsSticky(t *testing.T) {
	var inits atomic.Int32
	tr := newTestTransport(Config{Host: "smtp.example.com"}, &fakeClient{}, &inits)

	for i := 0; i < 3; i++ {
		_, err := tr.Send(context.Background(), "a@b.com", "s", "h")
		var ce *ConfigurationError
		if !errors.As(err, &ce) {
			t.Fatalf("attempt %d: expected ConfigurationError, got %v", i, err)
		}
		if !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("expected errors.Is ErrMissingCredentials")
		}
		if len(ce.Missing) != 2 {
			t.Errorf("expected both credentials reported missing, got %v", ce.Missing)
		}
	}

	if inits.Load() != 0 {
		t.Errorf("expected client factory never called, got %d", inits.Load())
	}
}

func TestSend_InitializesOnceUnderConcurrentUse(t *testing.T) {
	var inits atomic.Int32
	fc := &fakeClient{}
	tr := newTestTransport(validConfig(), fc, &inits)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := tr.Send(context.Background(), fmt.Sprintf("u%d@b.com", i), "s", "h"); err != nil {
				t.Errorf("send %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if inits.Load() != 1 {
		t.Errorf("expected exactly one initialization, got %d", inits.Load())
	}
	if len(fc.sent) != 20 {
		t.Errorf("expected 20 messages, got %d", len(fc.sent))
	}
}

func TestSend_FactoryErrorIsSticky(t *testing.T) {
	var inits atomic.Int32
	tr := NewSMTPTransport(validConfig(), zerolog.Nop(), withClientFactory(func(Config) (client, error) {
		inits.Add(1)
		return nil, errors.New("bad host")
	}))

	for i := 0; i < 2; i++ {
		if _, err := tr.Send(context.Background(), "a@b.com", "s", "h"); err == nil {
			t.Fatal("expected error")
		}
	}
	if inits.Load() != 1 {
		t.Errorf("expected one initialization attempt, got %d", inits.Load())
	}
}

func TestSend_InvalidRecipient(t *testing.T) {
	tr := newTestTransport(validConfig(), &fakeClient{}, nil)

	_, err := tr.Send(context.Background(), "", "s", "h")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Kind != KindRejected {
		t.Errorf("expected kind rejected, got %s", te.Kind)
	}
}

func TestSend_ClientFailureIsClassified(t *testing.T) {
	fc := &fakeClient{err: fmt.Errorf("smtp auth: %w", &textproto.Error{Code: 535, Msg: "5.7.8 Username and Password not accepted"})}
	tr := newTestTransport(validConfig(), fc, nil)

	_, err := tr.Send(context.Background(), "a@b.com", "s", "h")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Kind != KindAuth {
		t.Errorf("expected kind auth, got %s", te.Kind)
	}
	if IsTemporary(err) {
		t.Error("expected auth failure to be permanent")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantTemp bool
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout, true},
		{"canceled", context.Canceled, KindNetwork, true},
		{"smtp 535", &textproto.Error{Code: 535, Msg: "auth failed"}, KindAuth, false},
		{"smtp 451", &textproto.Error{Code: 451, Msg: "try later"}, KindRejected, true},
		{"smtp 550", &textproto.Error{Code: 550, Msg: "no such user"}, KindRejected, false},
		{"net timeout", fmt.Errorf("dial failed: %w", timeoutErr{}), KindTimeout, true},
		{"dial text", errors.New("dial tcp: connection refused"), KindNetwork, true},
		{"unknown", errors.New("boom"), KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := classify(tt.err)
			if te.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, te.Kind)
			}
			if te.Temporary != tt.wantTemp {
				t.Errorf("expected temporary=%v, got %v", tt.wantTemp, te.Temporary)
			}
			if !errors.Is(te, tt.err) {
				t.Error("expected classified error to wrap the cause")
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" {
		t.Error("expected empty kind for nil")
	}
	if KindOf(&ConfigurationError{Missing: []string{"EMAIL_USER"}}) != "config" {
		t.Error("expected config kind")
	}
	if KindOf(fmt.Errorf("wrapped: %w", &TransportError{Kind: KindNetwork, Err: errors.New("x")})) != "network" {
		t.Error("expected network kind through wrapping")
	}
	if KindOf(errors.New("plain")) != "unknown" {
		t.Error("expected unknown kind for plain errors")
	}
}
