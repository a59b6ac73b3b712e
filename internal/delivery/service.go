package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/notification-relay/internal/logger"
	"github.com/sungwon/notification-relay/internal/mailer"
	"github.com/sungwon/notification-relay/internal/metrics"
	"github.com/sungwon/notification-relay/internal/storage"
)

// auditWriteTimeout bounds an audit append once the caller's context is
// already done, so a timed-out send still leaves its failed record.
const auditWriteTimeout = 5 * time.Second

// Auditor appends delivery attempts to the audit log.
type Auditor interface {
	Append(ctx context.Context, rec storage.AuditRecord) (uuid.UUID, error)
}

// Request contains the data needed to send one email and audit it.
type Request struct {
	To       string
	Subject  string
	HTML     string
	Metadata json.RawMessage
	Source   storage.Source
}

// Service sends an email and records exactly one audit record per attempt.
// Both the queue worker and the HTTP send endpoint go through it.
type Service struct {
	transport mailer.Transport
	audit     Auditor
	log       zerolog.Logger
}

// NewService creates a delivery Service.
func NewService(transport mailer.Transport, audit Auditor, log zerolog.Logger) *Service {
	return &Service{
		transport: transport,
		audit:     audit,
		log:       log,
	}
}

// Deliver sends req through the transport and appends a sent or failed
// audit record. Audit write failures are logged and counted but never
// returned; the returned error is the transport's.
func (s *Service) Deliver(ctx context.Context, req Request) (*mailer.DeliveryResult, error) {
	log := s.logFor(ctx)

	result, err := s.transport.Send(ctx, req.To, req.Subject, req.HTML)
	if err != nil {
		log.Error().Err(err).
			Str("to", req.To).
			Str("kind", mailer.KindOf(err)).
			Msg("email send failed")
		s.append(ctx, req, storage.StatusFailed, err)
		return nil, fmt.Errorf("send email: %w", err)
	}

	s.append(ctx, req, storage.StatusSent, nil)
	return result, nil
}

// RecordFailure appends a failed audit record for an attempt that never
// reached the transport, such as an unparseable message.
func (s *Service) RecordFailure(ctx context.Context, req Request, cause error) {
	s.append(ctx, req, storage.StatusFailed, cause)
}

func (s *Service) append(ctx context.Context, req Request, status storage.Status, cause error) {
	log := s.logFor(ctx)

	rec := storage.AuditRecord{
		To:       req.To,
		Subject:  req.Subject,
		HTML:     req.HTML,
		Status:   status,
		Metadata: req.Metadata,
		Source:   req.Source,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
		defer cancel()
	}

	id, err := s.audit.Append(writeCtx, rec)
	if err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		log.Error().Err(err).
			Str("to", req.To).
			Str("status", string(status)).
			Msg("failed to append audit record")
		return
	}

	metrics.AuditRecordsTotal.WithLabelValues(string(status), string(req.Source)).Inc()
	log.Debug().
		Stringer("audit_id", id).
		Str("status", string(status)).
		Msg("audit record appended")
}

// logFor returns the service logger tagged with the request's correlation id.
func (s *Service) logFor(ctx context.Context) zerolog.Logger {
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		return s.log.With().Str("correlation_id", id).Logger()
	}
	return s.log
}
