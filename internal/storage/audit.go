package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Status is the outcome recorded for one delivery attempt.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Source names the entry point that produced an audit record.
type Source string

const (
	SourceQueue Source = "queue"
	SourceHTTP  Source = "http"
)

// AuditRecord is one immutable row of email_logs.
type AuditRecord struct {
	ID        uuid.UUID
	To        string
	Subject   string
	HTML      string
	Status    Status
	Metadata  json.RawMessage
	Source    Source
	Error     string
	CreatedAt time.Time
}

// Validate checks the fields the schema constrains.
func (r *AuditRecord) Validate() error {
	switch r.Status {
	case StatusSent, StatusFailed:
	default:
		return fmt.Errorf("invalid audit status %q", r.Status)
	}
	return nil
}

// rowQuerier is satisfied by *pgxpool.Pool, pgx.Tx and *pgx.Conn.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AuditStore appends delivery attempts to email_logs. It exposes no update
// or delete.
type AuditStore struct {
	db rowQuerier
}

// NewAuditStore creates an AuditStore over db.
func NewAuditStore(db rowQuerier) *AuditStore {
	return &AuditStore{db: db}
}

const insertAuditRecord = `
INSERT INTO email_logs (id, recipient, subject, html, status, metadata, source, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at`

// Append writes rec and returns its id. created_at is assigned by the
// database at write time.
func (s *AuditStore) Append(ctx context.Context, rec AuditRecord) (uuid.UUID, error) {
	if err := rec.Validate(); err != nil {
		return uuid.Nil, &StorageError{Op: "append", Err: err}
	}

	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var createdAt time.Time
	err := s.db.QueryRow(ctx, insertAuditRecord,
		id,
		rec.To,
		rec.Subject,
		rec.HTML,
		string(rec.Status),
		normalizeMetadata(rec.Metadata),
		string(rec.Source),
		pgtype.Text{String: rec.Error, Valid: rec.Error != ""},
	).Scan(&createdAt)
	if err != nil {
		return uuid.Nil, &StorageError{Op: "append", Err: err}
	}

	return id, nil
}

// normalizeMetadata returns raw when it is valid JSON, nil when empty, and a
// JSON object {"raw": "..."} otherwise so undecodable payloads are kept.
func normalizeMetadata(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(raw)})
	if err != nil {
		return nil
	}
	return wrapped
}
