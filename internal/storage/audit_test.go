package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type fakeRow struct {
	createdAt time.Time
	err       error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*time.Time)) = r.createdAt
	return nil
}

type fakeQuerier struct {
	sql  string
	args []any
	row  fakeRow
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql = sql
	q.args = args
	return q.row
}

func TestAuditStore_Append(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{createdAt: time.Now()}}
	store := NewAuditStore(q)

	id, err := store.Append(context.Background(), AuditRecord{
		To:       "a@x.com",
		Subject:  "Order Confirmation",
		HTML:     "<p>hi</p>",
		Status:   StatusSent,
		Metadata: json.RawMessage(`{"order_number":"ORD-1"}`),
		Source:   SourceQueue,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("Append() returned nil id")
	}
	if len(q.args) != 8 {
		t.Fatalf("args = %d, want 8", len(q.args))
	}
	if q.args[0] != id {
		t.Errorf("id arg = %v, want %v", q.args[0], id)
	}
	if q.args[1] != "a@x.com" {
		t.Errorf("recipient arg = %v", q.args[1])
	}
	if q.args[4] != "sent" {
		t.Errorf("status arg = %v, want sent", q.args[4])
	}
	if got := string(q.args[5].([]byte)); got != `{"order_number":"ORD-1"}` {
		t.Errorf("metadata arg = %s", got)
	}
	if errText := q.args[7].(pgtype.Text); errText.Valid {
		t.Errorf("error arg should be NULL for sent record, got %q", errText.String)
	}
}

func TestAuditStore_AppendFailedRecord(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{createdAt: time.Now()}}
	store := NewAuditStore(q)

	fixed := uuid.New()
	id, err := store.Append(context.Background(), AuditRecord{
		ID:     fixed,
		To:     "unknown",
		Status: StatusFailed,
		Source: SourceQueue,
		Error:  "invalid JSON",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if id != fixed {
		t.Errorf("id = %v, want caller-supplied %v", id, fixed)
	}
	errText := q.args[7].(pgtype.Text)
	if !errText.Valid || errText.String != "invalid JSON" {
		t.Errorf("error arg = %+v", errText)
	}
	if q.args[5].([]byte) != nil {
		t.Errorf("metadata arg = %s, want nil", q.args[5])
	}
}

func TestAuditStore_AppendInvalidStatus(t *testing.T) {
	q := &fakeQuerier{}
	store := NewAuditStore(q)

	_, err := store.Append(context.Background(), AuditRecord{To: "a@x.com", Status: "queued"})
	if !IsStorageError(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if q.sql != "" {
		t.Error("query should not run for an invalid record")
	}
}

func TestAuditStore_AppendDatabaseError(t *testing.T) {
	dbErr := errors.New("connection refused")
	q := &fakeQuerier{row: fakeRow{err: dbErr}}
	store := NewAuditStore(q)

	id, err := store.Append(context.Background(), AuditRecord{To: "a@x.com", Status: StatusSent})
	if id != uuid.Nil {
		t.Errorf("id = %v, want nil", id)
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if se.Op != "append" {
		t.Errorf("Op = %q, want append", se.Op)
	}
	if !errors.Is(err, dbErr) {
		t.Error("StorageError should unwrap to the database error")
	}
}

func TestNormalizeMetadata(t *testing.T) {
	tests := []struct {
		name string
		in   json.RawMessage
		want string
	}{
		{name: "empty", in: nil, want: ""},
		{name: "valid object", in: json.RawMessage(`{"a":1}`), want: `{"a":1}`},
		{name: "invalid kept as raw", in: json.RawMessage(`{not json`), want: `{"raw":"{not json"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(normalizeMetadata(tt.in)); got != tt.want {
				t.Errorf("normalizeMetadata() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDB_ReadyNotConnected(t *testing.T) {
	var db *DB
	err := db.Ready(context.Background())
	if !errors.Is(err, errNotConnected) {
		t.Fatalf("Ready() = %v, want errNotConnected", err)
	}
}
