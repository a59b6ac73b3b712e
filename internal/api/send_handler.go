package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sungwon/notification-relay/internal/delivery"
	"github.com/sungwon/notification-relay/internal/mailer"
	"github.com/sungwon/notification-relay/internal/storage"
)

const maxSendBodyBytes = 1 << 20

// sender sends and audits one email.
type sender interface {
	Deliver(ctx context.Context, req delivery.Request) (*mailer.DeliveryResult, error)
}

type sendRequest struct {
	To       string          `json:"to"`
	Subject  string          `json:"subject"`
	HTML     string          `json:"html"`
	Metadata json.RawMessage `json:"metadata"`
}

// SendHandler handles POST /send. It sends the caller's email through the
// same transport and audit path as the queue worker. Both outcomes append
// an audit record; an undecodable body is refused before any send.
func SendHandler(svc sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBodyBytes)).Decode(&req); err != nil {
			respondMessage(w, http.StatusBadRequest, "Invalid request body", "error", err.Error())
			return
		}

		metadata := req.Metadata
		if string(metadata) == "null" {
			metadata = nil
		}

		result, err := svc.Deliver(r.Context(), delivery.Request{
			To:       req.To,
			Subject:  req.Subject,
			HTML:     req.HTML,
			Metadata: metadata,
			Source:   storage.SourceHTTP,
		})
		if err != nil {
			respondMessage(w, http.StatusInternalServerError, "Failed to send email", "error", err.Error())
			return
		}

		respondMessage(w, http.StatusOK, "Email sent", "info", result)
	}
}
