// Package order decodes "order created" events published by the order service.
package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Event is the payload of an order.created message.
type Event struct {
	UserEmail     string `json:"user_email"`
	UserName      string `json:"user_name"`
	OrderNumber   Number `json:"order_number"`
	TotalAmount   Amount `json:"total_amount"`
	Items         []Item `json:"items"`
	PaymentMethod string `json:"payment_method"`
}

// Item is one ordered line. The order service has emitted both
// {name, qty} and {product_id, quantity, total_amt} shapes.
type Item struct {
	Name      string
	ProductID string
	Quantity  int
	Price     Amount
}

type itemJSON struct {
	Name      string  `json:"name"`
	ProductID Number  `json:"product_id"`
	Qty       *int    `json:"qty"`
	Quantity  *int    `json:"quantity"`
	Price     *Amount `json:"price"`
	TotalAmt  *Amount `json:"total_amt"`
}

// UnmarshalJSON accepts both line item shapes.
func (i *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	i.Name = strings.TrimSpace(raw.Name)
	i.ProductID = string(raw.ProductID)
	switch {
	case raw.Qty != nil:
		i.Quantity = *raw.Qty
	case raw.Quantity != nil:
		i.Quantity = *raw.Quantity
	}
	switch {
	case raw.Price != nil:
		i.Price = *raw.Price
	case raw.TotalAmt != nil:
		i.Price = *raw.TotalAmt
	}
	return nil
}

// DisplayName is the label shown in the email for this line.
func (i Item) DisplayName() string {
	switch {
	case i.Name != "":
		return i.Name
	case i.ProductID != "":
		return "Product #" + i.ProductID
	default:
		return "Item"
	}
}

// Number is an identifier that may arrive as a JSON string or number.
type Number string

// UnmarshalJSON accepts strings, numbers and null.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*n = Number(num.String())
	return nil
}

// Amount is a monetary total that may arrive as a JSON number or a numeric
// string (the order service stores totals as text).
type Amount float64

// UnmarshalJSON accepts numbers, numeric strings and null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("amount %q is not numeric", s)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("amount must be a number: %w", err)
	}
	*a = Amount(f)
	return nil
}

// String formats the amount with two decimals.
func (a Amount) String() string {
	return strconv.FormatFloat(float64(a), 'f', 2, 64)
}

// ParseError reports an inbound payload that cannot be turned into an Event.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parse order event: " + e.Reason + ": " + e.Err.Error()
	}
	return "parse order event: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Parse decodes body into an Event. Malformed JSON, a non-object payload,
// wrongly typed fields or a blank user_email yield a *ParseError.
func Parse(body []byte) (*Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &ParseError{Reason: "empty body"}
	}
	if trimmed[0] != '{' {
		return nil, &ParseError{Reason: "payload is not a JSON object"}
	}

	var e Event
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}

	e.UserEmail = strings.TrimSpace(e.UserEmail)
	if e.UserEmail == "" {
		return nil, &ParseError{Reason: "user_email is required"}
	}
	if e.Items == nil {
		e.Items = []Item{}
	}

	return &e, nil
}

// RecipientHint extracts user_email from a payload that failed Parse, so the
// failure audit record can still name the intended recipient. It returns ""
// when nothing usable is present.
func RecipientHint(body []byte) string {
	var peek struct {
		UserEmail any `json:"user_email"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return ""
	}
	s, ok := peek.UserEmail.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
