package render

import (
	"strings"
	"testing"

	"github.com/sungwon/notification-relay/internal/order"
)

func sampleEvent() *order.Event {
	return &order.Event{
		UserEmail:     "a@b.com",
		UserName:      "Ann",
		OrderNumber:   "ORD-1",
		TotalAmount:   42.5,
		Items:         []order.Item{{Name: "Widget", Quantity: 2}},
		PaymentMethod: "card",
	}
}

func TestOrderConfirmation_ContainsOrderFields(t *testing.T) {
	html, err := OrderConfirmation(sampleEvent())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, want := range []string{"ORD-1", "Widget", "Ann", "42.50", "card", "<td align=\"right\">2</td>"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected rendered body to contain %q", want)
		}
	}
}

func TestOrderConfirmation_Deterministic(t *testing.T) {
	first, err := OrderConfirmation(sampleEvent())
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	second, err := OrderConfirmation(sampleEvent())
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if first != second {
		t.Error("expected byte-identical output for identical events")
	}
}

func TestOrderConfirmation_Defaults(t *testing.T) {
	html, err := OrderConfirmation(&order.Event{UserEmail: "a@b.com", Items: []order.Item{}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, want := range []string{"Customer", "No items", "N/A", "0.00"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected default %q in rendered body", want)
		}
	}
}

func TestOrderConfirmation_EscapesFields(t *testing.T) {
	e := sampleEvent()
	e.UserName = `<script>alert("x")</script>`
	e.Items = []order.Item{{Name: "<b>Bold</b>", Quantity: 1}}

	html, err := OrderConfirmation(e)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(html, "<script>") || strings.Contains(html, "<b>Bold</b>") {
		t.Error("expected user supplied fields to be escaped")
	}
	if !strings.Contains(html, "&lt;b&gt;Bold&lt;/b&gt;") {
		t.Error("expected escaped item name")
	}
}

func TestOrderConfirmation_NilEvent(t *testing.T) {
	if _, err := OrderConfirmation(nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}
