// Package render produces the transactional email bodies sent by the relay.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/sungwon/notification-relay/internal/order"
)

// Subject is the subject line of every order confirmation.
const Subject = "Order Confirmation"

const (
	defaultCustomerName  = "Customer"
	defaultPaymentMethod = "N/A"
)

type lineView struct {
	Name     string
	Quantity int
	Price    string
}

type confirmationView struct {
	CustomerName  string
	OrderNumber   string
	Total         string
	PaymentMethod string
	Items         []lineView
}

var confirmationTmpl = template.Must(template.New("order_confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Thank you for your order, {{.CustomerName}}!</h2>
  <p>Your order <strong>{{.OrderNumber}}</strong> has been received and is being processed.</p>
  <table style="border-collapse: collapse; width: 100%;">
    <thead>
      <tr><th align="left">Item</th><th align="right">Qty</th><th align="right">Price</th></tr>
    </thead>
    <tbody>
{{- range .Items}}
      <tr><td>{{.Name}}</td><td align="right">{{.Quantity}}</td><td align="right">{{.Price}}</td></tr>
{{- else}}
      <tr><td colspan="3">No items</td></tr>
{{- end}}
    </tbody>
  </table>
  <p><strong>Total:</strong> {{.Total}}</p>
  <p><strong>Payment method:</strong> {{.PaymentMethod}}</p>
</body>
</html>
`))

// OrderConfirmation renders the confirmation email for e. Output depends only
// on e, so rendering the same event twice yields identical bytes.
func OrderConfirmation(e *order.Event) (string, error) {
	if e == nil {
		return "", fmt.Errorf("render order confirmation: nil event")
	}

	view := confirmationView{
		CustomerName:  orDefault(e.UserName, defaultCustomerName),
		OrderNumber:   orDefault(string(e.OrderNumber), "-"),
		Total:         e.TotalAmount.String(),
		PaymentMethod: orDefault(e.PaymentMethod, defaultPaymentMethod),
		Items:         make([]lineView, 0, len(e.Items)),
	}
	for _, it := range e.Items {
		price := ""
		if it.Price != 0 {
			price = it.Price.String()
		}
		view.Items = append(view.Items, lineView{
			Name:     it.DisplayName(),
			Quantity: it.Quantity,
			Price:    price,
		})
	}

	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render order confirmation: %w", err)
	}
	return buf.String(), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
