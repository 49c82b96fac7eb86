package otp

import (
	"strings"
)

// OrderInfo carries the fields the order SMS template can reference.
type OrderInfo struct {
	ID     string
	Number string
	Total  string
}

// CustomerInfo carries the customer fields the template can reference.
type CustomerInfo struct {
	FirstName string
	LastName  string
	Email     string
}

// RenderTemplate substitutes {order.*} and {customer.*} placeholders in tmpl.
// Missing fields collapse to empty strings and whitespace runs normalize to
// single spaces.
func RenderTemplate(tmpl string, order OrderInfo, customer CustomerInfo) string {
	replacer := strings.NewReplacer(
		"{order.id}", order.ID,
		"{order.number}", order.Number,
		"{order.total}", order.Total,
		"{customer.firstName}", customer.FirstName,
		"{customer.lastName}", customer.LastName,
		"{customer.email}", customer.Email,
	)
	out := replacer.Replace(tmpl)
	return strings.Join(strings.Fields(out), " ")
}
