// Package email is the outbound mail boundary. Templating is
// deliberately minimal; the storefront only sends operational notices.
package email

import (
	"fmt"

	gomail "github.com/go-mail/mail"
)

// Sender sends operational mail.
type Sender interface {
	SendBackInStock(to, productName, sku string) error
	SendOrderConfirmation(to, orderID string, totalCents int64) error
}

// SMTPSender delivers through a plain SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTPSender) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return s.dialer.DialAndSend(m)
}

func (s *SMTPSender) SendBackInStock(to, productName, sku string) error {
	return s.send(to,
		fmt.Sprintf("Back in stock: %s", productName),
		fmt.Sprintf("%s (%s) is available again. First come, first served.\n", productName, sku))
}

func (s *SMTPSender) SendOrderConfirmation(to, orderID string, totalCents int64) error {
	return s.send(to,
		fmt.Sprintf("Order %s confirmed", orderID),
		fmt.Sprintf("Thanks for your order. Total: %d.%02d\n", totalCents/100, totalCents%100))
}
