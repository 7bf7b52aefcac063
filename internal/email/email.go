// Package email реализует отправку писем покупателям по SMTP.
package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	mail "github.com/wneessen/go-mail"

	"github.com/7Emma/e-shop-backend/internal/model"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Config содержит параметры SMTP-транспорта.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPSender отправляет письма через SMTP-сервер. В разработке это
// MailHog без аутентификации, в продакшене — полноценный SMTP-провайдер.
type SMTPSender struct {
	client    *mail.Client
	from      string
	templates *template.Template
}

// NewSMTPSender создаёт отправитель писем с указанной конфигурацией.
func NewSMTPSender(cfg Config) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}

	// Учётные данные не настроены — локальный сервер без аутентификации.
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}

	tmpl, err := template.ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	return &SMTPSender{
		client:    client,
		from:      cfg.From,
		templates: tmpl,
	}, nil
}

type otpTemplateData struct {
	TrackingCode string
	Code         string
	TTLMinutes   int
}

// SendOTP отправляет одноразовый код доступа к заказу.
func (s *SMTPSender) SendOTP(ctx context.Context, to, code, trackingCode string) error {
	var body bytes.Buffer
	err := s.templates.ExecuteTemplate(&body, "otp.html.tmpl", otpTemplateData{
		TrackingCode: trackingCode,
		Code:         code,
		TTLMinutes:   15,
	})
	if err != nil {
		return fmt.Errorf("render otp template: %w", err)
	}

	subject := fmt.Sprintf("Code de vérification - Commande %s", trackingCode)
	return s.send(ctx, to, subject, body.String())
}

type confirmationItem struct {
	Name      string
	Quantity  int
	Price     string
	LineTotal string
}

type confirmationTemplateData struct {
	TrackingCode string
	Items        []confirmationItem
	Total        string
}

// SendOrderConfirmation отправляет подтверждение заказа с кодом отслеживания.
func (s *SMTPSender) SendOrderConfirmation(ctx context.Context, to string, order *model.Order) error {
	data := confirmationTemplateData{
		TrackingCode: order.TrackingCode,
		Total:        formatEuros(order.TotalCents),
	}
	for _, item := range order.Items {
		data.Items = append(data.Items, confirmationItem{
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     formatEuros(item.PriceCents),
			LineTotal: formatEuros(item.PriceCents * int64(item.Quantity)),
		})
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, "order_confirmation.html.tmpl", data); err != nil {
		return fmt.Errorf("render confirmation template: %w", err)
	}

	subject := fmt.Sprintf("Commande confirmée - Code de suivi: %s", order.TrackingCode)
	return s.send(ctx, to, subject, body.String())
}

func (s *SMTPSender) send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	return nil
}

func formatEuros(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
