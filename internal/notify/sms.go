package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/mailersend/mailersend-go"
	"go.uber.org/zap"
)

var ErrSMSNotConfigured = errors.New("sms sender not configured")

// SMSCredentialSender отправляет посетителю QR-код доступа через MailerSend SMS
type SMSCredentialSender struct {
	client  *mailersend.Mailersend
	from    string
	enabled bool
	logger  *zap.Logger
}

func NewSMSCredentialSender(apiKey, from string, logger *zap.Logger) *SMSCredentialSender {
	s := &SMSCredentialSender{
		from:    from,
		enabled: apiKey != "" && from != "",
		logger:  logger,
	}

	if s.enabled {
		s.client = mailersend.NewMailersend(apiKey)
	}

	return s
}

func (s *SMSCredentialSender) SendAccessCredential(ctx context.Context, phone string, v *model.Visit) error {
	if !s.enabled {
		return ErrSMSNotConfigured
	}

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("empty phone")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	msg := s.client.Sms.NewMessage()
	msg.SetFrom(s.from)
	msg.SetTo([]string{phone})
	msg.SetText(CredentialText(v))

	if _, err := s.client.Sms.Send(ctx, msg); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}

	s.logger.Info("Access credential SMS sent", zap.String("visit_id", v.ID.String()))
	return nil
}

// CredentialText текст SMS с кодом доступа
func CredentialText(v *model.Visit) string {
	name := v.VisitorName
	if i := strings.IndexByte(name, ' '); i > 0 {
		name = name[:i]
	}
	return fmt.Sprintf(
		"Hola %s, tu ingreso fue autorizado. Código de acceso: %s. Válido hasta el %s.",
		name, v.AccessCredential, v.ValidUntil.Format("02/01 15:04"),
	)
}
