package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/salus/internal/domain/types"
	"github.com/dropDatabas3/salus/internal/observability/logger"
)

// SMSConfig parámetros del gateway SMS interno.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	From       string
}

// SMSSender implementa OTPSender contra el gateway SMS vía HTTP.
type SMSSender struct {
	cfg    SMSConfig
	client *http.Client
}

// NewSMSSender crea un SMSSender con timeout corto: el despacho es
// fire-and-forget pero no queremos goroutines colgadas del gateway.
func NewSMSSender(cfg SMSConfig) *SMSSender {
	return &SMSSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type smsPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// SendOTP postea el mensaje al gateway.
func (s *SMSSender) SendOTP(ctx context.Context, method types.MFAMethod, destination, code string, ttl time.Duration) error {
	log := logger.From(ctx).With(logger.Component("SMSSender"))

	body := fmt.Sprintf("Tu código de verificación es %s. Vence en %d minutos.", code, int(ttl.Minutes()))
	raw, err := json.Marshal(smsPayload{To: destination, From: s.cfg.From, Body: body})
	if err != nil {
		return fmt.Errorf("sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Error("sms gateway unreachable", logger.Err(err))
		return fmt.Errorf("sms send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Error("sms gateway rejected message", logger.Status(resp.StatusCode))
		return fmt.Errorf("sms send: gateway status %d", resp.StatusCode)
	}

	log.Debug("otp sms sent")
	return nil
}

// LogSender implementa OTPSender escribiendo al log. Para desarrollo local
// sin SMTP ni gateway SMS configurados; nunca en prod.
type LogSender struct{}

// SendOTP loguea el código en lugar de enviarlo.
func (LogSender) SendOTP(ctx context.Context, method types.MFAMethod, destination, code string, ttl time.Duration) error {
	logger.From(ctx).Info("otp dispatch (log sender)",
		logger.Component("LogSender"),
		logger.MFAMethod(string(method)),
		logger.String("destination", destination),
		logger.String("code", code),
	)
	return nil
}
