package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boweazy/smartflow/internal/config"
	"github.com/boweazy/smartflow/internal/log"

	"go.uber.org/zap"
)

const vonageSMSEndpoint = "https://rest.nexmo.com/sms/json"

// SMSNotifier sends reminders through the Vonage SMS REST API.
type SMSNotifier struct {
	cfg      *config.Config
	logger   *log.Logger
	client   *http.Client
	endpoint string
}

func NewSMSNotifier(cfg *config.Config, logger *log.Logger) *SMSNotifier {
	return &SMSNotifier{
		cfg:      cfg,
		logger:   logger,
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: vonageSMSEndpoint,
	}
}

type vonageResponse struct {
	Messages []struct {
		Status    string `json:"status"`
		MessageID string `json:"message-id"`
		ErrorText string `json:"error-text"`
	} `json:"messages"`
}

func (n *SMSNotifier) Send(ctx context.Context, recipient, content string) (string, error) {
	form := url.Values{}
	form.Set("api_key", n.cfg.VonageAPIKey)
	form.Set("api_secret", n.cfg.VonageAPISecret)
	form.Set("from", n.cfg.VonageNumber)
	form.Set("to", recipient)
	form.Set("text", content)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("Failed to call SMS API", zap.Error(err))
		return "", fmt.Errorf("call sms api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.logger.Error("SMS API returned bad status", zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("sms api status %d", resp.StatusCode)
	}
	var body vonageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode sms response: %w", err)
	}
	if len(body.Messages) == 0 {
		return "", fmt.Errorf("sms response contained no messages")
	}
	// Vonage reports per-message status; "0" is success.
	msg := body.Messages[0]
	if msg.Status != "0" {
		n.logger.Error("SMS rejected", zap.String("status", msg.Status), zap.String("error", msg.ErrorText))
		return "", fmt.Errorf("sms rejected: %s", msg.ErrorText)
	}
	return msg.MessageID, nil
}
