package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TwilioConfig addresses a Twilio-compatible Messages API.
type TwilioConfig struct {
	BaseURL    string // e.g. https://api.twilio.com
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
}

// Twilio sends SMS through the Messages.json endpoint.
type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
	log    *zap.Logger
}

// NewTwilio constructs an SMS notifier.
func NewTwilio(cfg TwilioConfig, log *zap.Logger) *Twilio {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Twilio{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, log: log}
}

type twilioMessage struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Notify posts the message. A transport error is returned as is; a rejected
// or failed message yields a receipt with Delivered=false.
func (n *Twilio) Notify(ctx context.Context, destination, message string) (Receipt, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.cfg.BaseURL, url.PathEscape(n.cfg.AccountSID))
	form := url.Values{}
	form.Set("To", destination)
	form.Set("From", n.cfg.From)
	form.Set("Body", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("twilio: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Receipt{}, fmt.Errorf("twilio: read body: %w", err)
	}
	var msg twilioMessage
	_ = json.Unmarshal(body, &msg)

	if resp.StatusCode/100 != 2 {
		n.log.Warn("twilio rejected message",
			zap.Int("status", resp.StatusCode),
			zap.Int("code", msg.Code),
			zap.String("message", msg.Message),
		)
		return Receipt{Delivered: false, ReferenceID: msg.SID}, nil
	}
	switch msg.Status {
	case "failed", "undelivered":
		return Receipt{Delivered: false, ReferenceID: msg.SID}, nil
	}
	return Receipt{Delivered: true, ReferenceID: msg.SID}, nil
}
