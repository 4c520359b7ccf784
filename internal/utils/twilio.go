package utils

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

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

type TwilioClient struct {
	AccountSID string
	AuthToken  string
	From       string
	DryRun     bool
	BaseURL    string

	client *http.Client
	log    *zap.Logger
}

type SendSMSResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func NewTwilioClient(sid, token, from string, dryRun bool, log *zap.Logger) *TwilioClient {
	return &TwilioClient{
		AccountSID: sid,
		AuthToken:  token,
		From:       from,
		DryRun:     dryRun,
		BaseURL:    twilioBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log.Named("twilio"),
	}
}

// SendSMS posts one message through the Twilio REST API. In dry-run mode, or
// without credentials, the message is only logged.
func (c *TwilioClient) SendSMS(ctx context.Context, to, text string) (*SendSMSResponse, error) {
	if c.DryRun || c.AccountSID == "" || c.AuthToken == "" {
		c.log.Info("dry-run sms", zap.String("to", to), zap.String("text", text))
		return &SendSMSResponse{Status: "dry-run"}, nil
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.BaseURL, c.AccountSID)
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.From)
	form.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build sms request: %w", err)
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result SendSMSResponse
	_ = json.Unmarshal(body, &result)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("twilio send failed: status=%d code=%d msg=%s", resp.StatusCode, result.Code, result.Message)
	}
	c.log.Info("sms sent", zap.String("to", to), zap.String("sid", result.SID))
	return &result, nil
}

// FormatPhoneE164 turns a ten digit Indian mobile number into +91XXXXXXXXXX.
// Numbers that already carry a leading + are returned with only digits kept.
func FormatPhoneE164(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(strings.TrimSpace(phone), "+") {
		return "+" + digits
	}
	return "+91" + digits
}
