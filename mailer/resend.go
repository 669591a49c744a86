package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rpupo63/blog-backend/errs"
	"github.com/rs/zerolog/log"
)

const DefaultResendBaseURL = "https://api.resend.com"

// resendEmailRequest represents the request payload for Resend API
type resendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Html    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type resendEmailResponse struct {
	ID string `json:"id"`
}

type resendErrorResponse struct {
	Message string `json:"message"`
}

type ResendConfig struct {
	APIKey    string
	FromEmail string // e.g. "Blog <noreply@example.com>"
	BaseURL   string
	Timeout   time.Duration
}

// ResendTransport sends mail through the Resend HTTP API.
type ResendTransport struct {
	cfg      ResendConfig
	client   *http.Client
	renderer *Renderer
}

func NewResendTransport(cfg ResendConfig, renderer *Renderer) (*ResendTransport, error) {
	if cfg.APIKey == "" {
		return nil, errs.NewConfigError("RESEND_API_KEY", errors.New("api key is required"))
	}
	if cfg.FromEmail == "" {
		return nil, errs.NewConfigError("RESEND_FROM_EMAIL", errors.New("sender address is required"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultResendBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &ResendTransport{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		renderer: renderer,
	}, nil
}

func (t *ResendTransport) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("at least one recipient is required")
	}

	payload := resendEmailRequest{
		From:    t.cfg.FromEmail,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
	}
	if msg.Template != "" && t.renderer != nil {
		html, err := t.renderer.Render(msg.Template, msg.Context)
		if err != nil {
			return err
		}
		payload.Html = html
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	endpoint := strings.TrimRight(t.cfg.BaseURL, "/") + "/emails"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create Resend API request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to Resend API: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read Resend API response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp resendErrorResponse
		if err := json.Unmarshal(bodyBytes, &errorResp); err == nil && errorResp.Message != "" {
			return errs.NewMailDeliveryError("resend", resp.StatusCode, errorResp.Message)
		}
		return errs.NewMailDeliveryError("resend", resp.StatusCode, string(bodyBytes))
	}

	var emailResponse resendEmailResponse
	if err := json.Unmarshal(bodyBytes, &emailResponse); err != nil {
		log.Warn().Err(err).Msg("Failed to parse Resend email response, but email was sent")
	} else {
		log.Info().Str("emailId", emailResponse.ID).Msg("Successfully sent email via Resend")
	}
	return nil
}
