// Package mailer renders and delivers notification emails. Messages travel
// through the job queue as JSON, so Context only ever holds JSON values.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpupo63/blog-backend/jobs"
	"github.com/rs/zerolog/log"
)

// SendMailJob is the job name the mail handler is registered under.
const SendMailJob = "send-mail"

type Message struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Text     string         `json:"text"`
	Template string         `json:"template,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// SendMailHandler delivers the Message carried in a send-mail job.
func SendMailHandler(transport Transport) jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		var msg Message
		if err := json.Unmarshal(job.Payload, &msg); err != nil {
			return fmt.Errorf("decode mail payload: %w", err)
		}

		log.Debug().
			Str("jobID", job.ID).
			Str("to", msg.To).
			Str("template", msg.Template).
			Msg("Sending mail")
		return transport.Send(ctx, msg)
	}
}

// LogTransport writes messages to the log instead of sending them.
type LogTransport struct {
	renderer *Renderer
}

func NewLogTransport(renderer *Renderer) *LogTransport {
	return &LogTransport{renderer: renderer}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	event := log.Info().Str("to", msg.To).Str("subject", msg.Subject).Str("text", msg.Text)
	if msg.Template != "" && t.renderer != nil {
		html, err := t.renderer.Render(msg.Template, msg.Context)
		if err != nil {
			return err
		}
		event = event.Int("htmlBytes", len(html))
	}
	event.Msg("Mail transport disabled, message logged")
	return nil
}
