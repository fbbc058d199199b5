package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/lineci/lineci/internal/descriptor"
)

const flowdockInboxURL = "https://api.flowdock.com/v1/messages/team_inbox/"

// Channels builds the channel list a descriptor's notification block asks
// for. The SMTP configuration comes from the host settings; the descriptor
// only names recipients.
func Channels(n descriptor.Notifications, smtpConfig SMTPConfig) []Channel {
	channels := make([]Channel, 0)
	if n.Flowdock != "" {
		channels = append(channels, NewFlowdockChannel(n.Flowdock))
	}
	for _, url := range n.Webhooks {
		channels = append(channels, NewWebhookChannel(url))
	}
	if len(n.Email.Recipients) > 0 && smtpConfig.Host != "" {
		channels = append(channels, NewEmailChannel(smtpConfig, n.Email.Recipients))
	}
	return channels
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// FlowdockChannel posts to a flow's team inbox using its source token.
type FlowdockChannel struct {
	token  string
	client *http.Client

	// BaseURL is overridable for tests.
	BaseURL string
}

func NewFlowdockChannel(token string) *FlowdockChannel {
	return &FlowdockChannel{
		token:   token,
		client:  newHTTPClient(),
		BaseURL: flowdockInboxURL,
	}
}

func (f *FlowdockChannel) Name() string { return "flowdock" }

func (f *FlowdockChannel) Send(ctx context.Context, msg Message) error {
	payload := map[string]string{
		"source":  "lineci",
		"subject": msg.Subject(),
		"content": msg.Body(),
	}
	return postJSON(ctx, f.client, f.BaseURL+f.token, payload)
}

// WebhookChannel posts the message as-is to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{url: url, client: newHTTPClient()}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, w.client, w.url, msg)
}

type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

func (c SMTPConfig) addr() string {
	port := c.Port
	if port == "" {
		port = "587"
	}
	return c.Host + ":" + port
}

// EmailChannel sends a plain-text mail to the descriptor's recipients.
type EmailChannel struct {
	config     SMTPConfig
	recipients []string
}

func NewEmailChannel(config SMTPConfig, recipients []string) *EmailChannel {
	return &EmailChannel{config: config, recipients: recipients}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	}

	var sb strings.Builder
	sb.WriteString("From: " + e.config.From + "\r\n")
	sb.WriteString("To: " + strings.Join(e.recipients, ", ") + "\r\n")
	sb.WriteString("Subject: " + msg.Subject() + "\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.Body() + "\r\n")

	return smtp.SendMail(e.config.addr(), auth, e.config.From, e.recipients, []byte(sb.String()))
}
