/*
Package notify delivers checkout confirmation email.

The lab's mail delivery runs behind a small HTTP gateway; this package
holds the resty client for it plus the domain-facing confirmer that turns
a custody.Confirmation into a message for the selected contact.
*/
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// =============================================================================
// GATEWAY - resty client for the HTTP mail gateway
// =============================================================================

// Gateway is a Mailer backed by the lab's HTTP mail gateway.
type Gateway struct {
	client *resty.Client
	log    *zap.Logger
}

// NewGateway builds the gateway client. token authenticates as a bearer
// credential on every call.
func NewGateway(baseURL, token string, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)
	return &Gateway{client: client, log: log}
}

type gatewayError struct {
	Error string `json:"error"`
}

func (g *Gateway) Send(ctx context.Context, msg Message) error {
	var apiErr gatewayError
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(msg).
		SetError(&apiErr).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("mail gateway: %w", err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("mail gateway: %s (%s)", resp.Status(), apiErr.Error)
	}
	g.log.Debug("mail sent", zap.String("to", msg.To))
	return nil
}

// =============================================================================
// NOP - For tests and mail-less deployments
// =============================================================================

// Nop is a Mailer that drops everything.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }
