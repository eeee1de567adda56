package relay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"truelens/internal/config"
	"truelens/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Truelens-Signature"

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type WebhookSink struct {
	hook   config.Webhook
	client *http.Client
	filter eventFilter
}

func NewWebhookSink(hook config.Webhook) *WebhookSink {
	return &WebhookSink{
		hook:   hook,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		filter: newEventFilter(hook.Events),
	}
}

func (w *WebhookSink) Name() string { return "webhook:" + w.hook.ID }

func (w *WebhookSink) Accepts(evtType string) bool { return w.filter.match(evtType) }

func (w *WebhookSink) Deliver(ctx context.Context, evt domain.Event) error {
	data, err := encode(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Truelens-Event", evt.Type)
	req.Header.Set("X-Truelens-Delivery", strconv.FormatInt(evt.ID, 10))
	if strings.TrimSpace(w.hook.Secret) != "" {
		req.Header.Set(SignatureHeader, Sign(w.hook.Secret, data))
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event on <subject>.<event type>.
type NATSSink struct {
	pub     Publisher
	subject string
	filter  eventFilter
}

func NewNATSSink(pub Publisher, subject string, events []string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject, filter: newEventFilter(events)}
}

func (n *NATSSink) Name() string { return "nats:" + n.subject }

func (n *NATSSink) Accepts(evtType string) bool { return n.filter.match(evtType) }

func (n *NATSSink) Deliver(_ context.Context, evt domain.Event) error {
	data, err := encode(evt)
	if err != nil {
		return err
	}
	return n.pub.Publish(n.subject+"."+evt.Type, data)
}
