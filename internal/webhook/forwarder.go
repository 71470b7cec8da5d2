package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/template"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Pulkitjakhmola/custlysis/internal/orchestration"
)

const consumerName = "segmentationWebhook"

// errRender marks a URL template that cannot be rendered for an event.
// Redelivery would fail the same way.
var errRender = errors.New("rendering webhook url")

// Subscriber is the subset of nats.JetStreamContext used by the forwarder.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Acker acknowledges a JetStream message. *nats.Msg implements it.
type Acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// Forwarder posts every segmentation event to an HTTP endpoint.
// The URL may use text/template syntax over the event, e.g.
// "https://hooks.example.com/{{.Type}}".
type Forwarder struct {
	js         Subscriber
	url        *template.Template
	httpClient *http.Client
	logger     *zap.Logger
}

func NewForwarder(js Subscriber, url string, logger *zap.Logger) (*Forwarder, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	tmpl, err := template.New("url").Option("missingkey=error").Parse(url)
	if err != nil {
		return nil, fmt.Errorf("template parsing error: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		js:         js,
		url:        tmpl,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// Start subscribes a durable push consumer to all segmentation subjects.
func (f *Forwarder) Start() (*nats.Subscription, error) {
	subject := orchestration.SubjectPrefix + ".>"
	sub, err := f.js.Subscribe(subject, func(msg *nats.Msg) {
		f.Handle(context.Background(), msg.Subject, msg.Data, msg)
	}, nats.Durable(consumerName), nats.AckWait(60*time.Second), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject %s with durable consumer %s: %w", subject, consumerName, err)
	}
	f.logger.Info("webhook forwarder subscribed", zap.String("subject", subject), zap.String("consumer", consumerName))
	return sub, nil
}

// Handle delivers one message. Malformed events and events the URL template
// cannot render are terminated; delivery failures are negatively
// acknowledged for redelivery.
func (f *Forwarder) Handle(ctx context.Context, subject string, data []byte, msg Acker) {
	var event orchestration.Event
	if err := json.Unmarshal(data, &event); err != nil {
		f.logger.Error("malformed event, terminating", zap.String("subject", subject), zap.Error(err))
		if err := msg.Term(); err != nil {
			f.logger.Error("failed to terminate message", zap.Error(err))
		}
		return
	}

	err := f.deliver(ctx, event, data)
	if errors.Is(err, errRender) {
		f.logger.Error("webhook url cannot be rendered, terminating", zap.String("event_id", event.EventID), zap.Error(err))
		if err := msg.Term(); err != nil {
			f.logger.Error("failed to terminate message", zap.Error(err))
		}
		return
	}
	if err != nil {
		f.logger.Warn("webhook delivery failed", zap.String("event_id", event.EventID), zap.Error(err))
		if err := msg.Nak(); err != nil {
			f.logger.Error("failed to nak message", zap.String("event_id", event.EventID), zap.Error(err))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		f.logger.Error("failed to ack message", zap.String("event_id", event.EventID), zap.Error(err))
	}
}

func (f *Forwarder) deliver(ctx context.Context, event orchestration.Event, body []byte) error {
	var url bytes.Buffer
	if err := f.url.Execute(&url, event); err != nil {
		return fmt.Errorf("%w: %v", errRender, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", event.EventID)
	req.Header.Set("X-Event-Type", event.Type)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to %s failed: %w", url.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned HTTP %s: %s", resp.Status, respBody)
	}
	f.logger.Info("event forwarded",
		zap.String("event_id", event.EventID),
		zap.String("type", event.Type),
		zap.Int("status", resp.StatusCode))
	return nil
}
