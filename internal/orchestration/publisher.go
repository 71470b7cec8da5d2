package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamName is the JetStream stream holding segmentation events.
	StreamName = "SEGMENTATION"
	// SubjectPrefix prefixes every event subject.
	SubjectPrefix = "segmentation"

	EventModelTrained     = "model.trained"
	EventAssignmentsSaved = "assignments.saved"
)

// Event is the message published after a training or scoring run.
type Event struct {
	EventID      string                 `json:"event_id"`
	Type         string                 `json:"type"`
	ModelVersion string                 `json:"model_version"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Subject is the NATS subject the event is published on.
func (e Event) Subject() string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, e.Type)
}

// EventPublisher is implemented by Publisher and NoopPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// JetStream is the subset of nats.JetStreamContext used here.
type JetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// Publisher publishes events to JetStream.
type Publisher struct {
	js     JetStream
	logger *zap.Logger

	mu           sync.Mutex
	streamExists bool
}

func NewPublisher(js JetStream, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{js: js, logger: logger}
}

// Connect dials NATS and returns the connection and its JetStream context.
func Connect(url string) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url, nats.Timeout(10*time.Second), nats.RetryOnFailedConnect(true), nats.MaxReconnects(5), nats.ReconnectWait(time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("getting JetStream context: %w", err)
	}
	return nc, js, nil
}

// Publish fills in the event id and timestamp when unset and publishes e on
// segmentation.<type>.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := p.ensureStream(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", e.EventID, err)
	}
	ack, err := p.js.Publish(e.Subject(), data)
	if err != nil {
		return fmt.Errorf("failed to publish event %s to subject %s: %w", e.EventID, e.Subject(), err)
	}
	p.logger.Info("event published",
		zap.String("event_id", e.EventID),
		zap.String("subject", e.Subject()),
		zap.String("stream", ack.Stream),
		zap.Uint64("sequence", ack.Sequence))
	return nil
}

func (p *Publisher) ensureStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamExists {
		return nil
	}
	if _, err := p.js.StreamInfo(StreamName); err != nil {
		p.logger.Info("stream not found, creating it", zap.String("stream", StreamName), zap.Error(err))
		_, err := p.js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{SubjectPrefix + ".>"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create NATS stream %s: %w", StreamName, err)
		}
	}
	p.streamExists = true
	return nil
}

// NoopPublisher drops events. It is used when NATS is not configured.
type NoopPublisher struct {
	Logger *zap.Logger
}

func (n NoopPublisher) Publish(_ context.Context, e Event) error {
	if n.Logger != nil {
		n.Logger.Debug("event dropped, NATS disabled", zap.String("type", e.Type))
	}
	return nil
}
