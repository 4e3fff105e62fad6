package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName    = "STOCKARENA_CONTESTS"
	SubjectPrefix = "stockarena.contests"
)

// NATSPublisher publishes lifecycle events to stockarena.contests.{event_type}.
type NATSPublisher struct {
	js jetstream.JetStream
}

func NewNATSPublisher(js jetstream.JetStream) *NATSPublisher {
	return &NATSPublisher{js: js}
}

// ConnectNATS dials url, ensures the contest stream exists and returns a publisher
// plus a close func.
func ConnectNATS(ctx context.Context, url string) (*NATSPublisher, func(), error) {
	nc, err := nats.Connect(url, nats.Name("stockarena"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := EnsureStream(ctx, js); err != nil {
		nc.Close()
		return nil, nil, err
	}
	return NewNATSPublisher(js), func() { _ = nc.Drain() }, nil
}

func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create contest stream: %w", err)
	}
	return nil
}

func Subject(eventType string) string {
	return SubjectPrefix + "." + strings.TrimPrefix(eventType, "contest.")
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msgID := fmt.Sprintf("%s:%d", evt.Type, evt.ContestID)
	if _, err := p.js.Publish(ctx, Subject(evt.Type), data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}
