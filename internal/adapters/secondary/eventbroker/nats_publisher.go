package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

const DefaultSubjectPrefix = "db.changes"

// Subject : {prefix}.{table}, ex "db.changes.posts"
func Subject(prefix string, table domain.Table) string {
	return fmt.Sprintf("%s.%s", prefix, table)
}

// msgPublisher : la partie de *nats.Conn utilisée ici
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

type NatsPublisher struct {
	nc     msgPublisher
	prefix string
}

func NewNatsPublisher(nc *nats.Conn, prefix string) *NatsPublisher {
	return newPublisher(nc, prefix)
}

func newPublisher(nc msgPublisher, prefix string) *NatsPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NatsPublisher{nc: nc, prefix: prefix}
}

func (p *NatsPublisher) Publish(ctx context.Context, event domain.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	msg := &nats.Msg{
		Subject: Subject(p.prefix, event.Table),
		Data:    data,
		Header:  nats.Header{},
	}
	// Le trace ID suit l'événement jusqu'au consumer
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier(msg.Header))

	slog.DebugContext(ctx, "📢 Publishing change event", "subject", msg.Subject, "op", event.Operation)
	return p.nc.PublishMsg(msg)
}
