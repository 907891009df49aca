package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/ports"
)

const handleTimeout = 5 * time.Second

// Tables suivies par le Change Notifier
var Tables = []domain.Table{domain.TablePosts, domain.TableLikes, domain.TableFollows}

type EventHandler struct {
	service ports.FeedService
	tracer  trace.Tracer
}

func NewEventHandler(service ports.FeedService) *EventHandler {
	return &EventHandler{service: service, tracer: otel.Tracer("campus-feed")}
}

// Handle traite un ChangeEvent reçu sur {prefix}.{table}
func (h *EventHandler) Handle(msg *nats.Msg) {
	_ = h.process(msg)
}

func (h *EventHandler) process(msg *nats.Msg) error {
	// 1. Extraction du contexte de trace (lien avec l'écriture)
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), eventbroker.HeaderCarrier(msg.Header))

	ctx, span := h.tracer.Start(ctx, "process_change_event",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination", msg.Subject)),
	)
	defer span.End()

	var event domain.ChangeEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		slog.ErrorContext(ctx, "❌ Invalid event format", "subject", msg.Subject, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrUnknownEvent, err)
	}
	span.SetAttributes(
		attribute.String("db.table", string(event.Table)),
		attribute.String("db.operation", string(event.Operation)),
	)

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := h.service.HandleChange(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalidation failed")
		if errors.Is(err, domain.ErrUnknownEvent) {
			slog.WarnContext(ctx, "Ignoring malformed change event", "subject", msg.Subject, "error", err)
		} else {
			// Le TTL reste le filet de sécurité
			slog.ErrorContext(ctx, "❌ Invalidation failed", "table", event.Table, "op", event.Operation, "error", err)
		}
		return err
	}
	return nil
}

// Subscriber : la partie de *nats.Conn utilisée pour s'abonner
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// SubscribeAll abonne le handler aux trois tables
func (h *EventHandler) SubscribeAll(nc Subscriber, subject func(domain.Table) string) ([]*nats.Subscription, error) {
	subs := make([]*nats.Subscription, 0, len(Tables))
	for _, table := range Tables {
		sub, err := nc.Subscribe(subject(table), h.Handle)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", table, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
