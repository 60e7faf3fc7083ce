package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/config"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/events"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
)

// NotificationSink receives engine notifications. Delivery is fire-and-forget:
// implementations log failures and never report them to the caller.
type NotificationSink interface {
	NotifyEscalation(ctx context.Context, ticketID string, level int, targets []string)
	NotifyReassignment(ctx context.Context, role domain.BackupRole, items []string, fromID, toID, reason string)
}

// NotificationService publishes engine notifications to the dispatcher and
// handles them with the configured email/webhook stubs.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	staff      repository.StaffRepository
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// WithStaff lets reassignment messages name people instead of ids.
func (n *NotificationService) WithStaff(staff repository.StaffRepository) *NotificationService {
	n.staff = staff
	return n
}

// NotifyEscalation implements NotificationSink.
func (n *NotificationService) NotifyEscalation(ctx context.Context, ticketID string, level int, targets []string) {
	n.publish(ctx, events.Event{
		Type:     events.EventEscalationFired,
		TicketID: ticketID,
		Payload: events.EscalationFiredPayload{
			Level:   level,
			Targets: append([]string(nil), targets...),
		},
	})
}

// NotifyReassignment implements NotificationSink.
func (n *NotificationService) NotifyReassignment(ctx context.Context, role domain.BackupRole, items []string, fromID, toID, reason string) {
	if len(items) == 0 {
		return
	}
	n.publish(ctx, events.Event{
		Type: events.EventItemsReassigned,
		Payload: events.ItemsReassignedPayload{
			Role:   role,
			Items:  append([]string(nil), items...),
			FromID: fromID,
			ToID:   toID,
			Reason: reason,
		},
	})
}

func (n *NotificationService) publish(ctx context.Context, event events.Event) {
	if n.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()
	if err := n.dispatcher.Publish(ctx, event); err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventEscalationFired, n.handleEscalationFired)
	n.dispatcher.Subscribe(events.EventItemsReassigned, n.handleItemsReassigned)
	n.dispatcher.Subscribe(events.EventDeadlineComputed, n.handleDeadlineComputed)
}

func (n *NotificationService) handleEscalationFired(ctx context.Context, event events.Event) error {
	n.logger.Info("EscalationFired", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleItemsReassigned(ctx context.Context, event events.Event) error {
	fields := []zap.Field{zap.Any("payload", event.Payload)}
	if payload, ok := event.Payload.(events.ItemsReassignedPayload); ok {
		fields = append(fields,
			zap.String("from", n.displayName(ctx, payload.FromID)),
			zap.String("to", n.displayName(ctx, payload.ToID)))
	}
	n.logger.Info("ItemsReassigned", fields...)
	n.sendEmailNotificationStub(ctx, event)
	return nil
}

// displayName resolves a staff name for messages. Unknown ids are shown as is.
func (n *NotificationService) displayName(ctx context.Context, id string) string {
	if n.staff == nil || id == "" {
		return id
	}
	member, err := n.staff.GetByID(ctx, id)
	if err != nil {
		return id
	}
	return member.DisplayName()
}

func (n *NotificationService) handleDeadlineComputed(ctx context.Context, event events.Event) error {
	n.logger.Debug("DeadlineComputed", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}
