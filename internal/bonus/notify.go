package bonus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventProgress  = "bonus.progress"
	EventGranted   = "bonus.granted"
	EventCompleted = "bonus.completed"
	EventForfeited = "bonus.forfeited"
	EventExpired   = "bonus.expired"
)

// Publisher ships lifecycle events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// Metrics receives engine counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Granted(trigger string, amount float64)
	DepositPlanSkipped(reason string)
	WagerContributed(category string, amount float64)
	Released(amount float64)
	Forfeited(reason string)
	Expired()
}

type noopMetrics struct{}

func (noopMetrics) Granted(string, float64)          {}
func (noopMetrics) DepositPlanSkipped(string)        {}
func (noopMetrics) WagerContributed(string, float64) {}
func (noopMetrics) Released(float64)                 {}
func (noopMetrics) Forfeited(string)                 {}
func (noopMetrics) Expired()                         {}

type NotificationHub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan WageringUpdate
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		subscribers: make(map[string][]chan WageringUpdate),
	}
}

func (h *NotificationHub) Subscribe(playerID string) <-chan WageringUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan WageringUpdate, 10)
	h.subscribers[playerID] = append(h.subscribers[playerID], ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *NotificationHub) Unsubscribe(playerID string, sub <-chan WageringUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[playerID]
	for i, ch := range subs {
		if ch == sub {
			close(ch)
			h.subscribers[playerID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[playerID]) == 0 {
		delete(h.subscribers, playerID)
	}
}

func (h *NotificationHub) Notify(playerID string, update WageringUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[playerID] {
		select {
		case ch <- update:
		default:
			// slow subscriber, drop
		}
	}
}

// effects runs everything that happens after a commit. None of it can fail
// the operation: audit rows and events are best-effort and callers must not
// infer business state from their presence.
type effects struct {
	repo      BonusRepository
	hub       *NotificationHub
	publisher Publisher
	logger    *slog.Logger
}

func (e *effects) audit(ctx context.Context, instance *BonusInstance, action, actor string, oldValue, newValue interface{}) {
	entry := &AuditLogEntry{
		ID:         uuid.New().String(),
		PlayerID:   instance.PlayerID,
		ActionType: action,
		OldValue:   snapshot(oldValue),
		NewValue:   snapshot(newValue),
		Actor:      actor,
		CreatedAt:  time.Now(),
	}
	if instance.ID != "" {
		id := instance.ID
		entry.BonusInstanceID = &id
	}
	if err := e.repo.AppendAuditLog(ctx, entry); err != nil {
		e.logger.Warn("audit log write failed",
			"bonus_instance_id", instance.ID, "action", action, "error", err)
	}
}

func (e *effects) notify(ctx context.Context, eventType string, instance *BonusInstance, amount decimal.Decimal) {
	update := WageringUpdate{
		EventType:          eventType,
		BonusInstanceID:    instance.ID,
		PlayerID:           instance.PlayerID,
		Status:             instance.Status,
		WageringCompleted:  instance.WagerProgressAmount,
		WageringRequired:   instance.WagerRequirementAmount,
		PercentageComplete: instance.PercentComplete,
		Amount:             amount,
		Completed:          instance.Status == StatusCompleted,
		Timestamp:          time.Now(),
	}
	e.hub.Notify(instance.PlayerID, update)

	if e.publisher == nil {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		e.logger.Warn("event encoding failed", "event", eventType, "error", err)
		return
	}
	if err := e.publisher.Publish(ctx, eventType, payload, instance.PlayerID); err != nil {
		e.logger.Warn("event publish failed",
			"event", eventType, "bonus_instance_id", instance.ID, "error", err)
	}
}

func snapshot(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
