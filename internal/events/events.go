package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

// NATSBus публикует доменные события и команды шлагбауму в NATS
type NATSBus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNATSBus(url string, logger *zap.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("visitor-gate"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSBus{conn: conn, logger: logger}, nil
}

func (n *NATSBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	n.logger.Debug("Publishing event", zap.String("subject", subject), zap.ByteString("data", payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSBus) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// NopPublisher используется, когда NATS не настроен
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NopPublisher) Close() error                                        { return nil }

// GateChannel канал физических команд (открыть шлагбаум/калитку)
type GateChannel struct {
	publisher Publisher
}

func NewGateChannel(publisher Publisher) *GateChannel {
	return &GateChannel{publisher: publisher}
}

// OpenGate отправляет команду на открытие
func (g *GateChannel) OpenGate(ctx context.Context, cmd GateCommand) error {
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}
	return g.publisher.Publish(ctx, GateOpen, cmd)
}

// Subjects
const (
	VisitCreated         = "visit.created"
	VisitTransitioned    = "visit.transitioned"
	VisitHostChanged     = "visit.host_changed"
	VisitAccessValidated = "visit.access_validated"

	SessionStarted   = "session.started"
	SessionResponded = "session.responded"
	SessionEnded     = "session.ended"

	GateOpen = "gate.open"
)

// Event payloads
type VisitCreatedEvent struct {
	VisitID    uuid.UUID `json:"visit_id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	HostID     uuid.UUID `json:"host_id"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
	CreatedAt  time.Time `json:"created_at"`
}

type VisitTransitionedEvent struct {
	VisitID   uuid.UUID `json:"visit_id"`
	Event     string    `json:"event"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	UsedCount int       `json:"used_count"`
	At        time.Time `json:"at"`
}

type VisitHostChangedEvent struct {
	VisitID   uuid.UUID `json:"visit_id"`
	OldHostID uuid.UUID `json:"old_host_id"`
	NewHostID uuid.UUID `json:"new_host_id"`
	At        time.Time `json:"at"`
}

type AccessValidatedEvent struct {
	VisitID    *uuid.UUID `json:"visit_id,omitempty"`
	Kind       string     `json:"kind"`
	Identifier string     `json:"identifier"`
	Valid      bool       `json:"valid"`
	Message    string     `json:"message"`
	At         time.Time  `json:"at"`
}

type SessionRespondedEvent struct {
	SessionID  uuid.UUID  `json:"session_id"`
	VisitID    uuid.UUID  `json:"visit_id"`
	Approved   bool       `json:"approved"`
	ResidentID *uuid.UUID `json:"resident_id,omitempty"`
	At         time.Time  `json:"at"`
}

type SessionLifecycleEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// GateCommand команда физического доступа
type GateCommand struct {
	VisitID   uuid.UUID  `json:"visit_id"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Plate     string     `json:"plate,omitempty"`
	Reason    string     `json:"reason"`
	IssuedAt  time.Time  `json:"issued_at"`
}
