package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/logger"
)

// StreamPublisher is the part of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NotificationPublisher publishes placement events to NATS JetStream for
// consumption by the notifications service.
//
// Subject convention: <prefix>.<event_type>, e.g.
// notifications.discipline.approval_required
type NotificationPublisher struct {
	js     StreamPublisher
	prefix string
	log    *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType      string         `json:"event_type"`
	IncidentID     string         `json:"incident_id"`
	ChainID        string         `json:"chain_id,omitempty"`
	ChecklistID    string         `json:"checklist_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	RecipientRoles []string       `json:"recipient_roles,omitempty"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	IsActionable   bool           `json:"is_actionable,omitempty"`
	Severity       string         `json:"severity"`
	Category       string         `json:"category"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// NATSConfig holds connection settings.
type NATSConfig struct {
	URL            string
	StreamName     string
	SubjectPrefix  string
	ConnectionName string
}

// NewNotificationPublisher creates a publisher over an existing stream.
func NewNotificationPublisher(js StreamPublisher, prefix string, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{js: js, prefix: strings.TrimSuffix(prefix, "."), log: log.Component("notification_publisher")}
}

// ConnectNotifications dials NATS, makes sure the notification stream
// captures the subject prefix and returns a publisher plus a close func
// that drains the connection.
func ConnectNotifications(ctx context.Context, cfg NATSConfig, log *logger.Logger) (*NotificationPublisher, func(), error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{prefix + ".>"},
	}); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}

	closeFn := func() {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("NATS drain failed")
		}
	}
	return NewNotificationPublisher(js, prefix, log), closeFn, nil
}

// Publish sends one event. Callers treat failures as non-fatal.
func (p *NotificationPublisher) Publish(ctx context.Context, evt domain.Event) error {
	msg := NotificationEvent{
		EventType:      string(evt.Type),
		IncidentID:     evt.IncidentID,
		ChainID:        evt.ChainID,
		ChecklistID:    evt.ChecklistID,
		ActorID:        evt.ActorID,
		RecipientRoles: evt.RecipientRoles,
		ResourceType:   "discipline_incident",
		ResourceID:     evt.IncidentID,
		IsActionable:   evt.Type == domain.EventApprovalRequired || evt.Type == domain.EventChainReturned,
		Severity:       severity(evt.Type),
		Category:       "daep_placement",
		Payload:        evt.Payload,
		OccurredAt:     evt.OccurredAt,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}

	subject := p.prefix + "." + string(evt.Type)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("incident_id", evt.IncidentID).
		Int("recipient_roles", len(evt.RecipientRoles)).
		Msg("notification: event published")
	return nil
}

func severity(t domain.EventType) string {
	switch t {
	case domain.EventChainDenied, domain.EventComplianceOverride, domain.EventManifestationRecorded:
		return "warning"
	default:
		return "info"
	}
}

// NopPublisher drops every event. It is used when NATS_URL is unset.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, domain.Event) error { return nil }
