package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/logging"
	"github.com/tphakala/farmdash/internal/observability/metrics"
	"github.com/tphakala/farmdash/internal/store"
)

// Topic suffixes below Config.TopicPrefix.
const (
	TopicChanges = "changes"
	TopicStats   = "stats"
)

// ChangeMessage is the payload published for every store change.
type ChangeMessage struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	ID         string    `json:"id,omitempty"`
	At         time.Time `json:"at"`
}

// StatsMessage is the retained payload published after data changes.
type StatsMessage struct {
	Diagnoses     entities.DiagnosisStats    `json:"diagnoses"`
	Treatments    entities.TreatmentStats    `json:"treatments"`
	Notifications entities.NotificationStats `json:"notifications"`
	UpdatedAt     time.Time                  `json:"updatedAt"`
}

// Publisher forwards store changes to the broker.
type Publisher struct {
	client  Client
	store   *store.Store
	prefix  string
	metrics *metrics.MQTTMetrics
	logger  *slog.Logger
}

// NewPublisher creates a Publisher. An empty prefix uses DefaultTopicPrefix.
func NewPublisher(c Client, st *store.Store, prefix string, m *metrics.MQTTMetrics) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{
		client:  c,
		store:   st,
		prefix:  prefix,
		metrics: m,
		logger:  logging.ForService("mqtt"),
	}
}

// Run publishes changes until ctx ends or the store is closed. Publish
// failures are logged and do not stop the loop.
func (p *Publisher) Run(ctx context.Context) error {
	changes, unsubscribe := p.store.Subscribe()
	defer unsubscribe()

	p.publishStats(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			p.handle(ctx, change)
		}
	}
}

// handle forwards one change. LOADING marks carry no data and are not
// published; ERROR marks are forwarded without a stats refresh.
func (p *Publisher) handle(ctx context.Context, change store.Change) {
	if change.Op == store.OpLoading {
		return
	}
	msg := ChangeMessage{
		Collection: string(change.Collection),
		Op:         string(change.Op),
		ID:         change.ID,
		At:         change.At,
	}
	p.publish(ctx, TopicChanges, msg, false)

	if affectsStats(change.Op) {
		p.publishStats(ctx)
	}
}

// affectsStats reports whether op can change the derived statistics.
func affectsStats(op store.Op) bool {
	return op != store.OpError
}

func (p *Publisher) publishStats(ctx context.Context) {
	msg := StatsMessage{
		Diagnoses:     p.store.DiagnosisStats(),
		Treatments:    p.store.TreatmentStats(),
		Notifications: p.store.NotificationStats(),
		UpdatedAt:     time.Now().UTC(),
	}
	p.publish(ctx, TopicStats, msg, true)
}

func (p *Publisher) publish(ctx context.Context, kind string, msg any, retain bool) {
	if !p.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to encode mqtt payload", "kind", kind, "error", err)
		return
	}

	topic := p.prefix + "/" + kind
	start := time.Now()
	if err := p.client.Publish(ctx, topic, payload, retain); err != nil {
		p.logger.Warn("failed to publish", "topic", topic, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.RecordPublish(kind, len(payload), time.Since(start))
	}
}
