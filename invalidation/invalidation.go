// Package invalidation tells downstream consumers that a project's config
// (and with it its sample rate) must be reloaded.
package invalidation

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"

	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/pubsub"
	"github.com/honeycombio/rebalancer/types"
)

// Topic is the pubsub topic invalidation messages are published on.
const Topic = "project_config_invalidations"

// Scheduler schedules a project config invalidation. Scheduling is fire and
// forget and invalidating the same project twice is harmless.
type Scheduler interface {
	ScheduleInvalidateProjectConfig(ctx context.Context, project types.ProjectID, trigger string) error
}

// Message is the wire form of one invalidation.
type Message struct {
	ProjectID types.ProjectID `json:"project_id"`
	Trigger   string          `json:"trigger"`
	ID        string          `json:"id"`
	// Timestamp is in unix milliseconds.
	Timestamp int64 `json:"ts"`
}

// PubSubScheduler publishes invalidations through PubSub.
type PubSubScheduler struct {
	PubSub pubsub.PubSub   `inject:""`
	Logger logger.Logger   `inject:""`
	Clock  clockwork.Clock `inject:""`
}

var _ Scheduler = (*PubSubScheduler)(nil)

func (s *PubSubScheduler) ScheduleInvalidateProjectConfig(ctx context.Context, project types.ProjectID, trigger string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating invalidation id: %w", err)
	}
	msg, err := jsoniter.MarshalToString(Message{
		ProjectID: project,
		Trigger:   trigger,
		ID:        id.String(),
		Timestamp: s.Clock.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := s.PubSub.Publish(ctx, Topic, msg); err != nil {
		return fmt.Errorf("publishing invalidation for project %d: %w", project, err)
	}
	s.Logger.Debug().WithFields(map[string]any{
		"project_id": project,
		"trigger":    trigger,
		"id":         id.String(),
	}).Logf("scheduled project config invalidation")
	return nil
}

// ParseMessage decodes a message published by PubSubScheduler.
func ParseMessage(msg string) (Message, error) {
	var m Message
	if err := jsoniter.UnmarshalFromString(msg, &m); err != nil {
		return Message{}, fmt.Errorf("invalid invalidation message: %w", err)
	}
	if m.ProjectID == 0 && m.Trigger == "" {
		return Message{}, fmt.Errorf("invalid invalidation message: missing project_id and trigger")
	}
	return m, nil
}
