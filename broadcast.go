package flowchain

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// FlowUIEvent tells subscribers that a work request's flow changed and should
// be fetched again. It carries no state of its own.
type FlowUIEvent struct {
	WorkRequestID   int64 `json:"workRequestId"`
	ActorUserID     int64 `json:"actorUserId"`
	SyncedAtEpochMs int64 `json:"syncedAtEpochMs"`
}

// FlowUITopic is the topic flow UI events for a work request are published on.
func FlowUITopic(workRequestID int64) string {
	return fmt.Sprintf("work-requests/%d/flow-ui", workRequestID)
}

// publishUpdated sends a FlowUIEvent without failing the caller. It outlives
// the request context so a client disconnect does not drop the event.
func (s *Service) publishUpdated(ctx context.Context, workRequestID, actorID int64) {
	if s.pub == nil {
		return
	}
	msg, err := json.Marshal(FlowUIEvent{
		WorkRequestID:   workRequestID,
		ActorUserID:     actorID,
		SyncedAtEpochMs: s.now().UnixMilli(),
	})
	if err != nil {
		s.metrics.broadcast("error")
		s.logger.Warn("encode flow ui event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	topic := FlowUITopic(workRequestID)
	if err := s.pub.Publish(ctx, topic, msg); err != nil {
		s.metrics.broadcast("error")
		s.logger.Warn("flow ui broadcast failed",
			zap.String("topic", topic),
			zap.Int64("actor_id", actorID),
			zap.Error(err))
		return
	}
	s.metrics.broadcast("ok")
}
